package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abhiyant/inspect/internal/config"
	"github.com/abhiyant/inspect/internal/daemon"
	"github.com/abhiyant/inspect/internal/dashboard"
	"github.com/abhiyant/inspect/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run background sync, the inbox watcher and the dashboard",
	Long: `Run inspect as a long-lived process.

serve starts:
  - a background sync pass every sync.interval (0 disables it)
  - an inbox watcher importing record files dropped into daemon.inbox
  - the dashboard HTTP API with a websocket live feed at /ws
  - Prometheus metrics at /metrics

Changes to sync.interval and the sync policy in the config file are picked
up without a restart.

Examples:
  inspect serve
  inspect serve --addr :9090 --interval 5m --inbox /srv/inspect/inbox`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
		}
		if cmd.Flags().Changed("inbox") {
			cfg.Daemon.Inbox, _ = cmd.Flags().GetString("inbox")
		}
		if cmd.Flags().Changed("interval") {
			cfg.Sync.Interval, _ = cmd.Flags().GetDuration("interval")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := mustOpenApp(ctx, appOptions{remote: true, metrics: true})
		defer a.Close()

		d, err := daemon.NewWithConfig(a.svc, &daemon.Config{
			SyncInterval:     cfg.Sync.Interval,
			InboxDir:         cfg.Daemon.Inbox,
			DebounceInterval: cfg.Daemon.Debounce,
			Logger:           a.logger,
		})
		if err != nil {
			a.fatalf("%v", err)
		}

		server := dashboard.NewServer(a.svc, &dashboard.Config{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Logger:         a.logger,
			Metrics:        a.metrics,
		})
		if err := server.Start(); err != nil {
			a.fatalf("failed to start dashboard: %v", err)
		}

		if viperCfg.ConfigFileUsed() != "" {
			config.Watch(viperCfg, func(next *config.Config, e fsnotify.Event) {
				a.logger.Infow("config reloaded", "file", e.Name)
				d.SetSyncInterval(next.Sync.Interval)
				a.coord.SetPolicy(next.Policy())
			}, func(err error) {
				a.logger.Warnw("ignoring invalid config change", "error", err)
			})
		}

		fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("●"), server.GetAddr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", server.GetAddr())
		fmt.Printf("   Metrics:   http://%s/metrics\n", server.GetAddr())
		if cfg.Sync.Interval > 0 {
			fmt.Printf("   Sync every %v to %s\n", cfg.Sync.Interval, cfg.Remote.Backend)
		}
		if cfg.Daemon.Inbox != "" {
			fmt.Printf("   Inbox: %s\n", cfg.Daemon.Inbox)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return d.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})

		if err := g.Wait(); err != nil && err != context.Canceled {
			a.fatalf("%v", err)
		}
		fmt.Println("\nStopped")
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "dashboard listen address")
	serveCmd.Flags().String("inbox", "", "directory to import record files from")
	serveCmd.Flags().Duration("interval", 5*time.Minute, "background sync interval (0 disables)")

	rootCmd.AddCommand(serveCmd)
}
