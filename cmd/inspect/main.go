package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/abhiyant/inspect/internal/config"
)

var (
	cfgFile string
	verbose bool

	cfg      *config.Config
	viperCfg *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Record component inspections locally and sync them to a remote archive",
	Long: `inspect keeps quality-control inspection records in a local SQLite
database and copies them to a remote archive (Redis or MinIO) on demand.

Records are always written locally first, so inspectors can keep working
offline. Run 'inspect sync' to upload records that have not been archived
yet, or 'inspect serve' to sync on a schedule and expose the dashboard.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, viperCfg, err = config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./inspect.yaml or ~/.inspect/inspect.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "server", Title: "Server:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
