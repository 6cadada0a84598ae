// Package daemon runs the background work of a long-lived inspect process.
//
// # Architecture
//
// The daemon has two independent loops:
//
//   - Sync loop: calls Service.SyncNow every SyncInterval. The interval can be
//     changed at runtime with SetSyncInterval (the serve command wires this
//     to configuration reloads). A pass that is already running is skipped.
//   - Inbox import: watches InboxDir with fsnotify. Record files written
//     there by gauges or other tools are debounced, decoded (JSON, YAML or
//     TOML by extension), created through Service.Create and moved to
//     processed/ or failed/.
//
// # Usage
//
//	cfg := daemon.DefaultConfig()
//	cfg.SyncInterval = time.Minute
//	cfg.InboxDir = "/srv/inspect/inbox"
//	cfg.Logger = logger
//
//	d, err := daemon.NewWithConfig(svc, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := d.Start(ctx); err != nil { // blocks until ctx is done
//	    return err
//	}
//
// # Graceful Shutdown
//
// Cancelling the context passed to Start, or calling Stop, stops both loops,
// closes the watcher and waits for in-flight work. Files still in the
// debounce queue stay in the inbox and are picked up on the next start.
package daemon
