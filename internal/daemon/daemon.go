package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/record"
	"github.com/abhiyant/inspect/internal/service"
	syncer "github.com/abhiyant/inspect/internal/sync"
)

// Service is what the daemon drives.
type Service interface {
	SyncNow(ctx context.Context) (service.Status, error)
	Create(ctx context.Context, rec *record.InspectionRecord) (int64, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a sync pass. Zero disables
	// periodic sync.
	SyncInterval time.Duration

	// InboxDir is watched for record files (.json, .yaml, .toml). Imported
	// files move to InboxDir/processed, rejected ones to InboxDir/failed.
	// Empty disables the inbox.
	InboxDir string

	// DebounceInterval is how long a file must be quiet before it is
	// imported. This lets writers finish before the file is read.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *zap.SugaredLogger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           zap.NewNop().Sugar(),
	}
}

// Daemon schedules sync passes and imports inbox files.
type Daemon struct {
	svc    Service
	config *Config
	logger *zap.SugaredLogger

	// intervalCh carries interval changes to the sync loop.
	intervalCh chan time.Duration

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a daemon with default configuration.
func New(svc Service) (*Daemon, error) {
	return NewWithConfig(svc, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(svc Service, config *Config) (*Daemon, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		svc:         svc,
		config:      config,
		logger:      config.Logger.Named("daemon"),
		intervalCh:  make(chan time.Duration, 1),
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation and blocks until ctx is cancelled or
// Stop is called.
//
// The daemon will:
// 1. Import any files already waiting in the inbox
// 2. Start watching the inbox for new files
// 3. Run a sync pass every SyncInterval
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Infow("starting daemon", "sync_interval", d.config.SyncInterval, "inbox", d.config.InboxDir)

	if d.config.InboxDir != "" {
		if err := d.prepareInbox(); err != nil {
			return err
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := watcher.Add(d.config.InboxDir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
		d.watcher = watcher

		d.importExisting()

		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(1)
	go d.syncLoop(d.config.SyncInterval)

	select {
	case <-ctx.Done():
		d.logger.Infow("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Infow("stopping daemon")
		d.cancel()
		if d.watcher != nil {
			if err := d.watcher.Close(); err != nil {
				d.logger.Warnw("error closing watcher", "error", err)
			}
		}
		d.wg.Wait()
		d.logger.Infow("daemon stopped")
	})
	return nil
}

// SetSyncInterval changes the period of background sync passes. Zero
// pauses them. It is used when the configuration file is reloaded.
func (d *Daemon) SetSyncInterval(interval time.Duration) {
	// Keep only the newest pending value.
	select {
	case <-d.intervalCh:
	default:
	}
	d.intervalCh <- interval
}

// syncLoop runs a pass on every tick.
func (d *Daemon) syncLoop(interval time.Duration) {
	defer d.wg.Done()

	var ticker *time.Ticker
	var tick <-chan time.Time
	reset := func(iv time.Duration) {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if iv > 0 {
			ticker = time.NewTicker(iv)
			tick = ticker.C
		}
	}
	reset(interval)
	defer reset(0)

	for {
		select {
		case <-d.ctx.Done():
			return

		case iv := <-d.intervalCh:
			d.logger.Infow("sync interval changed", "interval", iv)
			reset(iv)

		case <-tick:
			d.runSync()
		}
	}
}

func (d *Daemon) runSync() {
	status, err := d.svc.SyncNow(d.ctx)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		d.logger.Debugw("skipping scheduled sync, pass already running")
	case err != nil:
		d.logger.Warnw("scheduled sync failed", "error", err)
	default:
		d.logger.Infow("scheduled sync", "status", status.Message)
	}
}

// ===== Inbox =====

func (d *Daemon) processedDir() string { return filepath.Join(d.config.InboxDir, "processed") }
func (d *Daemon) failedDir() string    { return filepath.Join(d.config.InboxDir, "failed") }

func (d *Daemon) prepareInbox() error {
	for _, dir := range []string{d.config.InboxDir, d.processedDir(), d.failedDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}
	return nil
}

// importExisting queues files that arrived while the daemon was down.
func (d *Daemon) importExisting() {
	entries, err := os.ReadDir(d.config.InboxDir)
	if err != nil {
		d.logger.Warnw("failed to read inbox", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || record.FormatOf(entry.Name()) == "" {
			continue
		}
		d.queueChange(filepath.Join(d.config.InboxDir, entry.Name()))
	}
}

// watchFileEvents monitors the inbox and queues record files.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if record.FormatOf(event.Name) == "" {
				continue
			}
			d.logger.Debugw("inbox event", "op", event.Op.String(), "file", event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warnw("watcher error", "error", err)
		}
	}
}

// queueChange records the latest event time for path.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have been quiet for
// DebounceInterval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		d.importFile(path)
	}
}

// importFile creates a record from path and moves the file out of the inbox.
func (d *Daemon) importFile(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	rec, err := record.ReadFile(path)
	if err == nil {
		rec.ID = 0
		var id int64
		id, err = d.svc.Create(d.ctx, rec)
		if err == nil {
			d.logger.Infow("imported inspection", "file", filepath.Base(path), "id", id)
			d.moveTo(path, d.processedDir())
			return
		}
	}

	d.logger.Warnw("rejected inbox file", "file", filepath.Base(path), "error", err)
	d.moveTo(path, d.failedDir())
}

func (d *Daemon) moveTo(path, dir string) {
	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(path)
		base := filepath.Base(path[:len(path)-len(ext)])
		dest = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		d.logger.Warnw("failed to move inbox file", "file", path, "error", err)
	}
}
