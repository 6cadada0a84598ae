package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/abhiyant/inspect/internal/record"
	"github.com/abhiyant/inspect/internal/service"
)

// fakeService counts sync passes and collects created records.
type fakeService struct {
	mu      sync.Mutex
	syncs   int
	created []*record.InspectionRecord
}

func (f *fakeService) SyncNow(ctx context.Context) (service.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return service.Status{State: service.StateSuccess}, nil
}

func (f *fakeService) Create(ctx context.Context, rec *record.InspectionRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, rec)
	return int64(len(f.created)), nil
}

func (f *fakeService) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

func (f *fakeService) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startDaemon(t *testing.T, svc Service, cfg *Config) *Daemon {
	t.Helper()
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	d, err := NewWithConfig(svc, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return d
}

func TestNew(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) succeeded, want error")
	}
	d, err := NewWithConfig(&fakeService{}, &Config{})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if d.config.DebounceInterval <= 0 {
		t.Error("DebounceInterval not defaulted")
	}
}

func TestPeriodicSync(t *testing.T) {
	svc := &fakeService{}
	startDaemon(t, svc, &Config{SyncInterval: 20 * time.Millisecond})

	eventually(t, "two sync passes", func() bool { return svc.syncCount() >= 2 })
}

func TestSetSyncInterval(t *testing.T) {
	svc := &fakeService{}
	d := startDaemon(t, svc, &Config{SyncInterval: 0})

	time.Sleep(60 * time.Millisecond)
	if n := svc.syncCount(); n != 0 {
		t.Fatalf("sync ran %d times with interval 0", n)
	}

	d.SetSyncInterval(20 * time.Millisecond)
	eventually(t, "sync after interval change", func() bool { return svc.syncCount() >= 1 })

	d.SetSyncInterval(0)
	time.Sleep(50 * time.Millisecond) // let an in-flight tick land
	before := svc.syncCount()
	time.Sleep(80 * time.Millisecond)
	if after := svc.syncCount(); after != before {
		t.Errorf("sync kept running after pause: %d -> %d", before, after)
	}
}

func TestInboxImport(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	if err := os.MkdirAll(inbox, 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}

	// Present before start.
	early := filepath.Join(inbox, "early.yaml")
	if err := os.WriteFile(early, []byte("componentName: Hub\ninspectorName: K\n"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	svc := &fakeService{}
	startDaemon(t, svc, &Config{InboxDir: inbox, DebounceInterval: 20 * time.Millisecond})

	eventually(t, "early file import", func() bool { return svc.createdCount() == 1 })

	good := filepath.Join(inbox, "gauge-01.json")
	if err := os.WriteFile(good, []byte(`{"componentName":"Shaft","inspectorName":"R","vernierLength":12.5}`), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	bad := filepath.Join(inbox, "gauge-02.json")
	if err := os.WriteFile(bad, []byte(`{"componentName":"Shaft"}`), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	infinite := filepath.Join(inbox, "gauge-03.yaml")
	if err := os.WriteFile(infinite, []byte("componentName: Pin\ninspectorName: K\nvernierLength: .inf\n"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	ignored := filepath.Join(inbox, "notes.txt")
	if err := os.WriteFile(ignored, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	eventually(t, "good file import", func() bool { return svc.createdCount() == 2 })
	eventually(t, "files moved", func() bool {
		_, errProcessed := os.Stat(filepath.Join(inbox, "processed", "gauge-01.json"))
		_, errFailed := os.Stat(filepath.Join(inbox, "failed", "gauge-02.json"))
		_, errInfinite := os.Stat(filepath.Join(inbox, "failed", "gauge-03.yaml"))
		return errProcessed == nil && errFailed == nil && errInfinite == nil
	})
	if n := svc.createdCount(); n != 2 {
		t.Errorf("created %d records, want 2", n)
	}

	if _, err := os.Stat(ignored); err != nil {
		t.Errorf("non-record file was touched: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inbox, "processed", "early.yaml")); err != nil {
		t.Errorf("early file not moved to processed: %v", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	d, err := NewWithConfig(&fakeService{}, &Config{})
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("first Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}
