package store

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/abhiyant/inspect/internal/record"
)

// setupStore opens a store in a temp directory with an initialized schema.
func setupStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inspections.db")
	st, err := Open(path, &Options{Logger: zaptest.NewLogger(t).Sugar()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func newRecord(component, part string, date time.Time) *record.InspectionRecord {
	return &record.InspectionRecord{
		ComponentName:       component,
		ComponentPartNumber: part,
		InspectionDate:      date,
		InspectorName:       "Inspector",
		VernierLength:       record.Float(10.5),
		Status:              record.StatusPending,
	}
}

// recv waits for the next snapshot on sub.
func recv(t *testing.T, sub *Subscription) []record.InspectionRecord {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

// expectQuiet asserts no snapshot arrives within a short window.
func expectQuiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case snap := <-sub.C():
		t.Fatalf("unexpected snapshot with %d records", len(snap))
	case <-time.After(100 * time.Millisecond):
	}
}

func ids(records []record.InspectionRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestInitSchema_Idempotent(t *testing.T) {
	st := setupStore(t)
	if err := st.InitSchema(context.Background()); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestInsertGet(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	in := newRecord("Shaft", "ACME-100", time.UnixMilli(1_700_000_000_123))
	in.IsSynced = true // ignored on insert
	in.Notes = "first article"

	id, err := st.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if id <= 0 {
		t.Fatalf("Insert() id = %d, want positive", id)
	}

	got, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	want := *in
	want.ID = id
	want.IsSynced = false
	want.Version = 1
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertDefaultsDate(t *testing.T) {
	ctx := context.Background()
	fixed := time.UnixMilli(1_650_000_000_000)
	st, err := Open(filepath.Join(t.TempDir(), "d.db"), &Options{Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	id, err := st.Insert(ctx, &record.InspectionRecord{ComponentName: "Pin", InspectorName: "A"})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	got, _ := st.Get(ctx, id)
	if !got.InspectionDate.Equal(fixed) {
		t.Errorf("InspectionDate = %v, want %v", got.InspectionDate, fixed)
	}
	if got.Status != record.StatusPending {
		t.Errorf("Status = %s, want PENDING", got.Status)
	}
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	bad := []*record.InspectionRecord{
		{InspectorName: "A"},
		{ComponentName: "Gear"},
		{ComponentName: "Gear", InspectorName: "A", Status: "SHIPPED"},
		{ID: 9, ComponentName: "Gear", InspectorName: "A"},
	}
	for _, r := range bad {
		if _, err := st.Insert(ctx, r); !record.IsValidation(err) {
			t.Errorf("Insert(%+v) error = %v, want ValidationError", r, err)
		}
	}

	count, err := st.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d after rejected inserts, want 0", count)
	}
}

func TestNonFiniteMeasurementsRejected(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	for _, v := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		rec := newRecord("Gear", "", time.Now())
		rec.MicrometerOuterDiameter = record.Float(v)
		if _, err := st.Insert(ctx, rec); !record.IsValidation(err) {
			t.Errorf("Insert(%v) error = %v, want ValidationError", v, err)
		}
	}

	id, err := st.Insert(ctx, newRecord("Gear", "", time.Now()))
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	rec, _ := st.Get(ctx, id)
	rec.VernierWidth = record.Float(math.Inf(1))
	if err := st.Update(ctx, rec); !record.IsValidation(err) {
		t.Errorf("Update() error = %v, want ValidationError", err)
	}

	if n, _ := st.UnsyncedCount(ctx); n != 1 {
		t.Errorf("UnsyncedCount() = %d, want 1", n)
	}
	got, _ := st.Get(ctx, id)
	if got.VernierWidth != nil {
		t.Errorf("VernierWidth = %v after rejected update, want nil", *got.VernierWidth)
	}
}

func TestInsertConcurrentDistinctIDs(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	const n = 50
	var wg sync.WaitGroup
	idCh := make(chan int64, n)
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := st.Insert(ctx, newRecord("Gear", "", time.Now()))
			if err != nil {
				errCh <- err
				return
			}
			idCh <- id
		}()
	}
	wg.Wait()
	close(idCh)
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent Insert() failed: %v", err)
	}
	seen := make(map[int64]bool)
	for id := range idCh {
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct ids, want %d", len(seen), n)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	id, _ := st.Insert(ctx, newRecord("Shaft", "ACME-100", time.UnixMilli(1_000_000)))
	syncedAt := time.UnixMilli(2_000_000)
	if err := st.MarkSynced(ctx, id, 1, syncedAt); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	rec, _ := st.Get(ctx, id)
	if !rec.IsSynced {
		t.Fatal("IsSynced = false after MarkSynced")
	}

	rec.Status = record.StatusPassed
	rec.VernierLength = nil
	if err := st.Update(ctx, rec); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := st.Get(ctx, id)
	if got.Status != record.StatusPassed {
		t.Errorf("Status = %s, want PASSED", got.Status)
	}
	if got.VernierLength != nil {
		t.Errorf("VernierLength = %v, want nil", *got.VernierLength)
	}
	if got.IsSynced {
		t.Error("IsSynced = true after local edit, want false")
	}
	if got.CloudSyncTimestamp == nil || !got.CloudSyncTimestamp.Equal(syncedAt) {
		t.Errorf("CloudSyncTimestamp = %v, want %v kept", got.CloudSyncTimestamp, syncedAt)
	}
}

func TestUpdateNotFound(t *testing.T) {
	st := setupStore(t)
	rec := newRecord("Gear", "", time.Now())
	rec.ID = 404
	if err := st.Update(context.Background(), rec); !record.IsNotFound(err) {
		t.Errorf("Update() error = %v, want NotFoundError", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	id, _ := st.Insert(ctx, newRecord("Gear", "", time.Now()))
	for i := 0; i < 2; i++ {
		if err := st.Delete(ctx, id); err != nil {
			t.Fatalf("Delete() #%d failed: %v", i+1, err)
		}
	}
	if err := st.Delete(ctx, 999); err != nil {
		t.Errorf("Delete(missing) failed: %v", err)
	}
	if got, _ := st.Get(ctx, id); got != nil {
		t.Errorf("Get() after delete = %+v, want nil", got)
	}
}

func TestMarkSyncedStaleVersion(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	id, _ := st.Insert(ctx, newRecord("Shaft", "", time.UnixMilli(1_000_000)))
	uploaded, _ := st.Get(ctx, id)
	if uploaded.Version != 1 {
		t.Fatalf("Version = %d after insert, want 1", uploaded.Version)
	}

	edited := *uploaded
	edited.Notes = "edited after read"
	if err := st.Update(ctx, &edited); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	err := st.MarkSynced(ctx, id, uploaded.Version, time.Now())
	if !record.IsChanged(err) {
		t.Fatalf("MarkSynced(old version) error = %v, want ChangedError", err)
	}
	got, _ := st.Get(ctx, id)
	if got.IsSynced {
		t.Error("IsSynced = true after stale MarkSynced, want false")
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	if err := st.MarkSynced(ctx, id, got.Version, time.Now()); err != nil {
		t.Fatalf("MarkSynced(current version) failed: %v", err)
	}
	if got, _ := st.Get(ctx, id); !got.IsSynced {
		t.Error("IsSynced = false after MarkSynced with current version")
	}
}

func TestInitSchema_AddsVersionColumn(t *testing.T) {
	ctx := context.Background()
	st, err := Open(filepath.Join(t.TempDir(), "old.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer st.Close()

	old := `
	CREATE TABLE inspections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		component_name TEXT NOT NULL,
		component_part_number TEXT,
		inspection_date INTEGER NOT NULL,
		inspector_name TEXT NOT NULL,
		batch_number TEXT,
		serial_number TEXT,
		vernier_length REAL,
		vernier_width REAL,
		vernier_height REAL,
		vernier_diameter REAL,
		micrometer_thickness REAL,
		micrometer_outer_diameter REAL,
		micrometer_inner_diameter REAL,
		height_master_measurement REAL,
		additional_measurements TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		is_synced INTEGER NOT NULL DEFAULT 0,
		cloud_sync_timestamp INTEGER,
		notes TEXT,
		remarks TEXT
	);
	INSERT INTO inspections (component_name, inspection_date, inspector_name) VALUES ('Gear', 1000, 'A');
	`
	if _, err := st.conn.ExecContext(ctx, old); err != nil {
		t.Fatalf("creating old schema failed: %v", err)
	}

	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	got, err := st.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got == nil || got.Version != 1 {
		t.Fatalf("Get() = %+v, want existing row at version 1", got)
	}
}

func TestMarkSyncedNotFound(t *testing.T) {
	st := setupStore(t)
	if err := st.MarkSynced(context.Background(), 12, 1, time.Now()); !record.IsNotFound(err) {
		t.Errorf("MarkSynced() error = %v, want NotFoundError", err)
	}
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	base := time.UnixMilli(1_700_000_000_000)
	a, _ := st.Insert(ctx, newRecord("Shaft", "ACME-100", base))
	b, _ := st.Insert(ctx, newRecord("Gear", "ACME-100-B", base.Add(time.Hour)))
	c, _ := st.Insert(ctx, newRecord("acme-1001 bracket", "", base.Add(-time.Hour)))
	_, _ = st.Insert(ctx, newRecord("Bushing", "XYZ-9", base.Add(2*time.Hour)))
	pct, _ := st.Insert(ctx, newRecord("Shim 5%", "", base))

	passed, _ := st.Get(ctx, a)
	passed.Status = record.StatusPassed
	if err := st.Update(ctx, passed); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	tests := []struct {
		name string
		q    Query
		want []int64
	}{
		{"search", Search("ACME-100"), []int64{b, a, c}},
		{"case insensitive", Search("acme-100-b"), []int64{b}},
		{"literal percent", Search("5%"), []int64{pct}},
		{"literal underscore", Search("_"), nil},
		{"status", ByStatus(record.StatusPassed), []int64{a}},
		{"status and text", Query{Text: "acme", Status: record.StatusPending}, []int64{b, c}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.Query(ctx, tt.q)
			if err != nil {
				t.Fatalf("Query() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got), cmpEmpty); diff != "" {
				t.Errorf("Query() ids mismatch (-want +got):\n%s", diff)
			}
		})
	}

	all, _ := st.Query(ctx, All())
	if len(all) != 5 {
		t.Errorf("All() returned %d records, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].InspectionDate.After(all[i-1].InspectionDate) {
			t.Errorf("All() not ordered newest first at index %d", i)
		}
	}
}

// cmpEmpty treats nil and empty slices as equal.
var cmpEmpty = cmp.Comparer(func(x, y []int64) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
})

func TestListUnsynced(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	a, _ := st.Insert(ctx, newRecord("A", "", time.UnixMilli(1000)))
	b, _ := st.Insert(ctx, newRecord("B", "", time.UnixMilli(2000)))
	if err := st.MarkSynced(ctx, a, 1, time.Now()); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	got, err := st.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced() failed: %v", err)
	}
	if diff := cmp.Diff([]int64{b}, ids(got)); diff != "" {
		t.Errorf("ListUnsynced() mismatch (-want +got):\n%s", diff)
	}

	n, _ := st.UnsyncedCount(ctx)
	if n != 1 {
		t.Errorf("UnsyncedCount() = %d, want 1", n)
	}
}

func TestSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := setupStore(t)

	existing, _ := st.Insert(ctx, newRecord("Shaft", "ACME-100", time.UnixMilli(1000)))

	sub, err := st.Subscribe(ctx, Search("ACME"))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	if got := ids(recv(t, sub)); !cmp.Equal(got, []int64{existing}) {
		t.Errorf("initial snapshot = %v, want [%d]", got, existing)
	}

	// Matching insert produces a new snapshot.
	added, _ := st.Insert(ctx, newRecord("Gear", "ACME-200", time.UnixMilli(2000)))
	if got := ids(recv(t, sub)); !cmp.Equal(got, []int64{added, existing}) {
		t.Errorf("after insert = %v, want [%d %d]", got, added, existing)
	}

	// A write that cannot affect the result set is not delivered.
	_, _ = st.Insert(ctx, newRecord("Bushing", "XYZ-1", time.UnixMilli(3000)))
	expectQuiet(t, sub)

	// An update moving a record out of the result set is delivered.
	rec, _ := st.Get(ctx, added)
	rec.ComponentPartNumber = "OTHER"
	if err := st.Update(ctx, rec); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if got := ids(recv(t, sub)); !cmp.Equal(got, []int64{existing}) {
		t.Errorf("after update = %v, want [%d]", got, existing)
	}

	if err := st.Delete(ctx, existing); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if got := recv(t, sub); len(got) != 0 {
		t.Errorf("after delete = %v, want empty", ids(got))
	}

	cancel()
	select {
	case _, ok := <-sub.C():
		if ok {
			// Drain at most one in-flight value, then expect close.
			if _, ok := <-sub.C(); ok {
				t.Error("channel still open after context cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Error("channel not closed after context cancel")
	}
}

func TestSubscribeNoLoss(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)

	sub, err := st.Subscribe(ctx, All())
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer sub.Close()

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := st.Insert(ctx, newRecord("Gear", "", time.UnixMilli(int64(i+1)*1000))); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	// Reader starts late: every snapshot is still delivered, in commit order.
	for i := 0; i <= n; i++ {
		if got := recv(t, sub); len(got) != i {
			t.Fatalf("snapshot %d has %d records, want %d", i, len(got), i)
		}
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	sub, err := st.Subscribe(context.Background(), All())
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel not closed by Store.Close")
		}
	}
}
