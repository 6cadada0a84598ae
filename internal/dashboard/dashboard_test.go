package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/abhiyant/inspect/internal/archive"
	"github.com/abhiyant/inspect/internal/metrics"
	"github.com/abhiyant/inspect/internal/record"
	"github.com/abhiyant/inspect/internal/service"
	"github.com/abhiyant/inspect/internal/store"
	syncer "github.com/abhiyant/inspect/internal/sync"
)

// brokenArchive rejects every batch upload.
type brokenArchive struct {
	*archive.Memory
}

func (b *brokenArchive) UpsertBatch(ctx context.Context, recs []record.InspectionRecord) (int, error) {
	return 0, &record.RemoteError{Op: "upsert_batch", Err: errors.New("quota exceeded")}
}

type fixture struct {
	server  *Server
	svc     *service.Service
	metrics *metrics.Registry
	base    string
}

func openStore(t *testing.T, logger *zap.SugaredLogger) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "inspections.db"), &store.Options{Logger: logger})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func startServer(t *testing.T, remote archive.Archive) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	st := openStore(t, logger)

	if remote == nil {
		remote = archive.NewMemory(logger)
	}
	reg := metrics.New(prometheus.NewRegistry())
	coord := syncer.New(st, remote, &syncer.Options{Logger: logger, Metrics: reg})
	return serve(t, service.New(st, coord, remote, logger), reg, logger)
}

func serve(t *testing.T, svc *service.Service, reg *metrics.Registry, logger *zap.SugaredLogger) *fixture {
	t.Helper()
	server := NewServer(svc, &Config{Addr: "127.0.0.1:0", Logger: logger, Metrics: reg})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	})

	return &fixture{server: server, svc: svc, metrics: reg, base: "http://" + server.GetAddr()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() failed: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.base+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("Unmarshal(%s) failed: %v", data, err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := startServer(t, nil)

	resp, body := f.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	health := decode[map[string]any](t, body)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
}

func TestInspectionCRUD(t *testing.T) {
	f := startServer(t, nil)

	resp, body := f.do(t, http.MethodPost, "/api/inspections", map[string]any{
		"componentName":       "Shaft",
		"componentPartNumber": "ACME-100",
		"inspectorName":       "R. Iyer",
		"vernierLength":       120.25,
		"status":              "passed",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	created := decode[record.InspectionRecord](t, body)
	if created.ID <= 0 || created.Status != record.StatusPassed || created.IsSynced {
		t.Fatalf("created = %+v", created)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/inspections", map[string]any{"componentName": "Shaft"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("create without inspector status = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/inspections", map[string]any{"componentName": "A", "inspectorName": "B", "colour": "red"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("create with unknown field status = %d, want 400", resp.StatusCode)
	}

	path := fmt.Sprintf("/api/inspections/%d", created.ID)
	resp, _ = f.do(t, http.MethodGet, path, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	created.Status = record.StatusNeedsRework
	resp, body = f.do(t, http.MethodPut, path, created)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d: %s", resp.StatusCode, body)
	}
	if got := decode[record.InspectionRecord](t, body); got.Status != record.StatusNeedsRework {
		t.Errorf("updated status = %s", got.Status)
	}

	resp, _ = f.do(t, http.MethodPut, "/api/inspections/9999", created)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("update missing status = %d, want 404", resp.StatusCode)
	}

	resp, body = f.do(t, http.MethodGet, "/api/inspections?q=acme&status=NEEDS_REWORK", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if list := decode[[]record.InspectionRecord](t, body); len(list) != 1 {
		t.Errorf("list returned %d records, want 1", len(list))
	}

	resp, _ = f.do(t, http.MethodGet, "/api/inspections?status=DONE", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("list with bad status = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodDelete, path, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodDelete, path, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("second delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, path, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", resp.StatusCode)
	}

	_, body = f.do(t, http.MethodGet, "/api/inspections", nil)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("empty list body = %s, want []", body)
	}

	if n := testutil.ToFloat64(f.metrics.HTTPRequestsTotal.WithLabelValues("/api/inspections/{id}", http.MethodDelete, "204")); n != 2 {
		t.Errorf("delete request count = %v, want 2", n)
	}
}

func TestSyncEndpoint(t *testing.T) {
	f := startServer(t, nil)
	ctx := context.Background()

	resp, body := f.do(t, http.MethodPost, "/api/sync", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d", resp.StatusCode)
	}
	if st := decode[service.Status](t, body); st.Message != "All inspections are already synced" {
		t.Errorf("empty sync message = %q", st.Message)
	}

	if _, err := f.svc.Create(ctx, &record.InspectionRecord{ComponentName: "Hub", InspectorName: "K"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	_, body = f.do(t, http.MethodPost, "/api/sync", nil)
	if st := decode[service.Status](t, body); st.State != service.StateSuccess || st.Message != "Successfully synced 1 inspection(s)" {
		t.Errorf("sync status = %+v", st)
	}

	_, body = f.do(t, http.MethodGet, "/api/sync", nil)
	if st := decode[service.Status](t, body); st.State != service.StateSuccess {
		t.Errorf("GET /api/sync = %+v", st)
	}
}

func TestSyncEndpointRemoteFailure(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	f := startServer(t, &brokenArchive{Memory: archive.NewMemory(logger)})

	if _, err := f.svc.Create(context.Background(), &record.InspectionRecord{ComponentName: "Hub", InspectorName: "K"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	resp, body := f.do(t, http.MethodPost, "/api/sync", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("sync status = %d, want 502", resp.StatusCode)
	}
	if st := decode[service.Status](t, body); st.State != service.StateError {
		t.Errorf("state = %s, want error", st.State)
	}
}

func TestSyncEndpointWithoutRemote(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	st := openStore(t, logger)
	f := serve(t, service.New(st, nil, nil, logger), metrics.New(prometheus.NewRegistry()), logger)

	resp, body := f.do(t, http.MethodPost, "/api/sync", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("sync status = %d, want 503", resp.StatusCode)
	}
	if got := decode[map[string]string](t, body)["error"]; got != service.ErrNoRemote.Error() {
		t.Errorf("error = %q, want %q", got, service.ErrNoRemote.Error())
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, want MessageType) Message {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() failed waiting for %s: %v", want, err)
		}
		msg := decode[Message](t, data)
		if msg.Type == want {
			return msg
		}
	}
}

func TestWebSocketLiveQuery(t *testing.T) {
	f := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := f.svc.Create(ctx, &record.InspectionRecord{ComponentName: "Shaft", ComponentPartNumber: "ACME-1", InspectorName: "R"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	wsURL := "ws://" + f.server.GetAddr() + "/ws?q=acme"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	status := readMessage(t, ctx, conn, MessageTypeSyncStatus)
	if st := decode[service.Status](t, status.Data); st.State != service.StateIdle {
		t.Errorf("initial sync state = %s, want idle", st.State)
	}

	initial := readMessage(t, ctx, conn, MessageTypeInspections)
	if recs := decode[[]record.InspectionRecord](t, initial.Data); len(recs) != 1 {
		t.Fatalf("initial snapshot has %d records, want 1", len(recs))
	}

	if _, err := f.svc.Create(ctx, &record.InspectionRecord{ComponentName: "Gear", ComponentPartNumber: "ACME-2", InspectorName: "R"}); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	update := readMessage(t, ctx, conn, MessageTypeInspections)
	if recs := decode[[]record.InspectionRecord](t, update.Data); len(recs) != 2 {
		t.Fatalf("live snapshot has %d records, want 2", len(recs))
	}

	if count := f.server.ClientCount(); count != 1 {
		t.Errorf("ClientCount() = %d, want 1", count)
	}

	if _, err := f.svc.SyncNow(ctx); err != nil {
		t.Fatalf("SyncNow() failed: %v", err)
	}
	for {
		msg := readMessage(t, ctx, conn, MessageTypeSyncStatus)
		if st := decode[service.Status](t, msg.Data); st.State == service.StateSuccess {
			break
		}
	}
}

func TestWebSocketRejectsBadStatus(t *testing.T) {
	f := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws://"+f.server.GetAddr()+"/ws?status=DONE", nil)
	if err == nil {
		t.Fatal("Dial() succeeded, want error")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}
}
