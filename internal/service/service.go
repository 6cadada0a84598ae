// Package service is the single entry point presentation code uses: record
// CRUD against the local store, live queries, and on-demand sync with its
// status reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/archive"
	"github.com/abhiyant/inspect/internal/record"
	"github.com/abhiyant/inspect/internal/store"
	syncer "github.com/abhiyant/inspect/internal/sync"
)

// DefaultRemoteTimeout bounds remote calls whose context has no deadline.
const DefaultRemoteTimeout = 30 * time.Second

// ErrNoRemote is returned by remote operations on a Service built without a
// coordinator or archive.
var ErrNoRemote = errors.New("remote archive not configured")

// Option configures a Service.
type Option func(*Service)

// WithRemoteTimeout sets the deadline applied to remote calls when the
// caller's context has none. Zero disables it.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Service) { s.remoteTimeout = d }
}

// Service composes the record store, the sync coordinator and the remote
// archive.
type Service struct {
	store  *store.Store
	coord  syncer.Coordinator
	remote archive.Archive
	logger *zap.SugaredLogger

	remoteTimeout time.Duration

	mu       sync.Mutex
	status   Status
	watchers map[chan Status]struct{}
}

// New creates a Service. logger may be nil. coord and remote may be nil for
// local-only use, in which case remote operations return ErrNoRemote.
func New(st *store.Store, coord syncer.Coordinator, remote archive.Archive, logger *zap.SugaredLogger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Service{
		store:         st,
		coord:         coord,
		remote:        remote,
		logger:        logger.Named("service"),
		remoteTimeout: DefaultRemoteTimeout,
		status:        idle(),
		watchers:      make(map[chan Status]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ===== Records =====

// ListAll subscribes to every record, newest inspection first.
func (s *Service) ListAll(ctx context.Context) (*store.Subscription, error) {
	return s.store.List(ctx)
}

// GetByID returns the record with id, or nil if it does not exist.
func (s *Service) GetByID(ctx context.Context, id int64) (*record.InspectionRecord, error) {
	return s.store.Get(ctx, id)
}

// Search subscribes to records matching q. A blank q lists everything.
func (s *Service) Search(ctx context.Context, q string) (*store.Subscription, error) {
	return s.store.Search(ctx, q)
}

// FilterByStatus subscribes to records with the named status. The name is
// parsed leniently ("needs rework" is accepted); unknown names are a
// ValidationError.
func (s *Service) FilterByStatus(ctx context.Context, status string) (*store.Subscription, error) {
	st, err := record.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return s.store.FilterByStatus(ctx, st)
}

// Watch subscribes to an arbitrary query, combining text and status.
func (s *Service) Watch(ctx context.Context, q store.Query) (*store.Subscription, error) {
	return s.store.Subscribe(ctx, q)
}

// Snapshot runs q once.
func (s *Service) Snapshot(ctx context.Context, q store.Query) ([]record.InspectionRecord, error) {
	return s.store.Query(ctx, q)
}

// Create persists a new record and returns its id.
func (s *Service) Create(ctx context.Context, rec *record.InspectionRecord) (int64, error) {
	id, err := s.store.Insert(ctx, rec)
	if err != nil {
		return 0, err
	}
	s.logger.Infow("inspection created", "id", id, "component", rec.ComponentName)
	return id, nil
}

// Update overwrites an existing record. The record becomes unsynced.
func (s *Service) Update(ctx context.Context, rec *record.InspectionRecord) error {
	if err := s.store.Update(ctx, rec); err != nil {
		return err
	}
	s.logger.Infow("inspection updated", "id", rec.ID)
	return nil
}

// Save creates rec when its id is zero and updates it otherwise. It returns
// the record's id.
func (s *Service) Save(ctx context.Context, rec *record.InspectionRecord) (int64, error) {
	if rec.ID == 0 {
		return s.Create(ctx, rec)
	}
	return rec.ID, s.Update(ctx, rec)
}

// Delete removes the local copy only. Deleting a missing id is not an error.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Infow("inspection deleted", "id", id)
	return nil
}

// ===== Remote =====

// SyncNow runs one sync pass and returns the resulting status. The status
// moves Idle -> InProgress -> Success or Error and every transition is
// published to watchers.
//
// When another pass is already running the current status is left alone and
// ErrSyncInProgress is returned.
func (s *Service) SyncNow(ctx context.Context) (Status, error) {
	if s.coord == nil {
		return s.SyncStatus(), ErrNoRemote
	}
	prev, ok := s.beginSync()
	if !ok {
		return prev, syncer.ErrSyncInProgress
	}

	ctx, cancel := s.remoteContext(ctx)
	defer cancel()

	res, err := s.coord.SyncToCloud(ctx)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		// A pass started directly on the coordinator owns the archive.
		s.setStatus(prev)
		return prev, err
	case err != nil:
		status := Status{State: StateError, Message: fmt.Sprintf(msgFailedFmt, err)}
		s.setStatus(status)
		s.logger.Warnw("sync failed", "pass", res.PassID, "synced", res.Synced, "error", err)
		return status, err
	case res.Pending == 0:
		status := Status{State: StateSuccess, Message: msgAlreadySynced}
		s.setStatus(status)
		return status, nil
	default:
		status := Status{State: StateSuccess, Message: fmt.Sprintf(msgSyncedFmt, res.Submitted)}
		s.setStatus(status)
		return status, nil
	}
}

// FetchRemote returns every record in the remote archive, newest first.
func (s *Service) FetchRemote(ctx context.Context) ([]record.InspectionRecord, error) {
	if s.remote == nil {
		return nil, ErrNoRemote
	}
	ctx, cancel := s.remoteContext(ctx)
	defer cancel()
	return s.remote.FetchAll(ctx)
}

// DeleteRemote removes the remote copy of id. The local record is untouched.
func (s *Service) DeleteRemote(ctx context.Context, id int64) error {
	if s.remote == nil {
		return ErrNoRemote
	}
	ctx, cancel := s.remoteContext(ctx)
	defer cancel()
	if err := s.remote.DeleteOne(ctx, id); err != nil {
		return err
	}
	s.logger.Infow("remote inspection deleted", "id", id)
	return nil
}

func (s *Service) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.remoteTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.remoteTimeout)
}

// ===== Sync status =====

// SyncStatus returns the current status.
func (s *Service) SyncStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ClearSyncStatus resets a finished status to Idle. An in-progress status is
// kept.
func (s *Service) ClearSyncStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State == StateInProgress {
		return
	}
	s.publishLocked(idle())
}

// WatchSyncStatus returns a channel that receives the current status and
// then every transition until ctx is done. A watcher that falls behind skips
// to the newest status.
func (s *Service) WatchSyncStatus(ctx context.Context) <-chan Status {
	ch := make(chan Status, 1)

	s.mu.Lock()
	ch <- s.status
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// beginSync moves to InProgress and returns the status it replaced. It
// reports false if a pass is already in progress.
func (s *Service) beginSync() (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.status
	if prev.State == StateInProgress {
		return prev, false
	}
	s.publishLocked(inProgress())
	return prev, true
}

func (s *Service) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(status)
}

// publishLocked stores status and offers it to every watcher, replacing any
// value the watcher has not read yet. Callers hold mu.
func (s *Service) publishLocked(status Status) {
	s.status = status
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- status
	}
}
