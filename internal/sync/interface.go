package sync

import (
	"context"
	"errors"
	"time"

	"github.com/abhiyant/inspect/internal/record"
)

// ErrSyncInProgress is returned when SyncToCloud is called while another pass
// is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Coordinator runs sync passes from the local store to the remote archive.
//
// A pass reads every unsynced record, upserts them remotely and, for each
// record the archive accepted, records the sync in the local store. Records
// are never marked synced unless their upload succeeded.
//
// Only one pass runs at a time. A concurrent call fails fast with
// ErrSyncInProgress instead of uploading the same records twice.
type Coordinator interface {
	// SyncToCloud performs one pass.
	//
	// Returns a zero Result and nil when nothing is pending; the remote
	// archive is not contacted in that case.
	//
	// On a remote failure the error wraps a *record.RemoteError. With the
	// default policy the whole pass is one batch, so a failure means no
	// record was marked synced. With chunking, Result reports the chunks
	// committed before the failure.
	//
	// Example:
	//   res, err := coord.SyncToCloud(ctx)
	//   fmt.Printf("synced %d\n", res.Synced)
	SyncToCloud(ctx context.Context) (Result, error)

	// Policy returns the active policy.
	Policy() Policy

	// SetPolicy replaces the policy used by subsequent passes. A running
	// pass keeps the policy it started with.
	SetPolicy(p Policy)
}

// LocalStore is the slice of the record store a pass needs.
type LocalStore interface {
	ListUnsynced(ctx context.Context) ([]record.InspectionRecord, error)
	MarkSynced(ctx context.Context, id, version int64, ts time.Time) error
}

// Result summarizes one pass.
type Result struct {
	// PassID identifies the pass in logs. Empty when nothing was pending.
	PassID string

	// Pending is the number of unsynced records found at the start.
	Pending int

	// Submitted is the number of records the archive accepted.
	Submitted int

	// Synced is the number of records marked synced locally. It can be lower
	// than Submitted when records are deleted or edited during the pass.
	Synced int

	// Changed is the number of submitted records edited during the pass.
	// They stay unsynced for the next pass.
	Changed int

	// Chunks is the number of batches committed.
	Chunks int

	Duration time.Duration
}

// Policy tunes how a pass talks to the archive. The zero Policy sends every
// pending record in one batch with no retry and no rate limit.
type Policy struct {
	// BatchSize splits a pass into chunks of at most this many records.
	// Zero or negative means a single batch.
	BatchSize int

	// MaxRetries is how often a failing chunk is retried before the pass
	// gives up.
	MaxRetries int

	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration

	// RateLimit caps remote calls per second. Zero means unlimited.
	RateLimit float64
}

// DefaultPolicy returns the single-batch, no-retry policy.
func DefaultPolicy() Policy {
	return Policy{}
}
