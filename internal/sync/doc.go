// Package sync uploads locally created or edited inspection records to the
// remote archive and marks them synced.
//
// # Overview
//
// Records are always written to the local store first and carry an IsSynced
// flag. Any local edit clears the flag. A sync pass moves the unsynced set to
// the remote archive and sets the flag again for each record that was
// accepted:
//
//	Local store (SQLite)
//	     └── is_synced = 0 rows   → ListUnsynced
//	                                    ↓
//	                               Coordinator
//	                                    ↓  UpsertBatch (one or more chunks)
//	                               Remote archive (Redis / MinIO)
//	                                    ↓  success
//	                               MarkSynced(id, version, now) per record
//
// # Failure semantics
//
// With the default policy a pass is a single batch. If the archive rejects it
// nothing is marked synced and the same records are offered again on the next
// pass. Upserts are keyed by id, so re-sending a record is harmless.
//
// With Policy.BatchSize set, each chunk is uploaded and marked before the next
// one starts. A failing chunk stops the pass; earlier chunks stay committed
// and Result reports them.
//
// A record deleted locally while its upload is in flight is skipped when it
// is marked. Its remote copy remains. A record edited while its upload is in
// flight has a newer version than the one uploaded, so it is not marked and
// the next pass sends the edit.
//
// # Concurrency
//
// Passes are serialized by a weighted semaphore of size one. A second caller
// gets ErrSyncInProgress immediately rather than waiting.
//
// Usage
//
//	st, err := store.Open("inspections.db", nil)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	remote := archive.NewRedis(archive.RedisConfig{Addr: "localhost:6379"}, logger)
//	coord := sync.New(st, remote, &sync.Options{
//	    Policy: sync.Policy{BatchSize: 100, MaxRetries: 2, RetryBackoff: time.Second},
//	    Logger: logger,
//	})
//
//	res, err := coord.SyncToCloud(ctx)
//	if errors.Is(err, sync.ErrSyncInProgress) {
//	    // another pass is running
//	}
package sync
