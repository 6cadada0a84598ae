// Package archive is the client for the remote copy of the inspection
// collection.
//
// The archive is a document store keyed by the decimal form of each record's
// local id. Every backend speaks the same flat document shape
// (record.ToDocument), so records written by one backend can be read back by
// any other reader of the collection.
//
// Backends:
//   - Redis: JSON documents plus a sorted-set date index, batch writes in MULTI/EXEC
//   - MinIO (or any S3 endpoint): one JSON object per record
//   - Memory: process-local, for dry runs and tests
package archive

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/record"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "inspections"

// Archive is the remote archive contract. Every transport failure is returned
// as a *record.RemoteError. A record that cannot be encoded is rejected with a
// *record.ValidationError before anything is sent.
type Archive interface {
	// UpsertOne writes rec under its key, replacing any previous document.
	// It returns the key written.
	UpsertOne(ctx context.Context, rec *record.InspectionRecord) (string, error)

	// UpsertBatch writes every record or reports failure. On failure the
	// returned count is 0 and callers must assume nothing was committed.
	UpsertBatch(ctx context.Context, recs []record.InspectionRecord) (int, error)

	// FetchAll returns every decodable document, newest inspection first.
	// Documents that fail to decode are logged and dropped.
	FetchAll(ctx context.Context) ([]record.InspectionRecord, error)

	// DeleteOne removes the document for id. A missing document is not an error.
	DeleteOne(ctx context.Context, id int64) error

	// Close releases the backend's connections.
	Close() error
}

// rawDocument is an encoded document as read from a backend.
type rawDocument struct {
	key  string
	data []byte
}

// decodeAll turns raw documents into records, dropping the malformed ones,
// and orders the result newest inspection first (ties: highest id first).
func decodeAll(logger *zap.SugaredLogger, docs []rawDocument) []record.InspectionRecord {
	records := make([]record.InspectionRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := record.UnmarshalDocument(doc.key, doc.data)
		if err != nil {
			logger.Warnw("dropping malformed remote document", "key", doc.key, "error", err)
			continue
		}
		records = append(records, *rec)
	}
	sortNewestFirst(records)
	return records
}

func sortNewestFirst(records []record.InspectionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.InspectionDate.Equal(b.InspectionDate) {
			return a.InspectionDate.After(b.InspectionDate)
		}
		return a.ID > b.ID
	})
}

func nopIfNil(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}

func collectionOrDefault(name string) string {
	if name == "" {
		return DefaultCollection
	}
	return name
}
