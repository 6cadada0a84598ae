package archive

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/record"
)

// Memory is an in-process archive. Documents are kept encoded so reads go
// through the same decoder as the network backends.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	logger *zap.SugaredLogger
}

// NewMemory returns an empty in-memory archive.
func NewMemory(logger *zap.SugaredLogger) *Memory {
	return &Memory{
		docs:   make(map[string][]byte),
		logger: nopIfNil(logger),
	}
}

func (m *Memory) UpsertOne(ctx context.Context, rec *record.InspectionRecord) (string, error) {
	data, err := record.MarshalDocument(rec)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &record.RemoteError{Op: "upsert_one", Key: rec.Key(), Err: err}
	}

	m.mu.Lock()
	m.docs[rec.Key()] = data
	m.mu.Unlock()
	return rec.Key(), nil
}

func (m *Memory) UpsertBatch(ctx context.Context, recs []record.InspectionRecord) (int, error) {
	encoded := make(map[string][]byte, len(recs))
	for i := range recs {
		data, err := record.MarshalDocument(&recs[i])
		if err != nil {
			return 0, err
		}
		encoded[recs[i].Key()] = data
	}
	if err := ctx.Err(); err != nil {
		return 0, &record.RemoteError{Op: "upsert_batch", Err: err}
	}

	m.mu.Lock()
	for key, data := range encoded {
		m.docs[key] = data
	}
	m.mu.Unlock()
	return len(recs), nil
}

func (m *Memory) FetchAll(ctx context.Context) ([]record.InspectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &record.RemoteError{Op: "fetch_all", Err: err}
	}

	m.mu.RLock()
	docs := make([]rawDocument, 0, len(m.docs))
	for key, data := range m.docs {
		docs = append(docs, rawDocument{key: key, data: data})
	}
	m.mu.RUnlock()

	return decodeAll(m.logger, docs), nil
}

func (m *Memory) DeleteOne(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return &record.RemoteError{Op: "delete_one", Key: record.KeyOf(id), Err: err}
	}
	m.mu.Lock()
	delete(m.docs, record.KeyOf(id))
	m.mu.Unlock()
	return nil
}

// Put stores raw bytes under key, bypassing the encoder. It lets callers seed
// documents written by other clients of the collection.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	m.docs[key] = data
	m.mu.Unlock()
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *Memory) Close() error { return nil }
