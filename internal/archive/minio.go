package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/record"
)

// MinIOConfig configures the S3-compatible object store backend.
type MinIOConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	Collection string
}

// MinIO stores each document as the object "<collection>/<id>.json".
//
// Object stores cannot commit several objects atomically, so UpsertBatch
// writes in order and reports the whole batch as failed on the first error.
// Objects written before the failure stay in place; re-uploading them on the
// next pass is harmless because upserts are keyed by id.
type MinIO struct {
	client     *minio.Client
	bucket     string
	collection string
	logger     *zap.SugaredLogger
}

// NewMinIO creates the client and makes sure the bucket exists.
func NewMinIO(ctx context.Context, cfg MinIOConfig, logger *zap.SugaredLogger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	m := &MinIO{
		client:     client,
		bucket:     cfg.Bucket,
		collection: collectionOrDefault(cfg.Collection),
		logger:     nopIfNil(logger),
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, &record.RemoteError{Op: "bucket_exists", Key: cfg.Bucket, Err: err}
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, &record.RemoteError{Op: "make_bucket", Key: cfg.Bucket, Err: err}
		}
		m.logger.Infow("created archive bucket", "bucket", cfg.Bucket)
	}

	return m, nil
}

func (m *MinIO) objectName(key string) string {
	return fmt.Sprintf("%s/%s.json", m.collection, key)
}

func (m *MinIO) put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.objectName(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (m *MinIO) UpsertOne(ctx context.Context, rec *record.InspectionRecord) (string, error) {
	data, err := record.MarshalDocument(rec)
	if err != nil {
		return "", err
	}
	if err := m.put(ctx, rec.Key(), data); err != nil {
		return "", &record.RemoteError{Op: "upsert_one", Key: rec.Key(), Err: err}
	}
	return rec.Key(), nil
}

// UpsertBatch encodes every record before writing any, then writes one object
// per record.
func (m *MinIO) UpsertBatch(ctx context.Context, recs []record.InspectionRecord) (int, error) {
	encoded := make([][]byte, len(recs))
	for i := range recs {
		data, err := record.MarshalDocument(&recs[i])
		if err != nil {
			return 0, err
		}
		encoded[i] = data
	}
	for i := range recs {
		if err := m.put(ctx, recs[i].Key(), encoded[i]); err != nil {
			m.logger.Warnw("batch upload stopped", "key", recs[i].Key(), "written", i, "error", err)
			return 0, &record.RemoteError{Op: "upsert_batch", Key: recs[i].Key(), Err: err}
		}
	}
	return len(recs), nil
}

func (m *MinIO) FetchAll(ctx context.Context) ([]record.InspectionRecord, error) {
	prefix := m.collection + "/"

	var docs []rawDocument
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, &record.RemoteError{Op: "fetch_all", Err: obj.Err}
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}

		data, err := m.read(ctx, obj.Key)
		if err != nil {
			return nil, &record.RemoteError{Op: "fetch_all", Key: obj.Key, Err: err}
		}
		key := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), ".json")
		docs = append(docs, rawDocument{key: key, data: data})
	}

	return decodeAll(m.logger, docs), nil
}

func (m *MinIO) read(ctx context.Context, name string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()
	return io.ReadAll(object)
}

// DeleteOne removes the object for id. S3 treats deleting a missing object as
// success.
func (m *MinIO) DeleteOne(ctx context.Context, id int64) error {
	key := record.KeyOf(id)
	if err := m.client.RemoveObject(ctx, m.bucket, m.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return &record.RemoteError{Op: "delete_one", Key: key, Err: err}
	}
	return nil
}

// Close is a no-op; the minio client holds no long-lived connections of its own.
func (m *MinIO) Close() error { return nil }
