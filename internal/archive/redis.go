package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/record"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Collection string
}

// Redis stores each document as a JSON string at "<collection>:<id>" and keeps
// a sorted set "<collection>:by_date" scored by inspection date.
type Redis struct {
	client     *redis.Client
	collection string
	logger     *zap.SugaredLogger
}

// NewRedis connects to Redis. A failed ping is logged but not fatal; the pool
// reconnects on the next command.
func NewRedis(cfg RedisConfig, logger *zap.SugaredLogger) *Redis {
	logger = nopIfNil(logger)

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("failed to ping redis", "addr", cfg.Addr, "error", err)
	} else {
		logger.Infow("connected to redis archive", "addr", cfg.Addr, "db", cfg.DB)
	}

	return NewRedisFromClient(client, cfg.Collection, logger)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, collection string, logger *zap.SugaredLogger) *Redis {
	return &Redis{
		client:     client,
		collection: collectionOrDefault(collection),
		logger:     nopIfNil(logger),
	}
}

func (r *Redis) docKey(key string) string {
	return fmt.Sprintf("%s:%s", r.collection, key)
}

func (r *Redis) indexKey() string {
	return r.collection + ":by_date"
}

// queue adds the writes for one record to a transaction.
func (r *Redis) queue(ctx context.Context, pipe redis.Pipeliner, rec *record.InspectionRecord, data []byte) {
	pipe.Set(ctx, r.docKey(rec.Key()), data, 0)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(rec.InspectionDate.UnixMilli()),
		Member: rec.Key(),
	})
}

func (r *Redis) UpsertOne(ctx context.Context, rec *record.InspectionRecord) (string, error) {
	data, err := record.MarshalDocument(rec)
	if err != nil {
		return "", err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.queue(ctx, pipe, rec, data)
		return nil
	})
	if err != nil {
		return "", &record.RemoteError{Op: "upsert_one", Key: rec.Key(), Err: err}
	}
	return rec.Key(), nil
}

// UpsertBatch writes all records in a single MULTI/EXEC.
func (r *Redis) UpsertBatch(ctx context.Context, recs []record.InspectionRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	encoded := make([][]byte, len(recs))
	for i := range recs {
		data, err := record.MarshalDocument(&recs[i])
		if err != nil {
			return 0, err
		}
		encoded[i] = data
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range recs {
			r.queue(ctx, pipe, &recs[i], encoded[i])
		}
		return nil
	})
	if err != nil {
		return 0, &record.RemoteError{Op: "upsert_batch", Err: err}
	}

	r.logger.Debugw("upserted batch", "collection", r.collection, "count", len(recs))
	return len(recs), nil
}

func (r *Redis) FetchAll(ctx context.Context) ([]record.InspectionRecord, error) {
	keys, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, &record.RemoteError{Op: "fetch_all", Err: err}
	}
	if len(keys) == 0 {
		return []record.InspectionRecord{}, nil
	}

	docKeys := make([]string, len(keys))
	for i, key := range keys {
		docKeys[i] = r.docKey(key)
	}

	values, err := r.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, &record.RemoteError{Op: "fetch_all", Err: err}
	}

	docs := make([]rawDocument, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Indexed but the document is gone.
			continue
		}
		docs = append(docs, rawDocument{key: keys[i], data: []byte(s)})
	}
	return decodeAll(r.logger, docs), nil
}

func (r *Redis) DeleteOne(ctx context.Context, id int64) error {
	key := record.KeyOf(id)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.docKey(key))
		pipe.ZRem(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		return &record.RemoteError{Op: "delete_one", Key: key, Err: err}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
