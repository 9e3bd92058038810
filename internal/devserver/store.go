package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seg-annotator/internal/config"
	"seg-annotator/internal/logging"
	"seg-annotator/internal/record"
)

// Store persists annotation records and segmentation results by image id.
// Missing entries are reported as a nil record or an empty URL, not errors.
type Store interface {
	GetAnnotation(ctx context.Context, imageID int64) (*record.Record, error)
	PutAnnotation(ctx context.Context, rec *record.Record) error
	NextAnnotationID(ctx context.Context) (int64, error)
	GetSegmented(ctx context.Context, imageID int64) (string, error)
	SetSegmented(ctx context.Context, imageID int64, url string) error
	Close() error
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu          sync.Mutex
	annotations map[int64]record.Record
	segmented   map[int64]string
	seq         int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		annotations: make(map[int64]record.Record),
		segmented:   make(map[int64]string),
	}
}

func (s *MemoryStore) GetAnnotation(_ context.Context, imageID int64) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.annotations[imageID]
	if !ok {
		return nil, nil
	}
	if rec.AnnotationData != nil {
		data := *rec.AnnotationData
		rec.AnnotationData = &data
	}
	return &rec, nil
}

func (s *MemoryStore) PutAnnotation(_ context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations[rec.ImageID] = *rec
	return nil
}

func (s *MemoryStore) NextAnnotationID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *MemoryStore) GetSegmented(_ context.Context, imageID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmented[imageID], nil
}

func (s *MemoryStore) SetSegmented(_ context.Context, imageID int64, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmented[imageID] = url
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// RedisStore keeps records as JSON strings with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg *config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func annotationKey(imageID int64) string { return "annotation:" + strconv.FormatInt(imageID, 10) }
func segmentedKey(imageID int64) string  { return "segmented:" + strconv.FormatInt(imageID, 10) }

func (s *RedisStore) GetAnnotation(ctx context.Context, imageID int64) (*record.Record, error) {
	data, err := s.client.Get(ctx, annotationKey(imageID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	rec, err := record.Parse(data)
	if err != nil {
		logging.Logger.Error("failed to unmarshal annotation",
			zap.Int64("image_id", imageID), zap.Error(err))
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) PutAnnotation(ctx context.Context, rec *record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, annotationKey(rec.ImageID), data, s.ttl).Err()
}

func (s *RedisStore) NextAnnotationID(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, "annotation:seq").Result()
}

func (s *RedisStore) GetSegmented(ctx context.Context, imageID int64) (string, error) {
	url, err := s.client.Get(ctx, segmentedKey(imageID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return url, err
}

func (s *RedisStore) SetSegmented(ctx context.Context, imageID int64, url string) error {
	return s.client.Set(ctx, segmentedKey(imageID), url, s.ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// NewStore builds the store named by cfg.Storage. A redis store that cannot
// be reached falls back to memory.
func NewStore(ctx context.Context, cfg *config.DevServerConfig) Store {
	if cfg.Storage != "redis" {
		return NewMemoryStore()
	}
	rs := NewRedisStore(&cfg.Redis)
	if err := rs.Ping(ctx); err != nil {
		logging.Logger.Warn("redis connection failed, using memory store",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = rs.Close()
		return NewMemoryStore()
	}
	logging.Logger.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
	return rs
}
