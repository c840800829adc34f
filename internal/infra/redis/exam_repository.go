package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"arena-engine/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ExamLoader fetches exam content from a backing store (e.g., Postgres).
type ExamLoader interface {
	LoadExam(ctx context.Context, lessonID string) (domain.ExamSession, error)
}

// ExamRepository caches whole exam documents in Redis (JSON per lesson)
// and falls back to a loader on cache miss. The engine needs the full
// document, prompts and encrypted answer blobs included, so the cache
// stores it verbatim: SET exam:{lessonID} {json} EX ttl.
type ExamRepository struct {
	client *redis.Client
	loader ExamLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewExamRepository(client *redis.Client, loader ExamLoader, ttl time.Duration) *ExamRepository {
	return &ExamRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ExamRepository) GetExam(ctx context.Context, lessonID string) (domain.ExamSession, error) {
	key := r.key(lessonID)

	if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var exam domain.ExamSession
		if err := json.Unmarshal(raw, &exam); err == nil {
			return exam, nil
		}
		// Corrupt cache entry: fall through and refill from the loader.
	}

	result, err, _ := r.sf.Do(lessonID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
			var exam domain.ExamSession
			if err := json.Unmarshal(raw, &exam); err == nil {
				return exam, nil
			}
		}

		exam, err := r.loader.LoadExam(ctx, lessonID)
		if err != nil {
			return domain.ExamSession{}, err
		}

		if raw, err := json.Marshal(exam); err == nil {
			_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		return exam, nil
	})
	if err != nil {
		return domain.ExamSession{}, err
	}
	return result.(domain.ExamSession), nil
}

func (r *ExamRepository) key(lessonID string) string {
	return "exam:" + lessonID
}

func (r *ExamRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
