package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/petal-labs/arbor/runtime"
)

// RedisEventStore keeps each run's events in a sorted set scored by Seq, so
// replay after a cursor is a single range query. Run ids are tracked in a
// set for listing.
type RedisEventStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisEventStore.
type RedisOption func(*RedisEventStore)

// WithRedisTTL expires a run's events ttl after its last append.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisEventStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix sets the key prefix (default "arbor:events:").
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisEventStore) {
		s.prefix = prefix
	}
}

// NewRedisEventStore connects to the Redis server at address.
func NewRedisEventStore(address, password string, db int, opts ...RedisOption) *RedisEventStore {
	return NewRedisEventStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisEventStoreFromClient wraps an existing client.
func NewRedisEventStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisEventStore {
	s := &RedisEventStore{
		client: client,
		prefix: "arbor:events:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisEventStore) key(runID string) string {
	return s.prefix + "run:" + runID
}

func (s *RedisEventStore) indexKey() string {
	return s.prefix + "runs"
}

// Append stores an event.
func (s *RedisEventStore) Append(ctx context.Context, event runtime.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redisstore: marshal event: %w", err)
	}

	score := strconv.FormatUint(event.Seq, 10)
	taken, err := s.client.ZCount(ctx, s.key(event.RunID), score, score).Result()
	if err != nil {
		return fmt.Errorf("redisstore: check seq: %w", err)
	}
	if taken > 0 {
		return fmt.Errorf("redisstore: run %s seq %d: %w", event.RunID, event.Seq, ErrDuplicateEvent)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.key(event.RunID), backend.Z{
		Score:  float64(event.Seq),
		Member: data,
	})
	pipe.SAdd(ctx, s.indexKey(), event.RunID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(event.RunID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: append: %w", err)
	}
	return nil
}

// List returns events for a run with Seq > afterSeq, at most limit of them.
func (s *RedisEventStore) List(ctx context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error) {
	rng := &backend.ZRangeBy{
		Min: "(" + strconv.FormatUint(afterSeq, 10),
		Max: "+inf",
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	members, err := s.client.ZRangeByScore(ctx, s.key(runID), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list: %w", err)
	}

	events := make([]runtime.Event, 0, len(members))
	for _, m := range members {
		var e runtime.Event
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, fmt.Errorf("redisstore: unmarshal event: %w", err)
		}
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		events = append(events, e)
	}
	return events, nil
}

// LatestSeq returns the highest Seq for a run (0 if no events).
func (s *RedisEventStore) LatestSeq(ctx context.Context, runID string) (uint64, error) {
	top, err := s.client.ZRevRangeWithScores(ctx, s.key(runID), 0, 0).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redisstore: latest seq: %w", err)
	}
	if len(top) == 0 {
		return 0, nil
	}
	return uint64(top[0].Score), nil
}

// RunIDs returns the ids of runs that still have events, sorted. Runs whose
// events expired are dropped from the index.
func (s *RedisEventStore) RunIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: run ids: %w", err)
	}

	live := ids[:0]
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: run ids: %w", err)
		}
		if n == 0 {
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		live = append(live, id)
	}
	sort.Strings(live)
	return live, nil
}

// Close closes the redis client.
func (s *RedisEventStore) Close() error {
	return s.client.Close()
}

// Compile-time interface check.
var _ EventStore = (*RedisEventStore)(nil)
