package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"aidantsconnect/internal/broker"
	"aidantsconnect/internal/platform/metrics"
	"aidantsconnect/pkg/platform/sentinel"
)

const (
	connKeyPrefix  = "conn:id:"
	stateKeyPrefix = "conn:state:"
	codeKeyPrefix  = "conn:code:"
	tokenKeyPrefix = "conn:token:"
)

// minTTL keeps index keys alive long enough for the service to read a just
// expired connection and answer with the expiry error instead of not-found.
const minTTL = time.Minute

// RedisStore persists connections in redis with a TTL derived from the
// connection expiry. Lookups go through small index keys pointing at the
// JSON record.
type RedisStore struct {
	client  *redis.Client
	metrics *metrics.Metrics
}

type RedisOption func(*RedisStore)

func WithMetrics(m *metrics.Metrics) RedisOption {
	return func(s *RedisStore) { s.metrics = m }
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ConnectionStoreOps.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// Save writes the record and its lookup indexes in one pipeline.
func (s *RedisStore) Save(ctx context.Context, conn *broker.Connection) error {
	defer s.observe("save", time.Now())

	payload, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}

	ttl := time.Until(conn.ExpiresOn) + minTTL
	if ttl < minTTL {
		ttl = minTTL
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, connKeyPrefix+conn.ID.String(), payload, ttl)
	pipe.Set(ctx, stateKeyPrefix+conn.State, conn.ID.String(), ttl)
	if conn.Code != "" {
		pipe.Set(ctx, codeKeyPrefix+conn.Code, conn.ID.String(), ttl)
	}
	if conn.AccessToken != "" {
		pipe.Set(ctx, tokenKeyPrefix+conn.AccessToken, conn.ID.String(), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

func (s *RedisStore) ByState(ctx context.Context, state string) (*broker.Connection, error) {
	return s.lookup(ctx, stateKeyPrefix+state, "state")
}

func (s *RedisStore) ByCode(ctx context.Context, code string) (*broker.Connection, error) {
	return s.lookup(ctx, codeKeyPrefix+code, "code")
}

func (s *RedisStore) ByAccessToken(ctx context.Context, token string) (*broker.Connection, error) {
	return s.lookup(ctx, tokenKeyPrefix+token, "access token")
}

func (s *RedisStore) lookup(ctx context.Context, indexKey, kind string) (*broker.Connection, error) {
	defer s.observe("lookup", time.Now())

	id, err := s.client.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("connection by %s: %w", kind, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("connection by %s: %w", kind, err)
	}

	payload, err := s.client.Get(ctx, connKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("connection by %s: %w", kind, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("load connection: %w", err)
	}

	var conn broker.Connection
	if err := json.Unmarshal(payload, &conn); err != nil {
		return nil, fmt.Errorf("unmarshal connection: %w", err)
	}
	return &conn, nil
}
