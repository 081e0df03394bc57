package flowstate

import (
	"context"
	"strconv"
	"sync"
	"time"

	"agent-engine/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

// Key scopes a flag set to one conversation of one company.
type Key struct {
	CompanyID      string
	ConversationID string
}

func (k Key) Valid() bool {
	return k.CompanyID != "" && k.ConversationID != ""
}

// Store persists conversation flag sets. A conversation with no state reads
// as an empty set.
type Store interface {
	Get(ctx context.Context, key Key) (FlagSet, error)
	Apply(ctx context.Context, key Key, name string, value bool) (FlagSet, error)
	Clear(ctx context.Context, key Key) error
}

// MemoryStore keeps flag sets in process.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[Key]FlagSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[Key]FlagSet)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (FlagSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sets[key], nil
}

func (m *MemoryStore) Apply(_ context.Context, key Key, name string, value bool) (FlagSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.sets[key].Apply(name, value)
	m.sets[key] = next
	return next, nil
}

func (m *MemoryStore) Clear(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, key)
	return nil
}

// RedisStore keeps one hash per conversation. Each Apply is a single HSET,
// so concurrent writers to different flags never clobber each other.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: "agent:flow:"}
}

// key length-prefixes the company id so ids containing ':' cannot collide.
func (r *RedisStore) key(k Key) string {
	return r.prefix + strconv.Itoa(len(k.CompanyID)) + ":" + k.CompanyID + ":" + k.ConversationID
}

func (r *RedisStore) Get(ctx context.Context, key Key) (FlagSet, error) {
	vals, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return FlagSet{}, errors.NewFlowStateFailedError(err)
	}
	return decodeHash(vals), nil
}

func (r *RedisStore) Apply(ctx context.Context, key Key, name string, value bool) (FlagSet, error) {
	k := r.key(key)
	var all *redis.MapStringStringCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, name, strconv.FormatBool(value))
		if r.ttl > 0 {
			p.PExpire(ctx, k, r.ttl)
		}
		all = p.HGetAll(ctx, k)
		return nil
	})
	if err != nil {
		return FlagSet{}, errors.NewFlowStateFailedError(err)
	}
	return decodeHash(all.Val()), nil
}

func (r *RedisStore) Clear(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.NewFlowStateFailedError(err)
	}
	return nil
}

func decodeHash(vals map[string]string) FlagSet {
	if len(vals) == 0 {
		return FlagSet{}
	}
	m := make(map[string]bool, len(vals))
	for k, v := range vals {
		b, err := strconv.ParseBool(v)
		if err != nil {
			continue
		}
		m[k] = b
	}
	return FlagSet{flags: m}
}
