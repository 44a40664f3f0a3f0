// Package idempotency implements the submitJob idempotency backend named
// in spec.md §4.9: a TTL-scoped key/response cache consulted before
// creating a new job. The redis-backed Store is grounded on the teacher's
// internal/realtime/bus.redisBus (dial with a timeout, ping to fail fast,
// JSON-marshalled payloads); the in-memory Store exists for tests and for
// single-process deployments that have no Redis configured, matching the
// "in-memory fallback for tests" note in SPEC_FULL.md §4.9.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Store records the previously-recorded response for an idempotency key and
// returns it while still within TTL; Put never overwrites an existing,
// unexpired key (first writer wins), which is what makes a retried
// submission with the same key return the original response rather than a
// second job's.
type Store interface {
	Get(ctx context.Context, key string) (response []byte, ok bool, err error)
	Put(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

// Memory is a process-local Store backed by a plain map, used in tests and
// when no Redis address is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	response []byte
	expires  time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.response, true, nil
}

func (m *Memory) Put(_ context.Context, key string, response []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && time.Now().Before(e.expires) {
		return nil
	}
	m.entries[key] = memEntry{response: response, expires: time.Now().Add(ttl)}
	return nil
}

// Redis is a Store backed by go-redis, used across multiple processes (or
// multiple runtimes) sharing one idempotency horizon.
type Redis struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedis(addr, prefix string) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("idempotency: redis addr required")
	}
	if prefix == "" {
		prefix = "routilux:idempotency:"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("idempotency: redis ping: %w", err)
	}
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Put uses SET NX so the first writer's response sticks for the TTL,
// matching "creates no new job" for concurrent retries of the same key.
func (r *Redis) Put(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return r.rdb.SetNX(ctx, r.prefix+key, response, ttl).Err()
}

func (r *Redis) Close() error { return r.rdb.Close() }

// Record is what gets cached for a submitJob idempotency key: enough to
// reconstruct the JobInfo the original call returned.
type Record struct {
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
	FlowID   string `json:"flow_id"`
}

func Marshal(r Record) ([]byte, error) { return json.Marshal(r) }

func Unmarshal(b []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(b, &r)
	return r, err
}
