// Package eventbus implements the publish/subscribe fan-out behind
// streamJobEvents: so more than one adapter process can observe the same
// job's event stream. Grounded on the teacher's internal/realtime/bus
// (Bus interface, dial-timeout-then-ping-to-fail-fast Redis client,
// JSON-marshaled payloads, goroutine forwarder), generalized from one
// fixed process-wide channel (REDIS_CHANNEL) to an arbitrary channel name
// per call, since this engine fans out per job id rather than over a
// single global SSE topic.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Message is one published event: a job id-scoped channel plus an opaque
// JSON-able payload (a job status change, a stdout chunk, a history
// record).
type Message struct {
	Channel string `json:"channel"`
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// Bus is the publish/subscribe surface streamJobEvents is built on.
// Subscribe returns a channel of messages for the given channel name and
// an unsubscribe func; the channel is closed once Unsubscribe is called or
// ctx is done.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error)
	Close() error
}

// Memory is an in-process Bus: a single deployment's adapter instance
// fanning out to its own SSE clients. Safe for concurrent use.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Message]struct{}
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[chan Message]struct{})}
}

func (b *Memory) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[msg.Channel] {
		select {
		case ch <- msg:
		default:
			// Slow subscriber drops the message rather than blocking the
			// publisher; SSE heartbeats and subsequent polls fill the gap.
		}
	}
	return nil
}

func (b *Memory) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	ch := make(chan Message, 16)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan Message]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], ch)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		unsub()
	}()
	return ch, unsub, nil
}

func (b *Memory) Close() error { return nil }

// Redis fans events out through go-redis pub/sub, one Redis channel per
// eventbus channel name, so multiple adapter processes sharing one Redis
// instance observe the same job's stream.
type Redis struct {
	rdb *goredis.Client
}

// NewRedis dials addr (failing fast via a bounded ping, matching the
// teacher's redisBus constructor) rather than lazily discovering a bad
// address on first publish.
func NewRedis(addr, password string) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("eventbus: redis addr required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("eventbus: redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

func (b *Redis) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, msg.Channel, raw).Err()
}

func (b *Redis) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	sub := b.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("eventbus: redis subscribe: %w", err)
	}

	out := make(chan Message, 16)
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			_ = sub.Close()
		})
	}
	go func() {
		defer close(out)
		raw := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				unsub()
				return
			case m, ok := <-raw:
				if !ok || m == nil {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, unsub, nil
}

func (b *Redis) Close() error { return b.rdb.Close() }
