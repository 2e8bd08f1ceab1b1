package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/authcore/internal/observability/logger"
)

type EventType string

const (
	EventUpsert EventType = "upsert"
	EventDelete EventType = "delete"
)

// Event avisa a las otras instancias que descarten su snapshot.
// No lleva la config: cada instancia relee del store compartido.
type Event struct {
	Type          EventType `json:"type"`
	ApplicationID string    `json:"application_id"`
	Origin        string    `json:"origin"`
	At            time.Time `json:"at"`
}

// Broadcaster propaga invalidaciones entre instancias.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe vuelve recién cuando la suscripción está confirmada.
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

type Subscription interface {
	Events() <-chan Event
	Close() error
}

// ─── noop ───

// Noop sirve para single-node: no hay a quién avisar.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Subscribe(context.Context) (Subscription, error) {
	return &noopSub{ch: make(chan Event)}, nil
}

func (Noop) Close() error { return nil }

type noopSub struct {
	ch   chan Event
	once sync.Once
}

func (s *noopSub) Events() <-chan Event { return s.ch }

func (s *noopSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

// ─── redis ───

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisBroadcaster usa pub/sub de Redis. Los mensajes perdidos se cubren con
// el TTL del snapshot.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	owned   bool
}

// NewRedis abre el cliente y verifica la conexión.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisBroadcaster, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("replication: redis ping failed: %w", err)
	}

	b := NewRedisWithClient(rdb, cfg.Channel)
	b.owned = true
	return b, nil
}

// NewRedisWithClient reutiliza un cliente existente (no lo cierra).
func NewRedisWithClient(rdb *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = "authcore:replication"
	}
	return &RedisBroadcaster{client: rdb, channel: channel}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("replication: subscribe: %w", err)
	}

	sub := &redisSub{ps: ps, out: make(chan Event, 16), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

func (b *RedisBroadcaster) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.L().Warn("replication: bad event payload",
				logger.Layer("replication"), logger.Err(err))
			continue
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) Events() <-chan Event { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
