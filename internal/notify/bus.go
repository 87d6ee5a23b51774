package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"onetime/matching-service/internal/logger"
)

// Bus carries events between service instances so a worker connected to
// another instance still receives them.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Start(ctx context.Context, onEvent func(Event)) error
}

type busMessage struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

type redisBus struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
	origin  string
}

// NewRedisBus publishes on channel. Messages from this instance are ignored
// on receipt because they were already delivered locally.
func NewRedisBus(rdb *redis.Client, channel string, log *logger.Logger) (Bus, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &redisBus{
		log:     log.With("component", "RedisEventBus"),
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(busMessage{Origin: b.origin, Event: ev})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) Start(ctx context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var msg busMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad bus payload", "err", err)
					continue
				}
				if msg.Origin == b.origin {
					continue
				}
				onEvent(msg.Event)
			}
		}
	}()

	return nil
}
