package emit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisEmitter publishes events to a Redis pub/sub channel named after the
// room, giving the in-process Broker cross-process reach: a second process
// subscribing to the same room via RedisSubscriber observes the same
// stream a single-process Broker would deliver locally. Grounded in
// jordigilh-kubernaut's go.mod pull of github.com/redis/go-redis/v9 (the
// teacher itself has no pub/sub backend; this is a pack-wide dependency
// wired in per the DOMAIN STACK expansion).
type RedisEmitter struct {
	client *redis.Client
}

func NewRedisEmitter(client *redis.Client) *RedisEmitter {
	return &RedisEmitter{client: client}
}

func (r *RedisEmitter) Emit(ctx context.Context, room, eventType string, payload map[string]interface{}) error {
	ev := Event{Room: room, Type: eventType, Payload: payload}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("emit: marshal redis event: %w", err)
	}
	return r.client.Publish(ctx, "flowruntime:"+room, b).Err()
}

// RedisSubscriber relays a Redis-published room's events into a local
// Broker, so out-of-process publishes become visible to in-process
// Broker.Subscribe callers. Run blocks until ctx is cancelled or the
// subscription errors.
type RedisSubscriber struct {
	client *redis.Client
	broker *Broker
}

func NewRedisSubscriber(client *redis.Client, broker *Broker) *RedisSubscriber {
	return &RedisSubscriber{client: client, broker: broker}
}

func (s *RedisSubscriber) Run(ctx context.Context, room string) error {
	sub := s.client.Subscribe(ctx, "flowruntime:"+room)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			_ = s.broker.Emit(ctx, ev.Room, ev.Type, ev.Payload)
		}
	}
}
