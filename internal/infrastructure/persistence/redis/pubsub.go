package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/studyhub/study-hub/internal/infrastructure/messaging"
)

// PubSub adapts a go-redis client to messaging.RedisClient.
type PubSub struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewPubSub wraps client. Close releases subscriptions but not the client.
func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

var _ messaging.RedisClient = (*PubSub)(nil)

func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe confirms the subscription and forwards messages until ctx ends.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes every subscription opened through p.
func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for _, s := range p.subs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.subs = nil
	return first
}
