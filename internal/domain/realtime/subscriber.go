package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tokenbridge/settlement-api/internal/pkg/events"
)

// Subscription delivers raw event payloads until Close is called.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// RedisSubscriber reads the channels written by events.RedisPublisher.
type RedisSubscriber struct {
	client *redis.Client
}

func NewRedisSubscriber(client *redis.Client) *RedisSubscriber {
	return &RedisSubscriber{client: client}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, channels...)
	// Wait for the confirmation so a broken connection fails the upgrade early.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan string, 64),
		done: make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan string
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- msg.Payload:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan string { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

var _ Subscriber = (*RedisSubscriber)(nil)

// channelsFor returns the streams a caller may follow. Admins also see the
// global stream.
func channelsFor(userID uuid.UUID, admin bool) []string {
	channels := []string{events.UserChannel(userID)}
	if admin {
		channels = append(channels, events.BroadcastChannel)
	}
	return channels
}
