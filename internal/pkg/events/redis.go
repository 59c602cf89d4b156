package events

import (
	"context"
	"encoding/json"
	"expvar"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// BroadcastChannel receives every settlement event.
	BroadcastChannel  = "settlement:events"
	userChannelPrefix = "settlement:events:user:"

	publishTimeout = 2 * time.Second
)

var (
	eventsPublishedTotal = expvar.NewInt("settlement_events_published_total")
	eventsDroppedTotal   = expvar.NewInt("settlement_events_dropped_total")
)

// UserChannel is the Redis channel carrying one user's events.
func UserChannel(userID uuid.UUID) string {
	return userChannelPrefix + userID.String()
}

// RedisPublisher fans events out over Redis pub/sub. Publish runs on a
// background worker fed by a bounded queue; a full queue drops the event.
type RedisPublisher struct {
	client *redis.Client
	queue  chan Event
	done   chan struct{}
}

func NewRedisPublisher(client *redis.Client, buffer int) *RedisPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	p := &RedisPublisher{
		client: client,
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *RedisPublisher) Publish(_ context.Context, e Event) {
	select {
	case p.queue <- e:
	default:
		eventsDroppedTotal.Add(1)
		log.Warn().Str("type", e.Type).Str("subject_id", e.SubjectID.String()).Msg("Settlement event queue full, event dropped")
	}
}

// Close stops accepting events and waits for the queue to drain.
func (p *RedisPublisher) Close() {
	close(p.queue)
	<-p.done
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for e := range p.queue {
		p.send(e)
	}
}

func (p *RedisPublisher) send(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("type", e.Type).Msg("Failed to encode settlement event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, BroadcastChannel, payload)
	for _, userID := range e.Recipients {
		pipe.Publish(ctx, UserChannel(userID), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		eventsDroppedTotal.Add(1)
		log.Warn().Err(err).Str("type", e.Type).Msg("Failed to publish settlement event")
		return
	}
	eventsPublishedTotal.Add(1)
}
