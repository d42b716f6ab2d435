// Package events publishes session lifecycle events for external observers.
// Nothing in the gateway reads them back.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sfugate/internal/core/domain"
	"sfugate/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 3 * time.Second

var (
	ErrQueueFull       = errors.New("event queue full")
	ErrPublisherClosed = errors.New("event publisher closed")
)

// redisPublisher is the part of *redis.Client the publisher needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *domain.SessionEvent) error { return nil }

// RedisPublisher sends events to a Redis pub/sub channel from a background
// goroutine, so signaling never waits on Redis. Events are dropped when the
// queue is full or while the breaker is open.
type RedisPublisher struct {
	client     redisPublisher
	channel    string
	instanceID string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	queue  chan []byte
	done   chan struct{}
}

func NewRedisPublisher(client redisPublisher, channel, instanceID string, queueSize int, logger *zap.SugaredLogger) *RedisPublisher {
	return newRedisPublisher(client, channel, instanceID, queueSize, circuitbreaker.DefaultConfig(), logger)
}

func newRedisPublisher(client redisPublisher, channel, instanceID string, queueSize int, breaker circuitbreaker.Config, logger *zap.SugaredLogger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	p := &RedisPublisher{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger,
		breaker:    circuitbreaker.New(breaker),
		queue:      make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
	p.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus circuit changed", "channel", channel, "from", from.String(), "to", to.String())
	})
	go p.run()
	return p
}

// Publish stamps the event with this instance and enqueues it.
func (p *RedisPublisher) Publish(ctx context.Context, event *domain.SessionEvent) error {
	stamped := *event
	stamped.InstanceID = p.instanceID
	if stamped.Timestamp.IsZero() {
		stamped.Timestamp = time.Now()
	}

	data, err := json.Marshal(&stamped)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- data:
		return nil
	default:
		p.logger.Warnw("dropping session event", "type", event.Type, "room_id", event.RoomID)
		return ErrQueueFull
	}
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for data := range p.queue {
		err := p.breaker.Execute(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			return p.client.Publish(ctx, p.channel, data).Err()
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			p.logger.Debugw("event bus unavailable, dropping session event", "channel", p.channel)
			continue
		}
		if err != nil {
			p.logger.Warnw("failed to publish session event", "channel", p.channel, "error", err)
			continue
		}
		p.logger.Debugw("published session event", "channel", p.channel)
	}
}

// Close flushes queued events and stops the background goroutine.
func (p *RedisPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}
