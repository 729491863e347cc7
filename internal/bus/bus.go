// Package bus provides the event transport between the schedule dispatcher
// and the discovery workers. Queues are redis lists; exchanges are logical
// names carried for routing visibility; topic filtering happens consumer-side.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

const (
	queuePrefix = "ambit:queue:"
	eventPrefix = "ambit:event:"

	eventTTL    = 24 * time.Hour
	popInterval = time.Second
)

type redisBus struct {
	client *redis.Client
	logger *logger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus connects and verifies the redis backend.
func NewRedisBus(cfg config.RedisConfig, log *logger.Logger) (core.Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	busCtx, busCancel := context.WithCancel(context.Background())
	return &redisBus{
		client: client,
		logger: log.WithComponent("bus"),
		ctx:    busCtx,
		cancel: busCancel,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, exchange, queue, topic string, event *types.Event) error {
	if event.Type == "" {
		event.Type = topic
	}

	data, err := json.Marshal(event)
	if err != nil {
		return types.NewTransportError("failed to marshal event", err)
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, eventPrefix+event.ID, data, eventTTL)
	pipe.LPush(ctx, queuePrefix+queue, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewTransportError(
			fmt.Sprintf("failed to publish to %s/%s", exchange, queue), err)
	}

	b.logger.Debugw("Event published",
		"event_id", event.ID,
		"exchange", exchange,
		"queue", queue,
		"topic", topic,
	)
	return nil
}

// Subscribe starts a consumer goroutine for the queue. Messages whose topic
// matches none of the patterns are dropped with a log line; handler errors are
// logged and do not stop consumption.
func (b *redisBus) Subscribe(ctx context.Context, queue string, topics []string, handler core.Handler) error {
	if handler == nil {
		return types.NewValidationError("subscribe requires a handler")
	}

	b.mu.Lock()
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		log := b.logger.WithFields("queue", queue)
		log.Infow("Consumer started", "topics", topics)

		for {
			select {
			case <-ctx.Done():
				log.Infow("Consumer stopped", "reason", "context cancelled")
				return
			case <-b.ctx.Done():
				log.Infow("Consumer stopped", "reason", "bus closed")
				return
			default:
			}

			result, err := b.client.BRPop(ctx, popInterval, queuePrefix+queue).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil || b.ctx.Err() != nil {
					return
				}
				log.Errorw("Failed to pop from queue", "error", err)
				time.Sleep(popInterval)
				continue
			}
			if len(result) < 2 {
				continue
			}

			var event types.Event
			if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
				log.Errorw("Discarding undecodable event", "error", err)
				continue
			}

			if !MatchTopic(topics, event.Type) {
				log.Debugw("Dropping event with unmatched topic",
					"event_id", event.ID, "topic", event.Type)
				continue
			}

			if err := handler(ctx, &event); err != nil {
				log.Errorw("Handler failed",
					"event_id", event.ID,
					"topic", event.Type,
					"error", err,
				)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// MatchTopic reports whether the dotted topic matches any pattern. Patterns
// use "*" per segment, e.g. "source.*.added" or "webapp.*".
func MatchTopic(patterns []string, topic string) bool {
	segments := strings.Split(topic, ".")
	for _, pattern := range patterns {
		if matchOne(strings.Split(pattern, "."), segments) {
			return true
		}
	}
	return false
}

func matchOne(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != segments[i] {
			return false
		}
	}
	return true
}
