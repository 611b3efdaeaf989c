// Package publish broadcasts validation samples over Redis Pub/Sub so other
// processes can follow a running server.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"jamwatch/internal/evaluate"
)

// DefaultChannel is the channel samples are published on.
const DefaultChannel = "jamwatch:samples"

// Client is the part of the Redis client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// Publisher sends samples to a Redis channel.
type Publisher struct {
	client  Client
	channel string
	timeout time.Duration
}

// Connect opens a Redis connection from a redis:// URL and checks it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// New returns a publisher on channel (DefaultChannel when empty).
func New(client Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel, timeout: 2 * time.Second}
}

// Record publishes one sample.
func (p *Publisher) Record(ctx context.Context, s evaluate.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish sample %d: %w", s.Iteration, err)
	}
	log.Debug().Int("iteration", s.Iteration).Int64("receivers", receivers).Msg("Sample published")
	return nil
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// DecodeSample parses a published message.
func DecodeSample(payload string) (evaluate.Sample, error) {
	var s evaluate.Sample
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return s, fmt.Errorf("decode sample: %w", err)
	}
	return s, nil
}

// Follow calls fn for every sample published on channel until ctx is done.
// Messages that do not decode are logged and skipped.
func Follow(ctx context.Context, client *redis.Client, channel string, fn func(evaluate.Sample)) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s, err := DecodeSample(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("Skipping malformed sample")
				continue
			}
			fn(s)
		}
	}
}
