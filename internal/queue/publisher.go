// Package queue publishes events onto Redis Streams. It backs the queued
// execution path as well as the analytics and notification sinks.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/dualpath/internal/backoff"
)

const (
	// Message field names.
	IDField          = "id"
	EventField       = "event"
	DataField        = "data"
	PublishedAtField = "published_at"

	defaultPrefix            = "dualpath"
	defaultMaxStreamLen      = 10000
	defaultConnectionTimeout = 2 * time.Second
	defaultConnectAttempts   = 5
)

// Config configures the publisher.
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`

	// Prefix namespaces stream keys: <prefix>:events:<event>.
	Prefix string `yaml:"prefix" json:"prefix"`

	// MaxStreamLen trims each stream approximately to this length. Default 10000.
	MaxStreamLen int64 `yaml:"max_stream_len" json:"maxStreamLen"`

	// ConnectAttempts is the number of pings tried at startup. Default 5.
	ConnectAttempts int `yaml:"connect_attempts" json:"connectAttempts"`
}

// ErrInvalidEvent is returned for events that can never be published.
var ErrInvalidEvent = errors.New("invalid event")

// Publisher appends events to per-event streams. Each Publish issues exactly
// one XADD; the client never resends a failed command.
type Publisher struct {
	client *redis.Client
	prefix string
	maxLen int64
	now    func() time.Time
	newID  func() string
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: -1,
	})

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}
	err := backoff.Retry(ctx, backoff.DefaultPolicy(), attempts, func(int) error {
		pingCtx, cancel := context.WithTimeout(ctx, defaultConnectionTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewPublisherFromClient(client, cfg), nil
}

// NewPublisherFromClient wraps an existing client.
func NewPublisherFromClient(client *redis.Client, cfg Config) *Publisher {
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		maxLen: maxLen,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// StreamName returns the stream key for event.
func (p *Publisher) StreamName(event string) string {
	return fmt.Sprintf("%s:events:%s", p.prefix, event)
}

// Publish appends one message and returns its stream ID.
func (p *Publisher) Publish(ctx context.Context, event string, payload map[string]any) (string, error) {
	if strings.TrimSpace(event) == "" {
		return "", backoff.Permanent(fmt.Errorf("%w: event name is required", ErrInvalidEvent))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: failed to serialize payload for %s: %v", ErrInvalidEvent, event, err))
	}

	stream := p.StreamName(event)
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			IDField:          p.newID(),
			EventField:       event,
			DataField:        string(data),
			PublishedAtField: p.now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return id, nil
}

// Depth returns the number of messages held for event.
func (p *Publisher) Depth(ctx context.Context, event string) (int64, error) {
	return p.client.XLen(ctx, p.StreamName(event)).Result()
}

// Ping checks that Redis is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
