package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is a decoded stream entry.
type Message struct {
	StreamID    string         `json:"streamId"`
	ID          string         `json:"id"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload"`
	PublishedAt time.Time      `json:"publishedAt"`
}

// DecodeMessage parses a stream entry written by Publisher.
func DecodeMessage(msg redis.XMessage) (Message, error) {
	out := Message{StreamID: msg.ID}
	out.ID, _ = msg.Values[IDField].(string)
	out.Event, _ = msg.Values[EventField].(string)

	data, ok := msg.Values[DataField].(string)
	if !ok {
		return out, fmt.Errorf("message %s has no %s field", msg.ID, DataField)
	}
	if err := json.Unmarshal([]byte(data), &out.Payload); err != nil {
		return out, fmt.Errorf("message %s: decode payload: %w", msg.ID, err)
	}
	if ts, ok := msg.Values[PublishedAtField].(string); ok {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return out, fmt.Errorf("message %s: parse %s: %w", msg.ID, PublishedAtField, err)
		}
		out.PublishedAt = parsed
	}
	return out, nil
}

// Recent returns up to count of the newest messages for event, oldest first.
func (p *Publisher) Recent(ctx context.Context, event string, count int64) ([]Message, error) {
	entries, err := p.client.XRevRangeN(ctx, p.StreamName(event), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", p.StreamName(event), err)
	}
	out := make([]Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		m, err := DecodeMessage(entries[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
