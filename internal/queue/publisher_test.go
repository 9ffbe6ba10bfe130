package queue

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/dualpath/internal/backoff"
)

func newTestPublisher(t *testing.T, cfg Config) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPublisherFromClient(client, cfg), mr
}

func TestPublishWritesEnvelope(t *testing.T) {
	p, _ := newTestPublisher(t, Config{Prefix: "test"})
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }
	p.newID = func() string { return "evt-1" }

	ctx := context.Background()
	id, err := p.Publish(ctx, "image/generate", map[string]any{"prompt": "fox", "identity": "42"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatalf("expected stream id")
	}
	if got := p.StreamName("image/generate"); got != "test:events:image/generate" {
		t.Fatalf("unexpected stream name %q", got)
	}

	msgs, err := p.Recent(ctx, "image/generate", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.StreamID != id || m.ID != "evt-1" || m.Event != "image/generate" {
		t.Fatalf("unexpected envelope %+v", m)
	}
	if m.Payload["prompt"] != "fox" || m.Payload["identity"] != "42" {
		t.Fatalf("unexpected payload %+v", m.Payload)
	}
	if !m.PublishedAt.Equal(at) {
		t.Fatalf("publishedAt = %v, want %v", m.PublishedAt, at)
	}
}

func TestPublishKeepsOrderPerEvent(t *testing.T) {
	p, _ := newTestPublisher(t, Config{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := p.Publish(ctx, "speech/synthesize", map[string]any{"n": i}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if _, err := p.Publish(ctx, "analytics/ab-test-result", map[string]any{"plan": "A"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	depth, err := p.Depth(ctx, "speech/synthesize")
	if err != nil || depth != 5 {
		t.Fatalf("depth = %d, %v", depth, err)
	}
	msgs, err := p.Recent(ctx, "speech/synthesize", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	for i, m := range msgs {
		if want := float64(i + 2); m.Payload["n"] != want {
			t.Fatalf("message %d: n = %v, want %v", i, m.Payload["n"], want)
		}
	}
	if !strings.HasPrefix(p.StreamName("x"), "dualpath:") {
		t.Fatalf("expected default prefix")
	}
}

func TestPublishRejectsEmptyEvent(t *testing.T) {
	p, _ := newTestPublisher(t, Config{})
	_, err := p.Publish(context.Background(), " ", nil)
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestPublishInvalidEventIsNotRetried(t *testing.T) {
	p, _ := newTestPublisher(t, Config{})
	calls := 0
	err := backoff.Retry(context.Background(), backoff.Policy{Initial: time.Millisecond}, 3, func(int) error {
		calls++
		_, err := p.Publish(context.Background(), "image/generate", map[string]any{"bad": make(chan int)})
		return err
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

// droppingBroker speaks just enough RESP to accept a connection. It answers
// PING, rejects other setup commands and hangs up on every XADD.
type droppingBroker struct {
	ln    net.Listener
	xadds atomic.Int64
}

func newDroppingBroker(t *testing.T) *droppingBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &droppingBroker{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go b.serve(conn)
		}
	}()
	return b
}

func (b *droppingBroker) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		switch strings.ToUpper(args[0]) {
		case "PING":
			_, err = io.WriteString(conn, "+PONG\r\n")
		case "XADD":
			b.xadds.Add(1)
			return
		default:
			_, err = io.WriteString(conn, "-ERR unknown command\r\n")
		}
		if err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected line %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimRight(header, "\r\n")[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestPublishSendsOneXAddOnDroppedConnection(t *testing.T) {
	broker := newDroppingBroker(t)
	ctx := context.Background()
	p, err := NewPublisher(ctx, Config{Addr: broker.ln.Addr().String(), ConnectAttempts: 1})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer p.Close()

	if _, err := p.Publish(ctx, "image/generate", map[string]any{"prompt": "fox"}); err == nil {
		t.Fatalf("expected publish error on dropped connection")
	}
	if got := broker.xadds.Load(); got != 1 {
		t.Fatalf("XADD sent %d times, want 1", got)
	}
}

func TestPublishFailsWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	p := NewPublisherFromClient(client, Config{})
	_, err := p.Publish(context.Background(), "image/generate", map[string]any{})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if !strings.Contains(err.Error(), "image/generate") {
		t.Fatalf("error should name the stream: %v", err)
	}
}

func TestNewPublisherPing(t *testing.T) {
	mr := miniredis.RunT(t)
	p, err := NewPublisher(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer p.Close()
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	if _, err := NewPublisher(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without address")
	}
}

func TestNewPublisherGivesUpWhenUnreachable(t *testing.T) {
	start := time.Now()
	_, err := NewPublisher(context.Background(), Config{Addr: "127.0.0.1:1", ConnectAttempts: 2})
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if !strings.Contains(err.Error(), "failed to connect to Redis") {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("connect retries took too long: %v", time.Since(start))
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	if _, err := DecodeMessage(redis.XMessage{ID: "1-0", Values: map[string]any{}}); err == nil {
		t.Fatalf("expected error for missing data")
	}
	bad := redis.XMessage{ID: "1-0", Values: map[string]any{DataField: "{", IDField: "x"}}
	if _, err := DecodeMessage(bad); err == nil {
		t.Fatalf("expected error for invalid json")
	}
	ok := redis.XMessage{ID: "1-0", Values: map[string]any{DataField: fmt.Sprintf(`{"a":%d}`, 1)}}
	m, err := DecodeMessage(ok)
	if err != nil || m.Payload["a"] != float64(1) {
		t.Fatalf("unexpected decode %+v, %v", m, err)
	}
}
