// Package bots holds the named messaging collaborators used by the direct
// execution path to deliver results to users.
package bots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no messenger is registered under a name.
var ErrNotFound = errors.New("messenger not found")

// Media is a file to deliver. Either URL or Data is set.
type Media struct {
	URL      string
	Filename string
	Data     []byte
}

// Size returns the number of bytes carried inline, or 0 for URL media.
func (m Media) Size() int64 {
	return int64(len(m.Data))
}

// Messenger delivers results to a chat.
type Messenger interface {
	Name() string
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photo Media, caption string) error
	SendAudio(ctx context.Context, chatID int64, audio Media, caption string) error
}

// Registry resolves messengers by name. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	messengers map[string]Messenger
}

// NewRegistry creates a registry with the given messengers.
func NewRegistry(messengers ...Messenger) (*Registry, error) {
	r := &Registry{messengers: make(map[string]Messenger)}
	for _, m := range messengers {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds m under m.Name().
func (r *Registry) Register(m Messenger) error {
	if m == nil {
		return errors.New("messenger is nil")
	}
	name := normalize(m.Name())
	if name == "" {
		return errors.New("messenger name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.messengers[name]; exists {
		return fmt.Errorf("messenger %q already registered", name)
	}
	r.messengers[name] = m
	return nil
}

// Resolve returns the messenger registered under name.
func (r *Registry) Resolve(name string) (Messenger, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.mu.RLock()
	m, ok := r.messengers[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.messengers))
	for name := range r.messengers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
