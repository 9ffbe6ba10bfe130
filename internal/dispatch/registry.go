package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/haasonsaas/dualpath/internal/bots"
)

// Handler runs an operation on the direct path and reports what it produced.
type Handler func(ctx context.Context, messenger bots.Messenger, op Operation) (Outcome, error)

// Outcome is what a direct handler returns.
type Outcome struct {
	// ResponseSize is the size of the produced artifact in bytes, if known.
	ResponseSize *int64
	// Detail is a short human readable description of the result.
	Detail string
}

// Binding ties an operation to its collaborator and handler.
type Binding struct {
	Collaborator string
	Handler      Handler
}

// Collaborators resolves named messengers.
type Collaborators interface {
	Resolve(name string) (bots.Messenger, error)
}

// DefaultEvents is the queued-path registry.
func DefaultEvents() map[Kind]string {
	return map[Kind]string{
		KindGenerateImage:    "image/generate",
		KindSynthesizeSpeech: "speech/synthesize",
		KindGenerateVideo:    "video/generate",
	}
}

// Registries holds the per-plan operation tables. Their key sets may differ.
type Registries struct {
	Events   map[Kind]string
	Bindings map[Kind]Binding
}

// Validate checks that every entry names a kind in Kinds, every event is
// non-empty and every binding has a handler and a collaborator.
func (r Registries) Validate() error {
	var errs []error
	for kind, event := range r.Events {
		if !slices.Contains(Kinds, kind) {
			errs = append(errs, fmt.Errorf("planA: unknown operation %q", kind))
		}
		if strings.TrimSpace(event) == "" {
			errs = append(errs, fmt.Errorf("planA: operation %q has no event", kind))
		}
	}
	for kind, b := range r.Bindings {
		if !slices.Contains(Kinds, kind) {
			errs = append(errs, fmt.Errorf("planB: unknown operation %q", kind))
		}
		if b.Handler == nil {
			errs = append(errs, fmt.Errorf("planB: operation %q has no handler", kind))
		}
		if strings.TrimSpace(b.Collaborator) == "" {
			errs = append(errs, fmt.Errorf("planB: operation %q has no collaborator", kind))
		}
	}
	return errors.Join(errs...)
}

// Known reports whether either plan knows kind.
func (r Registries) Known(kind Kind) bool {
	if _, ok := r.Events[kind]; ok {
		return true
	}
	_, ok := r.Bindings[kind]
	return ok
}

// Names returns every operation known to either plan, sorted.
func (r Registries) Names() []string {
	seen := make(map[Kind]struct{}, len(r.Events)+len(r.Bindings))
	for k := range r.Events {
		seen[k] = struct{}{}
	}
	for k := range r.Bindings {
		seen[k] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}
