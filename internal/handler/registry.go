package handler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"debateETL/internal/model"
	"debateETL/internal/storage"
)

const (
	EventDebateCreated = "DebateCreated"
	EventDebateStarted = "DebateStarted"
	EventJoined        = "Joined"
	EventFinished      = "Finished"
	EventFlipped       = "Flipped"
)

// Handler applies one decoded event through the supplied transaction.
type Handler interface {
	Apply(ctx context.Context, tx storage.Tx, args model.Args, blockTime time.Time) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tx storage.Tx, args model.Args, blockTime time.Time) error

func (f HandlerFunc) Apply(ctx context.Context, tx storage.Tx, args model.Args, blockTime time.Time) error {
	return f(ctx, tx, args, blockTime)
}

// Registry maps event names to handlers. It is filled at startup and read-only
// afterwards.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// NewDefaultRegistry registers handlers for every debate contract event.
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := NewRegistry()
	r.mustRegister(EventDebateCreated, HandlerFunc(applyDebateCreated))
	r.mustRegister(EventDebateStarted, HandlerFunc(applyDebateStarted))
	r.mustRegister(EventJoined, HandlerFunc(applyJoined))
	r.mustRegister(EventFinished, HandlerFunc(applyFinished))
	r.mustRegister(EventFlipped, &flippedHandler{logger: logger})
	return r
}

// Register adds h under name. Names are unique.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("event name is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %s is nil", name)
	}
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("handler for %s already registered", name)
	}
	r.handlers[name] = h
	return nil
}

func (r *Registry) mustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists registered event names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
