package gocommand

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
)

// ValidateMessage checks the message names its type and passes its own
// Validate before it is routed.
func ValidateMessage(msg any) error {
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message %T must implement Type() string", msg)
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message %T has an empty type", msg)
	}
	return command.ValidateMessage(msg)
}

// RegistryAdapter binds ingest handlers to a go-command registry and the
// global dispatcher. A message type can be bound once per adapter.
type RegistryAdapter struct {
	registry *command.Registry

	mu    sync.Mutex
	bound map[string]struct{}
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry, bound: map[string]struct{}{}}
}

// Initialize runs the registry resolvers once every handler is bound.
func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// Bound lists the message types registered through this adapter.
func (a *RegistryAdapter) Bound() []string {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.bound))
	for name := range a.bound {
		out = append(out, name)
	}
	return out
}

func (a *RegistryAdapter) claim(msg any) (string, error) {
	if a == nil || a.registry == nil {
		return "", fmt.Errorf("gocommand: registry is not configured")
	}
	m, ok := msg.(command.Message)
	if !ok || strings.TrimSpace(m.Type()) == "" {
		return "", fmt.Errorf("gocommand: handler message %T has no type", msg)
	}
	name := m.Type()
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.bound[name]; exists {
		return "", fmt.Errorf("gocommand: %s is already bound", name)
	}
	a.bound[name] = struct{}{}
	return name, nil
}

func (a *RegistryAdapter) release(name string) {
	a.mu.Lock()
	delete(a.bound, name)
	a.mu.Unlock()
}

// RegisterAndSubscribe binds a command handler for messages of type T.
func RegisterAndSubscribe[T any](adapter *RegistryAdapter, cmd command.Commander[T]) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	var zero T
	name, err := adapter.claim(zero)
	if err != nil {
		return nil, err
	}
	sub := commanddispatcher.SubscribeCommand(cmd)
	if err := adapter.registry.RegisterCommand(cmd); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		adapter.release(name)
		return nil, fmt.Errorf("gocommand: register %s: %w", name, err)
	}
	return sub, nil
}

// RegisterAndSubscribeQuery binds a query handler answering T with R.
func RegisterAndSubscribeQuery[T any, R any](adapter *RegistryAdapter, qry command.Querier[T, R]) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	var zero T
	name, err := adapter.claim(zero)
	if err != nil {
		return nil, err
	}
	sub := commanddispatcher.SubscribeQuery(qry)
	if err := adapter.registry.RegisterCommand(qry); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		adapter.release(name)
		return nil, fmt.Errorf("gocommand: register %s: %w", name, err)
	}
	return sub, nil
}

// Dispatch validates msg and routes it to its command handler.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessage(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

// Query validates msg and returns the bound query handler's answer.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessage(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}
