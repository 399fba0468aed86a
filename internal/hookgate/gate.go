// Package hookgate runs named hooks once the keys they depend on have been seen.
// A value delivered to a hook whose requirements are still missing is spooled
// and replayed when the last requirement arrives.
package hookgate

import (
	"errors"
	"fmt"
)

// ErrNoHooks is returned by Deliver for a key nobody registered.
var ErrNoHooks = errors.New("no hooks registered for key")

// Hook is the consumer registered under one key. S is the live value handed
// over while the source is being read, T its spooled form.
type Hook[K comparable, S any, T any] interface {
	// Direct consumes a value as it arrives.
	Direct(S) error
	// Deferred consumes a value that was spooled while requirements were missing.
	Deferred(T) error
	Requires() []K
}

// SpoolFunc turns a live value into one that can be replayed later.
type SpoolFunc[S any, T any] func(S) (T, error)

// Gate routes delivered values to their hooks. A Gate is owned by one
// parse and is not safe for concurrent use.
type Gate[K comparable, S any, T any] struct {
	spool   SpoolFunc[S, T]
	ready   map[K]func(S) error
	waiting map[K][]*pending[K, S, T]
	hooks   map[K]*pending[K, S, T]
}

type pending[K comparable, S any, T any] struct {
	key      K
	direct   func(S) error
	deferred func(T) error
	spooled  []T
	missing  int
}

func New[K comparable, S any, T any](hooks map[K]Hook[K, S, T], spool SpoolFunc[S, T]) *Gate[K, S, T] {
	g := &Gate[K, S, T]{
		spool:   spool,
		ready:   make(map[K]func(S) error, len(hooks)),
		waiting: make(map[K][]*pending[K, S, T]),
		hooks:   make(map[K]*pending[K, S, T], len(hooks)),
	}
	for key, hook := range hooks {
		requires := hook.Requires()
		if len(requires) == 0 {
			g.ready[key] = hook.Direct
			continue
		}

		p := &pending[K, S, T]{
			key:      key,
			direct:   hook.Direct,
			deferred: hook.Deferred,
			missing:  len(requires),
		}
		g.hooks[key] = p
		for _, req := range requires {
			g.waiting[req] = append(g.waiting[req], p)
		}
	}

	return g
}

// Has reports whether a hook is registered for key.
func (g *Gate[K, S, T]) Has(key K) bool {
	if _, ok := g.ready[key]; ok {
		return true
	}
	_, ok := g.hooks[key]

	return ok
}

// Deliver hands value to the hook of key. direct is false when the value was
// spooled because requirements are still missing.
func (g *Gate[K, S, T]) Deliver(key K, value S) (direct bool, err error) {
	if fn := g.ready[key]; fn != nil {
		if err := fn(value); err != nil {
			return false, fmt.Errorf("hook %v: %w", key, err)
		}

		return true, nil
	}

	p, ok := g.hooks[key]
	if !ok {
		return false, ErrNoHooks
	}

	spooled, err := g.spool(value)
	if err != nil {
		return false, fmt.Errorf("spool %v: %w", key, err)
	}
	p.spooled = append(p.spooled, spooled)

	return false, nil
}

// Arrive records that key has been seen and runs hooks it completes.
func (g *Gate[K, S, T]) Arrive(key K) error {
	var errs []error
	for _, p := range g.waiting[key] {
		if p.missing <= 0 {
			continue
		}
		p.missing--
		if p.missing > 0 {
			continue
		}

		g.ready[p.key] = p.direct

		for _, v := range p.spooled {
			if err := p.deferred(v); err != nil {
				errs = append(errs, fmt.Errorf("deferred hook %v: %w", p.key, err))
			}
		}
		p.spooled = nil
	}

	return errors.Join(errs...)
}

// Pending returns spooled values whose hooks never became ready.
func (g *Gate[K, S, T]) Pending() []T {
	var values []T
	for _, p := range g.hooks {
		values = append(values, p.spooled...)
	}

	return values
}
