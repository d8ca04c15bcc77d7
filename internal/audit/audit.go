// Package audit holds the permission and audit hooks consulted around every
// block change.
package audit

import (
	"context"
	"fmt"
	"sync"

	"asyncedit/internal/model"
)

// Hook may veto a change before it is written and observes its outcome.
type Hook interface {
	// BeforeChange returns an error wrapping model.ErrPermissionDenied to veto c.
	BeforeChange(ctx context.Context, world string, c model.Change) error
	AfterChange(ctx context.Context, world string, c model.Change, applied bool, err error)
}

// Nop allows everything and records nothing.
type Nop struct{}

func (Nop) BeforeChange(context.Context, string, model.Change) error { return nil }

func (Nop) AfterChange(context.Context, string, model.Change, bool, error) {}

// Chain consults hooks in order. The first veto stops the chain.
type Chain []Hook

func (c Chain) BeforeChange(ctx context.Context, world string, ch model.Change) error {
	for _, h := range c {
		if err := h.BeforeChange(ctx, world, ch); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) AfterChange(ctx context.Context, world string, ch model.Change, applied bool, err error) {
	for _, h := range c {
		h.AfterChange(ctx, world, ch, applied, err)
	}
}

// Guard vetoes changes inside protected regions.
type Guard struct {
	mu        sync.RWMutex
	protected map[model.RegionKey]struct{}
}

func NewGuard(protected ...model.RegionKey) *Guard {
	g := &Guard{protected: make(map[model.RegionKey]struct{})}
	for _, k := range protected {
		g.protected[k] = struct{}{}
	}
	return g
}

func (g *Guard) Protect(key model.RegionKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.protected[key] = struct{}{}
}

func (g *Guard) Unprotect(key model.RegionKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.protected, key)
}

func (g *Guard) BeforeChange(_ context.Context, world string, c model.Change) error {
	key := model.RegionOf(world, c.Position())
	g.mu.RLock()
	_, denied := g.protected[key]
	g.mu.RUnlock()
	if denied {
		return fmt.Errorf("region %s is protected: %w", key, model.ErrPermissionDenied)
	}
	return nil
}

func (g *Guard) AfterChange(context.Context, string, model.Change, bool, error) {}
