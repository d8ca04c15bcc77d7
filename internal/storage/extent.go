package storage

import (
	"context"
	"fmt"
	"sync"

	"asyncedit/internal/model"
)

// Unlimited disables the change budget of an Extent.
const Unlimited = -1

// Placer is the asynchronous execution subsystem an Extent queues into.
type Placer interface {
	// Submit queues task behind every earlier task of the same region.
	Submit(key model.RegionKey, task func()) error
	// RunOrdered runs fn after every task already queued for the region.
	RunOrdered(ctx context.Context, key model.RegionKey, fn func()) error
}

// Extent is one actor's editing view of a World. Changes flagged async are
// queued on the placer; the others are applied in order on the caller.
//
// An Extent is driven by a single session; only the completion of queued
// writes happens on other goroutines.
type Extent struct {
	world  *World
	placer Placer

	limit   int
	changed int

	// queued counts writes submitted since the last drain.
	queued  int
	pending pendingSet
}

func NewExtent(world *World, placer Placer, limit int) *Extent {
	return &Extent{world: world, placer: placer, limit: limit}
}

func (e *Extent) World() string {
	return e.world.name
}

// Write routes c by its async flag. StageBeforeHistory writes are not
// charged to the change budget.
func (e *Extent) Write(ctx context.Context, c model.Change, stage model.Stage) (bool, error) {
	if !c.Position().Valid() {
		return false, fmt.Errorf("write %s: %w", c.Position(), model.ErrInvalidPosition)
	}
	charged := stage != model.StageBeforeHistory
	if charged && e.limit >= 0 && e.changed >= e.limit {
		return false, fmt.Errorf("%d changes: %w", e.limit, model.ErrChangeBudgetExceeded)
	}

	var (
		ok  bool
		err error
	)
	if c.Async() {
		ok, err = e.WriteQueued(c)
	} else {
		ok, err = e.WriteDirect(ctx, c)
	}
	if ok && charged {
		e.changed++
	}
	return ok, err
}

// WriteDirect applies c on the calling goroutine, after any write still
// queued for the same region.
func (e *Extent) WriteDirect(ctx context.Context, c model.Change) (bool, error) {
	var (
		ok  bool
		err error
	)
	key := model.RegionOf(e.world.name, c.Position())
	if oerr := e.placer.RunOrdered(ctx, key, func() { ok, err = e.world.Apply(c) }); oerr != nil {
		return false, oerr
	}
	return ok, err
}

// WriteQueued hands c to the placer. Acceptance does not mean the block
// differs; a same-block write is dropped when it is applied.
func (e *Extent) WriteQueued(c model.Change) (bool, error) {
	e.pending.add()
	key := model.RegionOf(e.world.name, c.Position())
	err := e.placer.Submit(key, func() {
		_, err := e.world.Apply(c)
		e.pending.done(err)
	})
	if err != nil {
		e.pending.done(nil)
		return false, fmt.Errorf("queue %s: %w", c.Position(), err)
	}
	e.queued++
	return true, nil
}

// HasPendingQueue reports whether writes were queued since the last drain.
func (e *Extent) HasPendingQueue() bool {
	return e.queued > 0
}

// DrainQueue blocks until every queued write has been applied and returns
// the first error a queued write produced.
func (e *Extent) DrainQueue(ctx context.Context) error {
	if err := e.pending.wait(ctx); err != nil {
		return err
	}
	e.queued = 0
	if err := e.pending.takeErr(); err != nil {
		return fmt.Errorf("queued write: %w", err)
	}
	return nil
}

func (e *Extent) Block(_ context.Context, pos model.Position) (model.Block, error) {
	return e.world.Block(pos)
}

func (e *Extent) BlockData(_ context.Context, pos model.Position) (uint8, error) {
	b, err := e.world.Block(pos)
	return b.Data, err
}

func (e *Extent) BlockType(_ context.Context, pos model.Position) (uint16, error) {
	b, err := e.world.Block(pos)
	return b.Type, err
}

func (e *Extent) LazyBlock(_ context.Context, pos model.Position) (model.LazyBlock, error) {
	b, err := e.world.Block(pos)
	if err != nil {
		return model.LazyBlock{}, err
	}
	return model.NewLazyBlock(b.Type, b.Data, func() (model.Block, error) {
		return e.world.Block(pos)
	}), nil
}

func (e *Extent) ChangeCount() int {
	return e.changed
}

func (e *Extent) Limit() int {
	return e.limit
}

func (e *Extent) SetLimit(limit int) {
	e.limit = limit
}

// pendingSet tracks queued writes that have not been applied yet.
type pendingSet struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
	err  error
}

func (p *pendingSet) add() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == 0 {
		p.idle = make(chan struct{})
	}
	p.n++
}

func (p *pendingSet) done(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil && p.err == nil {
		p.err = err
	}
	p.n--
	if p.n == 0 {
		close(p.idle)
	}
}

func (p *pendingSet) wait(ctx context.Context) error {
	p.mu.Lock()
	if p.n == 0 {
		p.mu.Unlock()
		return nil
	}
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pendingSet) takeErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.err
	p.err = nil
	return err
}
