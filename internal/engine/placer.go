package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"asyncedit/internal/model"
)

var ErrPlacerClosed = errors.New("placer is closed")

var tracer = otel.Tracer("asyncedit/engine")

type PlacerCfg struct {
	// Workers is the number of goroutines executing region sequences.
	Workers int
	// ReadyQueue bounds the regions waiting for a worker. Submit blocks
	// while it is full.
	ReadyQueue int
	Logger     *slog.Logger
}

const (
	defaultPlacerWorkers    = 4
	defaultPlacerReadyQueue = 1024
)

/*
Placer executes queued block writes on a worker pool:
  - Ordering: every region owns a FIFO sequence; at most one worker drains a sequence at a time.
  - Parallelism: different regions run on different workers.
  - Backpressure: the ready channel is bounded, Submit blocks when every worker is behind.
  - Safe reads: RunOrdered appends to the region's FIFO when it is busy and runs inline when it is idle.
  - Shutdown: stop cancels the workers, then runs whatever is still queued on the stopping goroutine.
*/
type Placer struct {
	cfg    PlacerCfg
	logger *slog.Logger

	mu      sync.Mutex
	regions map[model.RegionKey]*sequence
	closed  bool
	depth   int

	ready  chan *sequence
	runCtx context.Context
	group  *errgroup.Group
}

// sequence is present in Placer.regions exactly while it has tasks queued
// or a worker draining it.
type sequence struct {
	key   model.RegionKey
	tasks []func()
}

// NewPlacer starts the worker pool. The returned stop function waits for the
// workers and executes any task still queued before returning.
func NewPlacer(ctx context.Context, cfg PlacerCfg) (*Placer, func()) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultPlacerWorkers
	}
	if cfg.ReadyQueue <= 0 {
		cfg.ReadyQueue = defaultPlacerReadyQueue
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	p := &Placer{
		cfg:     cfg,
		logger:  logger,
		regions: make(map[model.RegionKey]*sequence),
		ready:   make(chan *sequence, cfg.ReadyQueue),
		runCtx:  groupCtx,
		group:   group,
	}
	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error {
			p.work(groupCtx)
			return nil
		})
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()

			cancel()
			_ = p.group.Wait()
			p.drainRemaining()
			p.logger.Info("placer stopped")
		})
	}
	return p, stop
}

// Submit queues task behind every task already queued for key.
func (p *Placer) Submit(key model.RegionKey, task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlacerClosed
	}
	seq, busy := p.regions[key]
	if !busy {
		seq = &sequence{key: key}
		p.regions[key] = seq
	}
	seq.tasks = append(seq.tasks, task)
	p.depth++
	p.mu.Unlock()

	placerTasks.WithLabelValues("write").Inc()
	placerQueueDepth.Inc()
	if busy {
		return nil
	}

	select {
	case p.ready <- seq:
	case <-p.runCtx.Done():
		// Left in regions; stop runs it.
	}
	return nil
}

// RunOrdered runs fn once every task queued for key before the call has
// executed. An idle region runs fn on the caller without a handoff. Waiting
// for a busy region is abandoned when ctx is done and fn has not started;
// fn is then skipped. Once fn has started the call waits for it and reports
// success, so a nil error always means fn ran.
func (p *Placer) RunOrdered(ctx context.Context, key model.RegionKey, fn func()) error {
	ctx, span := tracer.Start(ctx, "placer.RunOrdered",
		trace.WithAttributes(attribute.String("region", key.String())))
	defer span.End()

	p.mu.Lock()
	seq, busy := p.regions[key]
	if !busy {
		p.mu.Unlock()
		orderedRuns.WithLabelValues("inline").Inc()
		fn()
		return nil
	}
	// claimed decides between the queued task and an abandoning caller;
	// fn runs only if the task wins.
	var claimed atomic.Bool
	done := make(chan struct{})
	seq.tasks = append(seq.tasks, func() {
		defer close(done)
		if claimed.CompareAndSwap(false, true) {
			fn()
		}
	})
	p.depth++
	p.mu.Unlock()

	orderedRuns.WithLabelValues("queued").Inc()
	placerTasks.WithLabelValues("read").Inc()
	placerQueueDepth.Inc()
	span.AddEvent("queued")

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			orderedRuns.WithLabelValues("abandoned").Inc()
			return fmt.Errorf("ordered run on %s: %w", key, ctx.Err())
		}
		<-done
		return nil
	}
}

// Pending returns the number of queued tasks not yet executed.
func (p *Placer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.depth
}

func (p *Placer) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seq := <-p.ready:
			p.drain(seq)
		}
	}
}

// drain executes seq until it is empty, then releases the region.
func (p *Placer) drain(seq *sequence) {
	for {
		p.mu.Lock()
		if len(seq.tasks) == 0 {
			delete(p.regions, seq.key)
			p.mu.Unlock()
			return
		}
		task := seq.tasks[0]
		seq.tasks[0] = nil
		seq.tasks = seq.tasks[1:]
		p.depth--
		p.mu.Unlock()

		placerQueueDepth.Dec()
		p.exec(seq.key, task)
	}
}

func (p *Placer) exec(key model.RegionKey, task func()) {
	defer func() {
		if r := recover(); r != nil {
			placerPanics.Inc()
			p.logger.Error("placer task panicked", "region", key.String(), "panic", r)
		}
	}()
	task()
}

func (p *Placer) drainRemaining() {
	for {
		p.mu.Lock()
		var next *sequence
		for _, seq := range p.regions {
			next = seq
			break
		}
		p.mu.Unlock()
		if next == nil {
			return
		}
		p.drain(next)
	}
}
