// Package session implements the thread-safe edit session: it decides per
// write whether the change is applied on the caller or queued for the
// placer, bounds the queued backlog, and orders reads behind queued writes.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"asyncedit/internal/audit"
	"asyncedit/internal/model"
)

var tracer = otel.Tracer("asyncedit/session")

// Editor is the editing session being wrapped. Writes route on the change's
// async flag; reads go straight to the grid.
type Editor interface {
	World() string
	Write(ctx context.Context, c model.Change, stage model.Stage) (bool, error)

	Block(ctx context.Context, pos model.Position) (model.Block, error)
	BlockData(ctx context.Context, pos model.Position) (uint8, error)
	BlockType(ctx context.Context, pos model.Position) (uint16, error)
	LazyBlock(ctx context.Context, pos model.Position) (model.LazyBlock, error)

	HasPendingQueue() bool
	DrainQueue(ctx context.Context) error

	ChangeCount() int
	Limit() int
	SetLimit(limit int)
}

// AllowList is the global per-operation async switch.
type AllowList interface {
	IsAllowed(kind model.OperationKind) bool
}

// Preferences returns an actor's stored mode preference, if any.
type Preferences interface {
	Preference(actor model.ActorID) (async bool, ok bool)
}

type Config struct {
	Actor model.ActorID
	// MaxQueued is the backlog threshold; DefaultMaxQueued when zero.
	MaxQueued   int
	AllowList   AllowList
	Preferences Preferences
	Hook        audit.Hook
	Logger      *slog.Logger
}

// State is a snapshot of a session's mutable state.
type State struct {
	AsyncDisabled bool `json:"asyncDisabled"`
	AsyncForced   bool `json:"asyncForced"`
	Queued        int  `json:"queued"`
}

// Session wraps an Editor. Every operation it does not override passes
// through to the Editor unchanged.
//
// Writes and Flush must be serialized by the caller. Reads may come from
// any goroutine.
type Session struct {
	Editor

	orderer Orderer
	actor   model.ActorID
	allow   AllowList
	prefs   Preferences
	hook    audit.Hook
	logger  *slog.Logger

	mode    Mode
	backlog backlog
}

func New(editor Editor, orderer Orderer, cfg Config) *Session {
	threshold := cfg.MaxQueued
	if threshold <= 0 {
		threshold = DefaultMaxQueued
	}
	s := &Session{
		Editor:  editor,
		orderer: orderer,
		actor:   cfg.Actor,
		allow:   cfg.AllowList,
		prefs:   cfg.Preferences,
		hook:    cfg.Hook,
		logger:  cfg.Logger,
		backlog: backlog{threshold: threshold},
	}
	if s.hook == nil {
		s.hook = audit.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("actor", cfg.Actor.String(), "world", editor.World())
	return s
}

func (s *Session) Actor() model.ActorID {
	return s.actor
}

func (s *Session) Orderer() Orderer {
	return s.orderer
}

func (s *Session) State() State {
	return State{
		AsyncDisabled: s.mode.Disabled,
		AsyncForced:   s.mode.Forced,
		Queued:        s.backlog.queued,
	}
}

// SetAsyncForced makes every following write asynchronous regardless of
// configuration and preference, until cleared.
func (s *Session) SetAsyncForced(forced bool) {
	s.mode.Forced = forced
}

func (s *Session) AsyncForced() bool {
	return s.mode.Forced
}

// ResetAsync clears the disabled latch.
func (s *Session) ResetAsync() {
	s.mode.Disabled = false
}

// CheckAsync reports whether kind may run asynchronously for this actor
// and caches the answer for the writes that follow until the next flush.
func (s *Session) CheckAsync(kind model.OperationKind) bool {
	allowed := s.allow == nil || s.allow.IsAllowed(kind)
	result, next := Explicit(s.mode, allowed, s.preference())
	s.mode = next
	sessionChecks.WithLabelValues(modeLabel(result)).Inc()
	s.logger.Debug("async check", "operation", string(kind), "async", result)
	return result
}

// IsAsyncEnabled is the implicit check used by individual writes.
func (s *Session) IsAsyncEnabled() bool {
	return Implicit(s.mode, s.preference())
}

func (s *Session) preference() Preference {
	if s.prefs == nil {
		return PreferenceUnset
	}
	return PreferenceOf(s.prefs.Preference(s.actor))
}

// SetBlockStage writes block at pos entering the write chain at stage.
func (s *Session) SetBlockStage(ctx context.Context, pos model.Position, block model.Block, stage model.Stage) (bool, error) {
	return s.write(ctx, pos, block, model.NoJob, stage)
}

// SetBlock writes block at pos as part of job.
func (s *Session) SetBlock(ctx context.Context, pos model.Position, block model.Block, job model.JobID) (bool, error) {
	return s.write(ctx, pos, block, job, model.StageBeforeReorder)
}

// SetBlockPattern writes the block pattern yields for pos as part of job.
func (s *Session) SetBlockPattern(ctx context.Context, pos model.Position, pattern model.Pattern, job model.JobID) (bool, error) {
	return s.write(ctx, pos, pattern.Apply(pos), job, model.StageBeforeReorder)
}

// SetBlockIfAir writes block only when pos currently holds air. The check
// observes every write queued before the call.
func (s *Session) SetBlockIfAir(ctx context.Context, pos model.Position, block model.Block, job model.JobID) (bool, error) {
	current, err := s.Block(ctx, pos)
	if err != nil {
		return false, err
	}
	if !current.IsAir() {
		return false, nil
	}
	return s.write(ctx, pos, block, job, model.StageBeforeReorder)
}

// write is the single write path. job is threaded through as a parameter
// so nothing outlives the call.
func (s *Session) write(ctx context.Context, pos model.Position, block model.Block, job model.JobID, stage model.Stage) (bool, error) {
	async := s.IsAsyncEnabled()
	c := model.NewChange(pos, block, job, async, s.actor)
	world := s.Editor.World()

	if err := s.hook.BeforeChange(ctx, world, c); err != nil {
		sessionWrites.WithLabelValues(modeLabel(async), "error").Inc()
		return false, err
	}
	ok, err := s.Editor.Write(ctx, c, stage)
	s.hook.AfterChange(ctx, world, c, ok, err)
	if err != nil {
		sessionWrites.WithLabelValues(modeLabel(async), "error").Inc()
		return false, err
	}
	if !ok {
		sessionWrites.WithLabelValues(modeLabel(async), "noop").Inc()
		return false, nil
	}
	sessionWrites.WithLabelValues(modeLabel(async), "applied").Inc()

	if s.backlog.accept(async && s.Editor.HasPendingQueue()) {
		s.logger.Info("backlog threshold reached, flushing", "threshold", s.backlog.threshold)
		if err := s.flush(ctx, "backlog"); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Flush blocks until every write this session queued has been applied.
func (s *Session) Flush(ctx context.Context) error {
	return s.flush(ctx, "explicit")
}

func (s *Session) flush(ctx context.Context, trigger string) error {
	ctx, span := tracer.Start(ctx, "session.Flush",
		trace.WithAttributes(attribute.String("trigger", trigger)))
	defer span.End()

	hadBacklog := s.Editor.HasPendingQueue()
	err := s.Editor.DrainQueue(ctx)
	s.backlog.reset()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("flush: %w", err)
	}
	s.mode = Flushed(s.mode, hadBacklog)
	sessionFlushes.WithLabelValues(trigger).Inc()
	return nil
}

// Fill writes pattern into the cuboid spanned by from and to as one job.
// The explicit check for kind decides the mode of every write in the batch.
// It returns the number of blocks changed.
func (s *Session) Fill(ctx context.Context, kind model.OperationKind, from, to model.Position, pattern model.Pattern, job model.JobID) (int, error) {
	s.CheckAsync(kind)
	lo, hi := bounds(from, to)
	changed := 0
	for y := lo.Y; y <= hi.Y; y++ {
		for z := lo.Z; z <= hi.Z; z++ {
			for x := lo.X; x <= hi.X; x++ {
				if err := ctx.Err(); err != nil {
					return changed, err
				}
				ok, err := s.SetBlockPattern(ctx, model.Position{X: x, Y: y, Z: z}, pattern, job)
				if err != nil {
					return changed, err
				}
				if ok {
					changed++
				}
			}
		}
	}
	return changed, nil
}

func bounds(a, b model.Position) (model.Position, model.Position) {
	return model.Position{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		model.Position{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
}

// Block reads the block at pos after every write queued for its region.
func (s *Session) Block(ctx context.Context, pos model.Position) (model.Block, error) {
	return readOrdered(ctx, s.orderer, s.Editor.World(), pos, s.Editor.Block)
}

func (s *Session) BlockData(ctx context.Context, pos model.Position) (uint8, error) {
	return readOrdered(ctx, s.orderer, s.Editor.World(), pos, s.Editor.BlockData)
}

func (s *Session) BlockType(ctx context.Context, pos model.Position) (uint16, error) {
	return readOrdered(ctx, s.orderer, s.Editor.World(), pos, s.Editor.BlockType)
}

func (s *Session) LazyBlock(ctx context.Context, pos model.Position) (model.LazyBlock, error) {
	return readOrdered(ctx, s.orderer, s.Editor.World(), pos, s.Editor.LazyBlock)
}
