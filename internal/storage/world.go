package storage

import (
	"fmt"
	"log/slog"
	"sync"

	"asyncedit/internal/model"
)

// Recorder receives every change applied to a World before it becomes visible.
type Recorder interface {
	Append(mut model.Mutation) error
}

// World is a sparse block grid split into 16-wide columns. Each column has
// its own lock, so writers and readers of different regions never contend.
type World struct {
	name     string
	recorder Recorder
	logger   *slog.Logger

	mu     sync.RWMutex
	chunks map[model.ChunkCoord]*column
}

type column struct {
	mu     sync.RWMutex
	blocks map[int]model.Block
}

// WorldOption configures a World.
type WorldOption func(*World)

// WithRecorder journals every applied change.
func WithRecorder(r Recorder) WorldOption {
	return func(w *World) {
		w.recorder = r
	}
}

func WithLogger(l *slog.Logger) WorldOption {
	return func(w *World) {
		w.logger = l
	}
}

func NewWorld(name string, opts ...WorldOption) *World {
	w := &World{
		name:   name,
		chunks: make(map[model.ChunkCoord]*column),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *World) Name() string {
	return w.name
}

// Block returns the block at pos. Unset positions are air.
func (w *World) Block(pos model.Position) (model.Block, error) {
	if !pos.Valid() {
		return model.Block{}, fmt.Errorf("read %s: %w", pos, model.ErrInvalidPosition)
	}
	col := w.column(pos.Chunk(), false)
	if col == nil {
		return model.Block{}, nil
	}
	col.mu.RLock()
	defer col.mu.RUnlock()
	return col.blocks[localIndex(pos)], nil
}

// Apply writes the change's block. It reports false when the position
// already holds that block.
func (w *World) Apply(c model.Change) (bool, error) {
	pos := c.Position()
	if !pos.Valid() {
		return false, fmt.Errorf("write %s: %w", pos, model.ErrInvalidPosition)
	}
	col := w.column(pos.Chunk(), true)
	idx := localIndex(pos)

	col.mu.Lock()
	defer col.mu.Unlock()
	if col.blocks[idx] == c.Block() {
		return false, nil
	}
	if w.recorder != nil {
		if err := w.recorder.Append(model.MutationFromChange(w.name, c)); err != nil {
			return false, fmt.Errorf("journal %s: %w", pos, err)
		}
	}
	if c.Block().IsAir() {
		delete(col.blocks, idx)
	} else {
		col.blocks[idx] = c.Block()
	}
	return true, nil
}

// Replay applies journaled mutations without re-recording them. Mutations for
// other worlds are skipped. It returns the number applied.
func (w *World) Replay(muts []model.Mutation) int {
	n := 0
	for _, mut := range muts {
		if mut.World != w.name || !mut.Position.Valid() {
			continue
		}
		col := w.column(mut.Position.Chunk(), true)
		col.mu.Lock()
		if mut.Op == model.CLEAR || mut.Block.IsAir() {
			delete(col.blocks, localIndex(mut.Position))
		} else {
			col.blocks[localIndex(mut.Position)] = mut.Block
		}
		col.mu.Unlock()
		n++
	}
	if n > 0 {
		w.logger.Info("replayed journal", "world", w.name, "mutations", n)
	}
	return n
}

// Chunks returns the number of allocated columns.
func (w *World) Chunks() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.chunks)
}

func (w *World) column(cc model.ChunkCoord, create bool) *column {
	w.mu.RLock()
	col := w.chunks[cc]
	w.mu.RUnlock()
	if col != nil || !create {
		return col
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if col = w.chunks[cc]; col == nil {
		col = &column{blocks: make(map[int]model.Block)}
		w.chunks[cc] = col
	}
	return col
}

// localIndex packs the in-column coordinates: x | z<<4 | y<<8.
func localIndex(pos model.Position) int {
	return pos.X&15 | (pos.Z&15)<<4 | pos.Y<<8
}

// Worlds hands out one World per name, creating them on first use.
type Worlds struct {
	opts []WorldOption

	mu     sync.Mutex
	worlds map[string]*World
}

func NewWorlds(opts ...WorldOption) *Worlds {
	return &Worlds{opts: opts, worlds: make(map[string]*World)}
}

func (ws *Worlds) Get(name string) *World {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	w, ok := ws.worlds[name]
	if !ok {
		w = NewWorld(name, ws.opts...)
		ws.worlds[name] = w
	}
	return w
}

// Replay distributes journaled mutations to their worlds.
func (ws *Worlds) Replay(muts []model.Mutation) int {
	byWorld := make(map[string][]model.Mutation)
	for _, mut := range muts {
		byWorld[mut.World] = append(byWorld[mut.World], mut)
	}
	n := 0
	for name, list := range byWorld {
		n += ws.Get(name).Replay(list)
	}
	return n
}
