package model

import "fmt"

const (
	// ChunkShift converts block coordinates to chunk coordinates (16x16 columns).
	ChunkShift = 4

	MinY = 0
	MaxY = 255

	// MaxHorizontal bounds |X| and |Z| so chunk coordinates fit in int32.
	MaxHorizontal = 30_000_000
)

// Position is a block coordinate in a grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d, %d)", p.X, p.Y, p.Z)
}

// Valid reports whether p lies inside the bounds of a grid.
func (p Position) Valid() bool {
	return p.Y >= MinY && p.Y <= MaxY &&
		p.X >= -MaxHorizontal && p.X <= MaxHorizontal &&
		p.Z >= -MaxHorizontal && p.Z <= MaxHorizontal
}

// Chunk returns the column coordinates that own p.
func (p Position) Chunk() ChunkCoord {
	return ChunkCoord{X: int32(p.X >> ChunkShift), Z: int32(p.Z >> ChunkShift)}
}

// ChunkCoord identifies a 16-wide column of a grid.
type ChunkCoord struct {
	X, Z int32
}

// RegionKey is the unit of ordering for queued writes and safe reads.
type RegionKey struct {
	World string
	Chunk ChunkCoord
}

// RegionOf returns the region key of pos in world.
func RegionOf(world string, pos Position) RegionKey {
	return RegionKey{World: world, Chunk: pos.Chunk()}
}

func (k RegionKey) String() string {
	return fmt.Sprintf("%s[%d,%d]", k.World, k.Chunk.X, k.Chunk.Z)
}

// Air is the zero block type.
const Air uint16 = 0

// Block is a block type with its sub-type data.
type Block struct {
	Type uint16 `json:"type"`
	Data uint8  `json:"data"`
}

func (b Block) IsAir() bool {
	return b.Type == Air
}

// LazyBlock carries the type and data of a block and loads the full block on demand.
type LazyBlock struct {
	Type uint16
	Data uint8

	load func() (Block, error)
}

// NewLazyBlock returns a LazyBlock that resolves through load.
func NewLazyBlock(typ uint16, data uint8, load func() (Block, error)) LazyBlock {
	return LazyBlock{Type: typ, Data: data, load: load}
}

// Resolve loads the full block. Without a loader the known fields are returned.
func (l LazyBlock) Resolve() (Block, error) {
	if l.load == nil {
		return Block{Type: l.Type, Data: l.Data}, nil
	}
	return l.load()
}
