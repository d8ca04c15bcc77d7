package model

// Pattern generates the block to place at a position.
type Pattern interface {
	Apply(pos Position) Block
}

// BlockPattern places the same block everywhere.
type BlockPattern Block

func (p BlockPattern) Apply(Position) Block {
	return Block(p)
}

// PatternFunc adapts a function to Pattern.
type PatternFunc func(pos Position) Block

func (f PatternFunc) Apply(pos Position) Block {
	return f(pos)
}

// CheckerPattern alternates between two blocks on a 3D checkerboard.
type CheckerPattern struct {
	Even, Odd Block
}

func (p CheckerPattern) Apply(pos Position) Block {
	if (pos.X+pos.Y+pos.Z)&1 == 0 {
		return p.Even
	}
	return p.Odd
}
