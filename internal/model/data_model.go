package model

import "time"

type OpsType byte

const (
	SET OpsType = iota
	CLEAR
)

// Mutation is one applied change as recorded in the journal.
type Mutation struct {
	Sequence uint64
	Op       OpsType
	World    string
	Position Position
	Block    Block
	Actor    ActorID
	Job      JobID
	Applied  time.Time
}

// MutationFromChange builds the journal record for a change applied to world.
func MutationFromChange(world string, c Change) Mutation {
	op := SET
	if c.Block().IsAir() {
		op = CLEAR
	}
	return Mutation{
		Op:       op,
		World:    world,
		Position: c.Position(),
		Block:    c.Block(),
		Actor:    c.Actor(),
		Job:      c.Job(),
		Applied:  time.Now().UTC(),
	}
}
