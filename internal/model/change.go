package model

import "github.com/google/uuid"

// JobID tags changes issued by one batch command. NoJob means no job scope.
type JobID int

const NoJob JobID = -1

// ActorID identifies the originator of an edit.
type ActorID = uuid.UUID

// Change is the envelope around one write. It is immutable once built and
// only references the job and actor for downstream attribution.
type Change struct {
	pos   Position
	block Block
	job   JobID
	async bool
	actor ActorID
}

func NewChange(pos Position, block Block, job JobID, async bool, actor ActorID) Change {
	return Change{pos: pos, block: block, job: job, async: async, actor: actor}
}

func (c Change) Position() Position { return c.pos }
func (c Change) Block() Block       { return c.block }
func (c Change) Job() JobID         { return c.job }
func (c Change) Async() bool        { return c.async }
func (c Change) Actor() ActorID     { return c.actor }
