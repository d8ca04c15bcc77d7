package session

// DefaultMaxQueued is the number of queued writes a session accepts before
// it forces a flush.
const DefaultMaxQueued = 10000

// backlog counts writes queued since the last flush.
type backlog struct {
	queued    int
	threshold int
}

// accept records one accepted write and reports whether the threshold was
// crossed, in which case the count restarts and the caller must flush.
// active is true only for a write that was itself queued while the queue is
// in use; synchronous writes never count.
func (b *backlog) accept(active bool) bool {
	if !active {
		return false
	}
	b.queued++
	if b.queued > b.threshold {
		b.queued = 0
		return true
	}
	return false
}

func (b *backlog) reset() {
	b.queued = 0
}
