package session

import (
	"context"

	"asyncedit/internal/model"
)

// Orderer is the safe execution boundary: fn runs only after every write
// queued for the region before the call.
type Orderer interface {
	RunOrdered(ctx context.Context, key model.RegionKey, fn func()) error
}

// readOrdered performs read behind the queued writes of pos's region.
// Errors from read propagate unchanged.
func readOrdered[T any](ctx context.Context, o Orderer, world string, pos model.Position, read func(context.Context, model.Position) (T, error)) (T, error) {
	var (
		zero  T
		value T
		err   error
	)
	if oerr := o.RunOrdered(ctx, model.RegionOf(world, pos), func() {
		value, err = read(ctx, pos)
	}); oerr != nil {
		return zero, oerr
	}
	return value, err
}
