package application

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

// shareFlight runs fn once per key for every concurrent caller. fn gets a
// context that keeps ctx's values but none of its cancellation, so one caller
// giving up never fails the others. Each caller still stops waiting when its
// own ctx is done.
func shareFlight[T any](ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	detached := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		value, _ := res.Val.(T)
		return value, nil
	}
}

// isContextErr reports whether err only says a wait was abandoned.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
