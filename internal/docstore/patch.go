package docstore

import (
	"context"
	"errors"
	"fmt"
)

// PatchFunc computes the next version of a record from the current one.
// It may modify and return cur. Returning an error aborts the patch.
type PatchFunc func(cur Record) (Record, error)

// Patch reads the record stored under id, passes it to fn and writes the
// result back with [Collection.Update].
//
// Patches of one identifier are serialized within this process, so two
// requests adding items to the same cart both land. There is no version
// check against the file: a writer in another process, or a plain Update
// racing with the patch, can still be overwritten (last writer wins).
//
// The identifier field of the result is forced back to id.
// A missing record yields [ErrNotFound].
func (c *Collection) Patch(ctx context.Context, id string, fn PatchFunc) (Record, error) {
	if fn == nil {
		return nil, c.wrap(id, errors.New("patch: nil transform"))
	}

	unlock, err := c.lock(ctx, id)
	if err != nil {
		return nil, c.wrap(id, fmt.Errorf("patch: %w", err))
	}

	defer unlock()

	cur, err := c.Read(ctx, id)
	if err != nil {
		return nil, err
	}

	if cur == nil {
		return nil, c.wrap(id, ErrNotFound)
	}

	next, err := fn(cur)
	if err != nil {
		return nil, c.wrap(id, fmt.Errorf("patch: %w", err))
	}

	if next == nil {
		return nil, c.wrap(id, errors.New("patch: transform returned nil record"))
	}

	next[c.idField] = id

	return c.Update(ctx, next)
}

// Merge shallow-merges fields into the record stored under id.
// The identifier field in fields is ignored.
func (c *Collection) Merge(ctx context.Context, id string, fields Record) (Record, error) {
	return c.Patch(ctx, id, func(cur Record) (Record, error) {
		for k, v := range fields {
			if k == c.idField {
				continue
			}

			cur[k] = v
		}

		return cur, nil
	})
}

// lock takes the per-identifier patch lock, retrying until it is acquired or
// ctx is done.
func (c *Collection) lock(ctx context.Context, id string) (func(), error) {
	for !c.locks.TryLock(id) {
		err := ctx.Err()
		if err != nil {
			return nil, err
		}
	}

	return func() { c.locks.Unlock(id) }, nil
}
