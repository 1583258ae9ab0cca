// Package lock serializes critical sections per key, either in process or
// across replicas through Redis.
package lock

import (
	"context"
	"sort"

	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/resale-ledger/pkg/errors"
)

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker obtains exclusive leases on string keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// AcquireAll obtains every key in sorted order so two callers locking the same
// pair can never deadlock. Duplicate keys are locked once.
func AcquireAll(ctx context.Context, locker Locker, keys ...string) (Lease, error) {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	sort.Strings(unique)

	held := make(multiLease, 0, len(unique))
	for _, key := range unique {
		lease, err := locker.Acquire(ctx, key)
		if err != nil {
			_ = held.Release(context.WithoutCancel(ctx))
			return nil, err
		}
		held = append(held, lease)
	}
	return held, nil
}

type multiLease []Lease

// Release frees the leases in reverse acquisition order.
func (m multiLease) Release(ctx context.Context) error {
	var err error
	for i := len(m) - 1; i >= 0; i-- {
		err = multierr.Append(err, m[i].Release(ctx))
	}
	return err
}

// waitInterrupted reports a lock wait cut short by the caller's context. The
// context error stays reachable through errors.Is.
func waitInterrupted(key string, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "wait for inventory lock interrupted").
		WithReason(pkgerrors.ReasonLockUnavailable).
		WithDetails(map[string]any{"lock": key})
}
