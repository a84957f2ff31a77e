package cache

import (
	"context"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/Norgate-AV/jsbundle/internal/codes"
	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

// ComputeFunc produces the artifact for a missed key, with any warnings
type ComputeFunc func(ctx context.Context) (*sourcemap.Artifact, []*codes.Diagnostic, error)

// Outcome is the result of Coalescer.Do
type Outcome struct {
	Artifact *sourcemap.Artifact

	// Hit is true when the artifact came from the store
	Hit bool

	// Shared is true when one compute served more than one caller
	Shared bool

	// Warnings from the compute function and from the store
	Warnings []*codes.Diagnostic
}

// Coalescer runs at most one compute per key at a time. The first caller to
// miss becomes the producer; concurrent callers for the same key wait for
// its result. Calls for different keys never wait on each other.
type Coalescer struct {
	store Store
	group singleflight.Group
}

// NewCoalescer wraps store
func NewCoalescer(store Store) *Coalescer {
	if store == nil {
		store = Nop{}
	}

	return &Coalescer{store: store}
}

// Store returns the wrapped store
func (c *Coalescer) Store() Store {
	return c.store
}

// Do returns the stored artifact for key, or computes and stores it.
// Lookup and store failures are reported as CacheStoreError warnings and
// never fail the call; compute errors are returned unchanged and nothing is
// stored.
//
// The compute runs under the producer's context. A waiting caller whose own
// context ends stops waiting with a Timeout, the compute carries on.
func (c *Coalescer) Do(ctx context.Context, key digest.Digest, compute ComputeFunc) (*Outcome, error) {
	var warnings []*codes.Diagnostic

	// Check cache first (fast path, avoids singleflight overhead)
	artifact, err := c.store.Lookup(ctx, key)
	if err != nil {
		warnings = append(warnings, asStoreWarning(err))
	} else if artifact != nil {
		return &Outcome{Artifact: artifact, Hit: true}, nil
	}

	ch := c.group.DoChan(key.String(), func() (any, error) {
		// Double-check cache: another goroutine may have just stored this
		// key between our lookup and acquiring the singleflight lock.
		if artifact, err := c.store.Lookup(ctx, key); err == nil && artifact != nil {
			return &Outcome{Artifact: artifact, Hit: true}, nil
		}

		artifact, computeWarnings, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		out := &Outcome{Artifact: artifact, Warnings: computeWarnings}
		if err := c.store.Store(ctx, key, artifact); err != nil {
			out.Warnings = append(out.Warnings, asStoreWarning(err))
		}

		return out, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, codes.Wrap(codes.Timeout, ctx.Err(), "gave up waiting for compile of %s", key)
	}

	if res.Err != nil {
		return nil, res.Err
	}

	out := *res.Val.(*Outcome) //nolint:errcheck // type assertion always succeeds when err is nil
	out.Shared = res.Shared
	out.Warnings = append(warnings, out.Warnings...)

	return &out, nil
}

func asStoreWarning(err error) *codes.Diagnostic {
	if d, ok := codes.As(err); ok && d.Kind == codes.CacheStoreError {
		return d
	}

	return codes.Wrap(codes.CacheStoreError, err, "cache unavailable")
}
