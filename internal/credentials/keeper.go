package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/grfn_downloader/internal/logctx"
)

// ErrNoLease is returned by Current before the first Acquire.
var ErrNoLease = errors.New("no lease acquired")

// Keeper owns the current lease. Readers load it atomically and always see
// either the old or the new lease; refreshes are serialized so there is a
// single writer at a time.
type Keeper struct {
	provider Provider
	margin   time.Duration
	now      func() time.Time

	current      atomic.Pointer[Lease]
	mu           sync.Mutex
	acquisitions atomic.Int64
}

type Option func(*Keeper)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

// NewKeeper creates a keeper that refreshes the lease once it is within
// margin of its expiry.
func NewKeeper(provider Provider, margin time.Duration, opts ...Option) *Keeper {
	k := &Keeper{
		provider: provider,
		margin:   margin,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(k)
	}

	return k
}

// Acquire fetches a new lease unconditionally and makes it current.
func (k *Keeper) Acquire(ctx context.Context) (Lease, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.refreshLocked(ctx)
}

// Current returns a lease that is valid for at least the refresh margin,
// refreshing it first if needed. It never returns an expired lease.
func (k *Keeper) Current(ctx context.Context) (Lease, error) {
	if l := k.current.Load(); l != nil && l.Valid(k.now(), k.margin) {
		return *l, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	l := k.current.Load()
	if l == nil {
		return Lease{}, ErrNoLease
	}

	// Another caller may have refreshed while we waited for the lock.
	if l.Valid(k.now(), k.margin) {
		return *l, nil
	}

	return k.refreshLocked(ctx)
}

// Acquisitions returns how many leases have been fetched.
func (k *Keeper) Acquisitions() int {
	return int(k.acquisitions.Load())
}

func (k *Keeper) refreshLocked(ctx context.Context) (Lease, error) {
	logger := logctx.LoggerFromContext(ctx)

	l, err := k.provider.FetchLease(ctx)
	if err != nil {
		return Lease{}, fmt.Errorf("failed to fetch lease: %w", err)
	}

	if !l.Valid(k.now(), 0) {
		return Lease{}, fmt.Errorf("credential endpoint returned an expired lease (expired %s)", l.Expiration.Format(time.RFC3339))
	}

	k.current.Store(&l)
	n := k.acquisitions.Add(1)

	logger.InfoContext(ctx, "acquired temporary credentials",
		"lease", l.String(),
		"valid_for", l.Expiration.Sub(k.now()).Round(time.Second).String(),
		"acquisition", n,
	)

	return l, nil
}
