// Package credentials holds the short-lived access credentials shared by all
// retrieval workers.
package credentials

import (
	"context"
	"fmt"
	"time"
)

// Lease is a time-bounded set of access credentials.
type Lease struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Valid reports whether the lease is still usable at now for at least d.
func (l Lease) Valid(now time.Time, d time.Duration) bool {
	return now.Add(d).Before(l.Expiration)
}

// String implements fmt.Stringer without leaking the secret parts.
func (l Lease) String() string {
	return fmt.Sprintf("lease{access_key_id=%s expires=%s}", l.AccessKeyID, l.Expiration.Format(time.RFC3339))
}

// Provider obtains a fresh lease from the credential endpoint.
type Provider interface {
	FetchLease(ctx context.Context) (Lease, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Lease, error)

func (f ProviderFunc) FetchLease(ctx context.Context) (Lease, error) {
	return f(ctx)
}

// Source hands out a lease that is valid for the next operation.
type Source interface {
	Current(ctx context.Context) (Lease, error)
}
