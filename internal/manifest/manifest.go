// Package manifest defines the objects selected for a retrieval run and the
// contract of the catalog that selects them.
package manifest

import (
	"context"
	"path"
	"time"
)

// ObjectRef identifies one remote archival object. It is immutable once the
// provider has produced it.
type ObjectRef struct {
	// ID is the catalog identifier (the producer granule id).
	ID string
	// FileName is the remote object name and, through its base name, the
	// local file the object is written to.
	FileName string
	// Size is the catalog's size estimate in bytes, 0 when unknown.
	Size      int64
	TimeStart time.Time
	TimeEnd   time.Time
}

// LocalName returns the name of the local file for the object.
func (r ObjectRef) LocalName() string {
	return path.Base(r.FileName)
}

// Provider returns the ordered manifest for a selection key. A provider
// either returns the whole manifest or an error; partial manifests are never
// returned.
type Provider interface {
	Manifest(ctx context.Context, key string) ([]ObjectRef, error)
}

// Static is a Provider over a fixed list of refs regardless of key.
type Static []ObjectRef

func (s Static) Manifest(context.Context, string) ([]ObjectRef, error) {
	out := make([]ObjectRef, len(s))
	copy(out, s)

	return out, nil
}
