// Package s3 streams available objects straight from the content bucket,
// signing every request with the current credential lease.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/italolelis/grfn_downloader/internal/archive"
	"github.com/italolelis/grfn_downloader/internal/credentials"
	"github.com/italolelis/grfn_downloader/internal/manifest"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// Config is the bucket location.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	Prefix    string
	UseHTTP   bool
	Transport http.RoundTripper
}

// Fetcher implements archive.Fetcher on top of minio. A client is built per
// download from the lease snapshot it is given, so a refreshed lease never
// affects a transfer already in flight.
type Fetcher struct {
	cfg Config
}

// NewFetcher validates cfg and returns a fetcher.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}

	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	return &Fetcher{cfg: cfg}, nil
}

// Key returns the object key of ref below the configured prefix.
func (f *Fetcher) Key(ref manifest.ObjectRef) string {
	return path.Join(f.cfg.Prefix, ref.FileName)
}

// Fetch opens the object stream.
func (f *Fetcher) Fetch(ctx context.Context, ref manifest.ObjectRef, lease credentials.Lease) (io.ReadCloser, int64, error) {
	client, err := minio.New(f.cfg.Endpoint, &minio.Options{
		Creds:        miniocreds.NewStaticV4(lease.AccessKeyID, lease.SecretAccessKey, lease.SessionToken),
		Secure:       !f.cfg.UseHTTP,
		Region:       f.cfg.Region,
		Transport:    f.cfg.Transport,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("minio.New: %w", err)
	}

	core := minio.Core{Client: client}

	rd, info, _, err := core.GetObject(ctx, f.cfg.Bucket, f.Key(ref), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, toHTTPError(err)
	}

	return rd, info.Size, nil
}

func toHTTPError(err error) error {
	var e minio.ErrorResponse
	if errors.As(err, &e) && e.StatusCode != 0 {
		msg := e.Code
		if e.Message != "" {
			msg = e.Code + ": " + e.Message
		}

		return &archive.HTTPError{Operation: "download", StatusCode: e.StatusCode, Message: msg}
	}

	return fmt.Errorf("download request failed: %w", err)
}
