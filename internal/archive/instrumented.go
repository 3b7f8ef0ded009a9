package archive

import (
	"context"
	"io"

	"github.com/italolelis/grfn_downloader/internal/credentials"
	"github.com/italolelis/grfn_downloader/internal/manifest"
	"github.com/italolelis/grfn_downloader/internal/telemetry"
)

// InstrumentedStatusClient wraps StatusClient with telemetry.
type InstrumentedStatusClient struct {
	client     StatusClient
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedStatusClient creates a new instrumented status client.
func NewInstrumentedStatusClient(client StatusClient, tel *telemetry.Telemetry, clientType string) *InstrumentedStatusClient {
	return &InstrumentedStatusClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Status queries the object status with telemetry.
func (c *InstrumentedStatusClient) Status(ctx context.Context, fileName string) (Status, error) {
	var result Status

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "status", func(ctx context.Context) error {
		var err error

		result, err = c.client.Status(ctx, fileName)

		return err
	})
	if err != nil {
		return "", err
	}

	c.telemetry.RecordStatusPoll(string(result))

	return result, nil
}

// Restore triggers a restore with telemetry.
func (c *InstrumentedStatusClient) Restore(ctx context.Context, fileName string) error {
	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "restore", func(ctx context.Context) error {
		return c.client.Restore(ctx, fileName)
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	c.telemetry.RecordRestore(status)

	return err
}

// InstrumentedFetcher wraps Fetcher with telemetry. Only opening the stream
// is measured; bytes are counted by the writer.
type InstrumentedFetcher struct {
	fetcher    Fetcher
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry, clientType string) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:    fetcher,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Fetch opens the object stream with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, ref manifest.ObjectRef, lease credentials.Lease) (io.ReadCloser, int64, error) {
	var (
		body io.ReadCloser
		size int64
	)

	err := f.telemetry.InstrumentClientOperation(ctx, f.clientType, "fetch", func(ctx context.Context) error {
		var err error

		body, size, err = f.fetcher.Fetch(ctx, ref, lease)

		return err
	})
	if err != nil {
		return nil, 0, err
	}

	return body, size, nil
}

// InstrumentedLeaseProvider wraps credentials.Provider with telemetry.
type InstrumentedLeaseProvider struct {
	provider  credentials.Provider
	telemetry *telemetry.Telemetry
}

// NewInstrumentedLeaseProvider creates a new instrumented lease provider.
func NewInstrumentedLeaseProvider(provider credentials.Provider, tel *telemetry.Telemetry) *InstrumentedLeaseProvider {
	return &InstrumentedLeaseProvider{provider: provider, telemetry: tel}
}

// FetchLease fetches a lease with telemetry.
func (p *InstrumentedLeaseProvider) FetchLease(ctx context.Context) (credentials.Lease, error) {
	var lease credentials.Lease

	err := p.telemetry.InstrumentClientOperation(ctx, "door", "credentials", func(ctx context.Context) error {
		var err error

		lease, err = p.provider.FetchLease(ctx)

		return err
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	p.telemetry.RecordLeaseAcquisition(status)

	return lease, err
}
