// Package archive is the client of the GRFN "door" service, which fronts the
// cold storage bucket: it reports object placement, triggers restores,
// streams objects and hands out temporary credentials.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/italolelis/grfn_downloader/internal/credentials"
	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/italolelis/grfn_downloader/internal/manifest"
	"golang.org/x/oauth2"
)

const (
	defaultLeaseValidity = time.Hour
	maxErrorBody         = 512
)

// StatusClient queries and restores objects.
type StatusClient interface {
	Status(ctx context.Context, fileName string) (Status, error)
	Restore(ctx context.Context, fileName string) error
}

// Fetcher opens the payload stream of an available object. The lease is the
// one current when the download starts; transports that do not sign requests
// ignore it.
type Fetcher interface {
	Fetch(ctx context.Context, ref manifest.ObjectRef, lease credentials.Lease) (io.ReadCloser, int64, error)
}

// Client talks to the archive service. It implements StatusClient, Fetcher
// and credentials.Provider.
type Client struct {
	baseURL       *url.URL
	api           *http.Client
	stream        *http.Client
	leaseValidity time.Duration
	now           func() time.Time
}

type ClientOption func(*Client)

// WithToken authenticates requests to the archive host with an Earthdata
// bearer token. Redirects to other hosts, like presigned bucket URLs, are
// sent without it.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		if token == "" {
			return
		}

		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})

		c.api.Transport = newHostScopedTransport(c.baseURL.Host, src, c.api.Transport)
		c.stream.Transport = newHostScopedTransport(c.baseURL.Host, src, c.stream.Transport)
	}
}

// WithLeaseValidity sets the validity assumed for leases without an explicit
// expiration.
func WithLeaseValidity(d time.Duration) ClientOption {
	return func(c *Client) { c.leaseValidity = d }
}

// WithClientClock replaces time.Now when stamping implicit lease expirations.
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient creates an archive client rooted at baseURL (for example
// https://grfn.asf.alaska.edu/door/). timeout bounds the non-streaming calls;
// downloads are only bounded by their context.
func NewClient(baseURL string, timeout time.Duration, transport http.RoundTripper, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid archive url: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid archive url: %q", baseURL)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	c := &Client{
		baseURL:       u,
		api:           &http.Client{Timeout: timeout, Transport: transport},
		stream:        &http.Client{Transport: transport},
		leaseValidity: defaultLeaseValidity,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

// Status returns the current placement of fileName.
func (c *Client) Status(ctx context.Context, fileName string) (Status, error) {
	resp, err := c.get(ctx, c.api, "status", "status", fileName)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &MalformedResponseError{Operation: "status", Err: err}
	}

	if sr.Status == "" {
		return "", &MalformedResponseError{Operation: "status", Err: errors.New("missing status field")}
	}

	return ParseStatus(sr.Status), nil
}

// Restore asks the service to bring fileName out of cold storage. The
// service does this as a side effect of a download request, so the response
// body is discarded.
func (c *Client) Restore(ctx context.Context, fileName string) error {
	logger := logctx.LoggerFromContext(ctx)

	resp, err := c.get(ctx, c.api, "restore", "download", fileName)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody)); err != nil {
		logger.DebugContext(ctx, "failed to drain restore response", "err", err)
	}

	return nil
}

// Fetch implements Fetcher by streaming from the service's download endpoint.
// The service authorizes the request itself, so the lease is not used.
func (c *Client) Fetch(ctx context.Context, ref manifest.ObjectRef, _ credentials.Lease) (io.ReadCloser, int64, error) {
	resp, err := c.get(ctx, c.stream, "download", "download", ref.FileName)
	if err != nil {
		return nil, 0, err
	}

	return resp.Body, resp.ContentLength, nil
}

type credentialsResponse struct {
	Credentials struct {
		AccessKeyID     string `json:"AccessKeyId"`
		SecretAccessKey string `json:"SecretAccessKey"`
		SessionToken    string `json:"SessionToken"`
		Expiration      string `json:"Expiration"`
	} `json:"Credentials"`
}

// FetchLease implements credentials.Provider.
func (c *Client) FetchLease(ctx context.Context) (credentials.Lease, error) {
	fetchedAt := c.now()

	resp, err := c.get(ctx, c.api, "credentials", "credentials")
	if err != nil {
		return credentials.Lease{}, err
	}
	defer resp.Body.Close()

	var cr credentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return credentials.Lease{}, &MalformedResponseError{Operation: "credentials", Err: err}
	}

	creds := cr.Credentials
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" || creds.SessionToken == "" {
		return credentials.Lease{}, &MalformedResponseError{Operation: "credentials", Err: errors.New("incomplete credentials")}
	}

	lease := credentials.Lease{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Expiration:      fetchedAt.Add(c.leaseValidity),
	}

	if creds.Expiration != "" {
		exp, err := time.Parse(time.RFC3339, creds.Expiration)
		if err != nil {
			return credentials.Lease{}, &MalformedResponseError{Operation: "credentials", Err: fmt.Errorf("invalid expiration: %w", err)}
		}

		lease.Expiration = exp
	}

	return lease, nil
}

// get issues a GET for the path elems below the base url and returns the
// response when it is a success. Non-success responses become *HTTPError.
func (c *Client) get(ctx context.Context, client *http.Client, operation string, elems ...string) (*http.Response, error) {
	u := c.baseURL.JoinPath(elems...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", operation, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", operation, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		return nil, &HTTPError{Operation: operation, StatusCode: resp.StatusCode, Message: msg}
	}

	return resp, nil
}
