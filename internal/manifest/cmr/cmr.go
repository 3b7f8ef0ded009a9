// Package cmr implements the manifest provider on top of the NASA Common
// Metadata Repository granule search.
package cmr

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/italolelis/grfn_downloader/internal/manifest"
)

const defaultTimeout = 100 * time.Second

// Query holds the fixed search parameters. The path number is supplied per
// call as the selection key.
type Query struct {
	CollectionConceptID string
	Temporal            string
	Point               string
	Polygon             string
	PageSize            int
}

// Client searches CMR for granules of one relative orbit (path).
type Client struct {
	client     *http.Client
	searchURL  string
	query      Query
	fileSuffix string
}

// NewClient creates a CMR client. A nil httpClient uses a client with a 100s
// timeout.
func NewClient(httpClient *http.Client, searchURL string, query Query, fileSuffix string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		client:     httpClient,
		searchURL:  searchURL,
		query:      query,
		fileSuffix: fileSuffix,
	}
}

type searchResponse struct {
	Feed struct {
		Entry []entry `json:"entry"`
	} `json:"feed"`
}

type entry struct {
	ProducerGranuleID string `json:"producer_granule_id"`
	GranuleSize       string `json:"granule_size"`
	TimeStart         string `json:"time_start"`
	TimeEnd           string `json:"time_end"`
}

// Manifest implements manifest.Provider. The result is ordered by start time,
// most recent first.
func (c *Client) Manifest(ctx context.Context, path string) ([]manifest.ObjectRef, error) {
	logger := logctx.LoggerFromContext(ctx).With("path", path)

	if _, err := strconv.Atoi(path); err != nil {
		return nil, fmt.Errorf("invalid path number %q: %w", path, err)
	}

	u, err := c.searchRequestURL(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	logger.InfoContext(ctx, "querying catalog", "url", u)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog query failed, status: %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	refs := make([]manifest.ObjectRef, 0, len(sr.Feed.Entry))

	var total float64

	for i, e := range sr.Feed.Entry {
		ref, sizeMB, err := c.toObjectRef(e)
		if err != nil {
			return nil, fmt.Errorf("invalid catalog entry %d: %w", i, err)
		}

		total += sizeMB

		refs = append(refs, ref)
	}

	slices.SortStableFunc(refs, func(a, b manifest.ObjectRef) int {
		return cmp.Compare(b.TimeStart.UnixNano(), a.TimeStart.UnixNano())
	})

	logger.InfoContext(ctx, "found interferograms",
		"count", len(refs),
		"archive_size", humanize.Bytes(uint64(total*1e6)),
	)

	return refs, nil
}

func (c *Client) searchRequestURL(path string) (string, error) {
	u, err := url.Parse(c.searchURL)
	if err != nil {
		return "", fmt.Errorf("invalid catalog url: %w", err)
	}

	q := u.Query()
	q.Set("collection_concept_id", c.query.CollectionConceptID)
	q.Set("attribute[]", "int,PATH_NUMBER,"+path)

	if c.query.Temporal != "" {
		q.Set("temporal", c.query.Temporal)
	}

	if c.query.Polygon != "" {
		q.Set("polygon", c.query.Polygon)
	} else if c.query.Point != "" {
		q.Set("point", c.query.Point)
	}

	if c.query.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(c.query.PageSize))
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) toObjectRef(e entry) (manifest.ObjectRef, float64, error) {
	if e.ProducerGranuleID == "" {
		return manifest.ObjectRef{}, 0, fmt.Errorf("missing producer_granule_id")
	}

	start, err := time.Parse(time.RFC3339, e.TimeStart)
	if err != nil {
		return manifest.ObjectRef{}, 0, fmt.Errorf("granule %s: invalid time_start: %w", e.ProducerGranuleID, err)
	}

	end, err := time.Parse(time.RFC3339, e.TimeEnd)
	if err != nil {
		return manifest.ObjectRef{}, 0, fmt.Errorf("granule %s: invalid time_end: %w", e.ProducerGranuleID, err)
	}

	var sizeMB float64
	if e.GranuleSize != "" {
		sizeMB, err = strconv.ParseFloat(e.GranuleSize, 64)
		if err != nil {
			return manifest.ObjectRef{}, 0, fmt.Errorf("granule %s: invalid granule_size: %w", e.ProducerGranuleID, err)
		}
	}

	return manifest.ObjectRef{
		ID:        e.ProducerGranuleID,
		FileName:  e.ProducerGranuleID + c.fileSuffix,
		Size:      int64(sizeMB * 1e6),
		TimeStart: start,
		TimeEnd:   end,
	}, sizeMB, nil
}
