// Package cmr is a client for the Common Metadata Repository search API:
// collection temporal extents, granule counts, and paginated granule
// search using CMR-Search-After tokens.
package cmr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/podaac/gaptracker/internal/interval"
)

// ErrCollectionNotFound is returned when the catalog has no match for a
// short name and version.
var ErrCollectionNotFound = errors.New("collection not found in CMR")

const (
	// PageSize is the granule page size used for backfill pagination.
	PageSize = 2000

	searchAfterHeader = "CMR-Search-After"
	hitsHeader        = "CMR-Hits"

	requestTimeout = 60 * time.Second
	maxRetries     = 3
)

// Client talks to one CMR environment.
type Client struct {
	base string
	http *http.Client
	log  *slog.Logger
}

// New returns a client for the given base URL, e.g.
// https://cmr.earthdata.nasa.gov.
func New(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: requestTimeout},
		log:  log.With("component", "cmr"),
	}
}

// Extent is a collection's declared temporal extent. End is the far-future
// sentinel when the catalog reports no ending time.
type Extent struct {
	Start time.Time
	End   time.Time
}

type ummResponse struct {
	Items []struct {
		UMM struct {
			TemporalExtents []struct {
				RangeDateTimes []struct {
					BeginningDateTime string `json:"BeginningDateTime"`
					EndingDateTime    string `json:"EndingDateTime"`
				} `json:"RangeDateTimes"`
			} `json:"TemporalExtents"`
		} `json:"umm"`
	} `json:"items"`
}

// CollectionExtent looks up the declared temporal extent of a collection.
func (c *Client) CollectionExtent(ctx context.Context, shortName, version string) (Extent, error) {
	u := fmt.Sprintf("%s/search/collections.umm_json_v1_4?short_name=%s&version=%s",
		c.base, url.QueryEscape(shortName), url.QueryEscape(version))
	c.log.Info("requesting collection temporal extent", "url", u)

	body, _, err := c.get(ctx, u, "")
	if err != nil {
		return Extent{}, err
	}
	var resp ummResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Extent{}, fmt.Errorf("decode collection response: %w", err)
	}
	if len(resp.Items) == 0 {
		return Extent{}, fmt.Errorf("%s %s: %w", shortName, version, ErrCollectionNotFound)
	}
	umm := resp.Items[0].UMM
	if len(umm.TemporalExtents) == 0 || len(umm.TemporalExtents[0].RangeDateTimes) == 0 {
		return Extent{}, fmt.Errorf("%s %s: no temporal extent in CMR record", shortName, version)
	}
	rdt := umm.TemporalExtents[0].RangeDateTimes[0]

	start, err := ParseTime(rdt.BeginningDateTime)
	if err != nil {
		return Extent{}, fmt.Errorf("parse extent start: %w", err)
	}
	end := interval.SentinelEnd
	if rdt.EndingDateTime != "" {
		if end, err = ParseTime(rdt.EndingDateTime); err != nil {
			return Extent{}, fmt.Errorf("parse extent end: %w", err)
		}
	}
	return Extent{Start: start, End: end}, nil
}

type feedResponse struct {
	Feed struct {
		Entry []json.RawMessage `json:"entry"`
	} `json:"feed"`
}

type collectionEntry struct {
	TimeStart string `json:"time_start"`
	TimeEnd   string `json:"time_end"`
}

// CollectionWindow returns the collection's coverage window for backfill
// partitioning. A missing end time becomes the current time.
func (c *Client) CollectionWindow(ctx context.Context, shortName, version string) (time.Time, time.Time, error) {
	u := fmt.Sprintf("%s/search/collections.json?short_name=%s&version=%s",
		c.base, url.QueryEscape(shortName), url.QueryEscape(version))
	body, _, err := c.get(ctx, u, "")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("decode collections response: %w", err)
	}
	if len(resp.Feed.Entry) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("short_name=%s version=%s: %w", shortName, version, ErrCollectionNotFound)
	}
	var entry collectionEntry
	if err := json.Unmarshal(resp.Feed.Entry[0], &entry); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("decode collection entry: %w", err)
	}

	start, err := ParseTime(entry.TimeStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse time_start: %w", err)
	}
	end := time.Now().UTC()
	if entry.TimeEnd != "" {
		if end, err = ParseTime(entry.TimeEnd); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse time_end: %w", err)
		}
	}
	return start, end, nil
}

// GranuleHits returns the total granule count for a collection, read from
// the CMR-Hits response header.
func (c *Client) GranuleHits(ctx context.Context, shortName, version string) (int, error) {
	u := fmt.Sprintf("%s/search/granules.json?short_name=%s&version=%s&page_size=1",
		c.base, url.QueryEscape(shortName), url.QueryEscape(version))
	_, header, err := c.get(ctx, u, "")
	if err != nil {
		return 0, err
	}
	hits, err := strconv.Atoi(header.Get(hitsHeader))
	if err != nil {
		return 0, fmt.Errorf("parse %s header: %w", hitsHeader, err)
	}
	return hits, nil
}

// Granule is one granule search result.
type Granule struct {
	ID        string `json:"id"`
	TimeStart string `json:"time_start"`
	TimeEnd   string `json:"time_end"`
}

// GranuleQuery scopes a granule page request.
type GranuleQuery struct {
	ShortName string
	Version   string
	// Temporal bounds the search, formatted as "start,end" by the client.
	TemporalStart time.Time
	TemporalEnd   time.Time
}

// GranulePage fetches one page of granules. searchAfter is the pagination
// token from the previous page ("" for the first). The returned token is
// empty when no further pages exist.
func (c *Client) GranulePage(ctx context.Context, q GranuleQuery, searchAfter string) ([]Granule, string, error) {
	v := url.Values{}
	v.Set("short_name", q.ShortName)
	v.Set("version", q.Version)
	v.Set("page_size", strconv.Itoa(PageSize))
	if !q.TemporalStart.IsZero() {
		v.Set("temporal", FormatTime(q.TemporalStart)+","+FormatTime(q.TemporalEnd))
	}
	u := fmt.Sprintf("%s/search/granules.json?%s", c.base, v.Encode())

	body, header, err := c.get(ctx, u, searchAfter)
	if err != nil {
		return nil, "", err
	}
	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("decode granules response: %w", err)
	}

	granules := make([]Granule, 0, len(resp.Feed.Entry))
	for _, raw := range resp.Feed.Entry {
		var g Granule
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, "", fmt.Errorf("decode granule entry: %w", err)
		}
		granules = append(granules, g)
	}
	return granules, header.Get(searchAfterHeader), nil
}

// get performs one GET with retries: non-200 responses and transport
// errors back off attempt-squared seconds, up to maxRetries; exhaustion is
// fatal to the caller.
func (c *Client) get(ctx context.Context, u, searchAfter string) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt*attempt) * time.Second
			c.log.Debug("retrying CMR request", "url", u, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		body, header, err := c.doGet(ctx, u, searchAfter)
		if err == nil {
			return body, header, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, nil, fmt.Errorf("max retries reached: %w", lastErr)
}

func (c *Client) doGet(ctx context.Context, u, searchAfter string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, err
	}
	if searchAfter != "" {
		req.Header.Set(searchAfterHeader, searchAfter)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("CMR request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read CMR response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("CMR API error: HTTP %d on %s: %s", resp.StatusCode, u, body)
	}
	return body, resp.Header, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime accepts the timestamp shapes CMR and the event stream emit.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTime renders a timestamp the way CMR temporal parameters expect.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
