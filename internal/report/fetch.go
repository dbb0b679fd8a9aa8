package report

import (
	"context"
	"time"
)

// MaxInlineBytes is the largest payload returned inline; anything bigger
// is handed back as a time-limited download URL instead.
const MaxInlineBytes = 6 * 1024 * 1024

// PresignTTL is how long download URLs stay valid.
const PresignTTL = time.Hour

// ObjectReader is the bucket surface the fetcher reads reports from.
type ObjectReader interface {
	Size(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Fetched is a retrieved report: either the inline body or, for oversized
// reports, a download URL.
type Fetched struct {
	Body         []byte
	PresignedURL string
}

// Fetcher retrieves generated reports.
type Fetcher struct {
	objects ObjectReader
}

// NewFetcher builds a Fetcher.
func NewFetcher(objects ObjectReader) *Fetcher {
	return &Fetcher{objects: objects}
}

// Fetch returns a collection's report, or ErrObjectNotFound when no report
// has been generated for it yet.
func (f *Fetcher) Fetch(ctx context.Context, shortName, version string) (Fetched, error) {
	key := Key(shortName, version)
	size, err := f.objects.Size(ctx, key)
	if err != nil {
		return Fetched{}, err
	}
	if size > MaxInlineBytes {
		url, err := f.objects.PresignGet(ctx, key, PresignTTL)
		if err != nil {
			return Fetched{}, err
		}
		return Fetched{PresignedURL: url}, nil
	}
	body, err := f.objects.Get(ctx, key)
	if err != nil {
		return Fetched{}, err
	}
	return Fetched{Body: body}, nil
}
