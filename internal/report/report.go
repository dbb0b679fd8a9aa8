// Package report generates and serves the per-collection gap CSV reports.
// Reports are filtered by each collection's stored tolerance and uploaded
// to the report bucket, where clients fetch them directly or through a
// time-limited download URL.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"

	"github.com/podaac/gaptracker/internal/interval"
)

// TimeLayout is the timestamp format used in report rows.
const TimeLayout = "2006-01-02 15:04:05"

// GapLister is the gap query surface the reporter reads.
type GapLister interface {
	Collections(ctx context.Context) ([]string, error)
	ListGaps(ctx context.Context, collectionID string, opts interval.ListOptions) ([]interval.Gap, error)
}

// ToleranceGetter reads a collection's reporting tolerance.
type ToleranceGetter interface {
	Get(ctx context.Context, shortName, version string) (int64, error)
}

// Uploader stores generated reports.
type Uploader interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

// CollectionResult records the outcome for one collection in a run.
type CollectionResult struct {
	CollectionID string `json:"collection_id"`
	Key          string `json:"key,omitempty"`
	Gaps         int    `json:"gaps"`
	Error        string `json:"error,omitempty"`
}

// Reporter writes one CSV per collection.
type Reporter struct {
	store      GapLister
	tolerances ToleranceGetter
	uploader   Uploader
	log        *slog.Logger
}

// NewReporter builds a Reporter.
func NewReporter(store GapLister, tolerances ToleranceGetter, uploader Uploader, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		store:      store,
		tolerances: tolerances,
		uploader:   uploader,
		log:        log.With("component", "report"),
	}
}

// Key names the report object for one collection.
func Key(shortName, version string) string {
	return fmt.Sprintf("%s_%s_filtered_time_gaps.csv", shortName, interval.SanitizeVersion(version))
}

// Run reports every registered collection, or only the given ids. One
// collection failing does not stop the rest; failures are recorded in that
// collection's result.
func (r *Reporter) Run(ctx context.Context, collectionIDs []string) ([]CollectionResult, error) {
	if len(collectionIDs) == 0 {
		var err error
		collectionIDs, err = r.store.Collections(ctx)
		if err != nil {
			return nil, fmt.Errorf("list collections: %w", err)
		}
	}

	results := make([]CollectionResult, 0, len(collectionIDs))
	for _, id := range collectionIDs {
		result := r.reportCollection(ctx, id)
		if result.Error != "" {
			r.log.Error("collection report failed", "collection_id", id, "error", result.Error)
		} else {
			r.log.Info("collection report written",
				"collection_id", id, "key", result.Key, "gaps", result.Gaps)
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Reporter) reportCollection(ctx context.Context, collectionID string) CollectionResult {
	result := CollectionResult{CollectionID: collectionID}

	shortName, version, err := interval.ParseCollectionID(collectionID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	tolerance, err := r.tolerances.Get(ctx, shortName, version)
	if err != nil {
		result.Error = fmt.Sprintf("get tolerance: %v", err)
		return result
	}
	gaps, err := r.store.ListGaps(ctx, collectionID, interval.ListOptions{Tolerance: tolerance})
	if err != nil {
		result.Error = fmt.Sprintf("list gaps: %v", err)
		return result
	}

	body, err := renderCSV(gaps)
	if err != nil {
		result.Error = fmt.Sprintf("render csv: %v", err)
		return result
	}
	key := Key(shortName, version)
	if err := r.uploader.Put(ctx, key, "text/csv", body); err != nil {
		result.Error = fmt.Sprintf("upload report: %v", err)
		return result
	}
	result.Key = key
	result.Gaps = len(gaps)
	return result
}

func renderCSV(gaps []interval.Gap) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"gap_begin", "gap_end"}); err != nil {
		return nil, err
	}
	for _, g := range gaps {
		row := []string{g.Start.Format(TimeLayout), g.End.Format(TimeLayout)}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
