package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/podaac/gaptracker/internal/interval"
	"github.com/podaac/gaptracker/internal/report"
)

// GapSource is the gap query surface the handler reads.
type GapSource interface {
	CollectionExists(ctx context.Context, collectionID string) (bool, error)
	ListGaps(ctx context.Context, collectionID string, opts interval.ListOptions) ([]interval.Gap, error)
}

// ToleranceGetter reads a collection's reporting tolerance.
type ToleranceGetter interface {
	Get(ctx context.Context, shortName, version string) (int64, error)
}

// Spiller stores oversized responses and mints download URLs for them.
type Spiller interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Gaps handles GET /gaps.
type Gaps struct {
	store      GapSource
	tolerances ToleranceGetter
	spill      Spiller
	now        func() time.Time
	log        *slog.Logger
}

// NewGaps builds the gaps handler.
func NewGaps(store GapSource, tolerances ToleranceGetter, spill Spiller, log *slog.Logger) *Gaps {
	if log == nil {
		log = slog.Default()
	}
	return &Gaps{
		store:      store,
		tolerances: tolerances,
		spill:      spill,
		now:        time.Now,
		log:        log.With("handler", "gaps"),
	}
}

// Handle lists a collection's gaps. Rows are [start, end, reason] triples;
// a response too large to return inline is spilled to the report bucket
// and handed back as a download URL.
func (h *Gaps) Handle(ctx context.Context, req Request) Response {
	if req.HTTPMethod != "GET" {
		return respondMessage(405, "method not allowed")
	}
	shortName := req.query("short_name")
	version := req.query("version")
	if shortName == "" || version == "" {
		return respondMessage(400, "short_name and version are required")
	}

	applyTolerance, err := parseBoolParam(req.query("tolerance"), false)
	if err != nil {
		return respondMessage(400, fmt.Sprintf("tolerance %v", err))
	}
	knownGap, err := parseBoolParam(req.query("knownGap"), true)
	if err != nil {
		return respondMessage(400, fmt.Sprintf("knownGap %v", err))
	}
	startDate, err := parseDateParam(req.query("startDate"))
	if err != nil {
		return respondMessage(400, fmt.Sprintf("startDate %v", err))
	}
	endDate, err := parseDateParam(req.query("endDate"))
	if err != nil {
		return respondMessage(400, fmt.Sprintf("endDate %v", err))
	}
	if startDate != nil && endDate != nil && startDate.After(*endDate) {
		return respondMessage(400, "startDate must not be after endDate")
	}

	collectionID := interval.CollectionID(shortName, version)
	exists, err := h.store.CollectionExists(ctx, collectionID)
	if err != nil {
		h.log.Error("collection lookup failed", "collection_id", collectionID, "error", err)
		return respondMessage(500, "internal error")
	}
	if !exists {
		return respondMessage(400, fmt.Sprintf("Collection %s has not been configured.", collectionID))
	}

	var tolerance int64
	if applyTolerance {
		tolerance, err = h.tolerances.Get(ctx, shortName, version)
		if err != nil {
			h.log.Error("tolerance lookup failed", "collection_id", collectionID, "error", err)
			return respondMessage(500, "internal error")
		}
	}

	gaps, err := h.store.ListGaps(ctx, collectionID, interval.ListOptions{
		Tolerance:   tolerance,
		UnknownOnly: !knownGap,
		Window:      interval.Window{Start: startDate, End: endDate},
	})
	if err != nil {
		h.log.Error("listing gaps failed", "collection_id", collectionID, "error", err)
		return respondMessage(500, "internal error")
	}
	if len(gaps) == 0 {
		return respondMessage(200, "No qualifying time gaps found.")
	}

	rows := make([][3]any, len(gaps))
	for i, g := range gaps {
		rows[i] = [3]any{g.Start.Format(TimeLayout), g.End.Format(TimeLayout), g.Reason}
	}
	payload, err := json.Marshal(map[string]any{
		"timeGaps":     rows,
		"gapTolerance": tolerance,
	})
	if err != nil {
		return respondMessage(500, "internal error")
	}

	if len(payload) > report.MaxInlineBytes {
		key := fmt.Sprintf("gaps/%s/%d.json", collectionID, h.now().Unix())
		if err := h.spill.Put(ctx, key, "application/json", payload); err != nil {
			h.log.Error("spilling oversized response failed", "key", key, "error", err)
			return respondMessage(500, "internal error")
		}
		url, err := h.spill.PresignGet(ctx, key, report.PresignTTL)
		if err != nil {
			h.log.Error("presigning spilled response failed", "key", key, "error", err)
			return respondMessage(500, "internal error")
		}
		return respondJSON(200, map[string]string{
			"message":       "Too many results for response, use the presigned URL",
			"presigned_url": url,
		})
	}
	return respond(200, "application/json", string(payload))
}
