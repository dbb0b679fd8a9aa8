package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/podaac/gaptracker/internal/cmr"
	"github.com/podaac/gaptracker/internal/interval"
)

// ReasonStore reads and writes gap reason annotations.
type ReasonStore interface {
	CollectionExists(ctx context.Context, collectionID string) (bool, error)
	AddReasons(ctx context.Context, entries []interval.ReasonEntry) error
	ListReasons(ctx context.Context, collectionID string, w interval.Window) ([]interval.Reason, error)
}

// Reasons handles POST and GET /reasons.
type Reasons struct {
	store ReasonStore
	log   *slog.Logger
}

// NewReasons builds the reasons handler.
func NewReasons(store ReasonStore, log *slog.Logger) *Reasons {
	if log == nil {
		log = slog.Default()
	}
	return &Reasons{store: store, log: log.With("handler", "reasons")}
}

type reasonEntryBody struct {
	ShortName string `json:"shortname"`
	Version   string `json:"version"`
	StartTS   string `json:"start_ts"`
	EndTS     string `json:"end_ts"`
	Reason    string `json:"reason"`
}

type reasonsBody struct {
	Reasons []reasonEntryBody `json:"reasons"`
}

type reasonRow struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

// Handle dispatches on method: POST annotates ranges, GET lists
// annotations. Other methods are not implemented.
func (h *Reasons) Handle(ctx context.Context, req Request) Response {
	switch req.HTTPMethod {
	case "POST":
		return h.add(ctx, req)
	case "GET":
		return h.list(ctx, req)
	default:
		return respondMessage(501, "not implemented")
	}
}

func (h *Reasons) add(ctx context.Context, req Request) Response {
	var body reasonsBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondMessage(400, fmt.Sprintf("invalid request body: %v", err))
	}
	if len(body.Reasons) == 0 {
		return respondMessage(400, "reasons list is required")
	}

	entries := make([]interval.ReasonEntry, 0, len(body.Reasons))
	checked := map[string]bool{}
	for _, r := range body.Reasons {
		if r.ShortName == "" || r.Version == "" || r.Reason == "" {
			return respondMessage(400, "shortname, version and reason are required for every entry")
		}
		start, err := cmr.ParseTime(r.StartTS)
		if err != nil {
			return respondMessage(400, fmt.Sprintf("invalid start_ts: %v", err))
		}
		end, err := cmr.ParseTime(r.EndTS)
		if err != nil {
			return respondMessage(400, fmt.Sprintf("invalid end_ts: %v", err))
		}
		if !start.Before(end) {
			return respondMessage(400, "start_ts must be before end_ts")
		}

		collectionID := interval.CollectionID(r.ShortName, r.Version)
		if !checked[collectionID] {
			exists, err := h.store.CollectionExists(ctx, collectionID)
			if err != nil {
				h.log.Error("collection lookup failed", "collection_id", collectionID, "error", err)
				return respondMessage(500, "internal error")
			}
			if !exists {
				return respondMessage(400, fmt.Sprintf("Collection %s has not been configured.", collectionID))
			}
			checked[collectionID] = true
		}

		entries = append(entries, interval.ReasonEntry{
			CollectionID: collectionID,
			Start:        start,
			End:          end,
			Text:         r.Reason,
		})
	}

	err := h.store.AddReasons(ctx, entries)
	if errors.Is(err, interval.ErrOverlap) {
		return respondMessage(409, "reason overlaps an existing reason range")
	}
	if err != nil {
		h.log.Error("adding reasons failed", "error", err)
		return respondMessage(500, "internal error")
	}
	return respondMessage(201, fmt.Sprintf("%d reasons recorded", len(entries)))
}

func (h *Reasons) list(ctx context.Context, req Request) Response {
	shortName := req.query("short_name")
	version := req.query("version")
	if shortName == "" || version == "" {
		return respondMessage(400, "short_name and version are required")
	}
	startDate, err := parseDateParam(req.query("startDate"))
	if err != nil {
		return respondMessage(400, fmt.Sprintf("startDate %v", err))
	}
	endDate, err := parseDateParam(req.query("endDate"))
	if err != nil {
		return respondMessage(400, fmt.Sprintf("endDate %v", err))
	}

	collectionID := interval.CollectionID(shortName, version)
	reasons, err := h.store.ListReasons(ctx, collectionID, interval.Window{Start: startDate, End: endDate})
	if err != nil {
		h.log.Error("listing reasons failed", "collection_id", collectionID, "error", err)
		return respondMessage(500, "internal error")
	}

	rows := make([]reasonRow, len(reasons))
	for i, r := range reasons {
		rows[i] = reasonRow{
			StartTime: r.Start.Format(TimeLayout),
			EndTime:   r.End.Format(TimeLayout),
			Reason:    r.Text,
		}
	}
	return respondJSON(200, map[string]any{"reasons": rows})
}
