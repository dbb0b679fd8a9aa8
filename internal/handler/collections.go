package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/podaac/gaptracker/internal/registry"
)

// Registrar onboards collections.
type Registrar interface {
	Register(ctx context.Context, req registry.Request) (registry.Result, error)
}

// Collections handles POST /collections.
type Collections struct {
	registrar Registrar
	log       *slog.Logger
}

// NewCollections builds the collections handler.
func NewCollections(registrar Registrar, log *slog.Logger) *Collections {
	if log == nil {
		log = slog.Default()
	}
	return &Collections{registrar: registrar, log: log.With("handler", "collections")}
}

type collectionEntry struct {
	ShortName string `json:"short_name"`
	Version   string `json:"version"`
	Tolerance *int64 `json:"tolerance"`
}

type collectionsBody struct {
	Collections []collectionEntry `json:"collections"`
	Backfill    string            `json:"backfill"`
}

// Handle registers the listed collections. backfill=force reruns the
// backfill for collections that already exist.
func (h *Collections) Handle(ctx context.Context, req Request) Response {
	if req.HTTPMethod != "POST" {
		return respondMessage(405, "method not allowed")
	}
	var body collectionsBody
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondMessage(400, fmt.Sprintf("invalid request body: %v", err))
	}
	if len(body.Collections) == 0 {
		return respondMessage(400, "collections list is required")
	}
	for _, c := range body.Collections {
		if c.ShortName == "" || c.Version == "" {
			return respondMessage(400, "short_name and version are required for every collection")
		}
	}
	force := body.Backfill == "force"

	var messages []string
	for _, c := range body.Collections {
		result, err := h.registrar.Register(ctx, registry.Request{
			ShortName: c.ShortName,
			Version:   c.Version,
			Tolerance: c.Tolerance,
			Force:     force,
		})
		if err != nil {
			h.log.Error("collection registration failed",
				"short_name", c.ShortName, "version", c.Version, "error", err)
			return respondMessage(500, err.Error())
		}

		switch {
		case result.Created:
			messages = append(messages, fmt.Sprintf("Collection %s configured, %d granules backfilled.",
				result.CollectionID, result.Stats.Sent))
		case result.Backfilled:
			messages = append(messages, fmt.Sprintf("Collection %s backfill rerun, %d granules sent.",
				result.CollectionID, result.Stats.Sent))
		default:
			messages = append(messages, fmt.Sprintf("Collection %s already configured.", result.CollectionID))
		}
	}
	return respondMessage(200, strings.Join(messages, " "))
}
