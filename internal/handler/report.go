package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/podaac/gaptracker/internal/report"
)

// ReportFetcher retrieves generated gap reports.
type ReportFetcher interface {
	Fetch(ctx context.Context, shortName, version string) (report.Fetched, error)
}

// Report handles GET /report.
type Report struct {
	fetcher ReportFetcher
	log     *slog.Logger
}

// NewReport builds the report handler.
func NewReport(fetcher ReportFetcher, log *slog.Logger) *Report {
	if log == nil {
		log = slog.Default()
	}
	return &Report{fetcher: fetcher, log: log.With("handler", "report")}
}

// Handle returns a collection's gap report. With output=csv the body is
// served as a CSV attachment, otherwise as plain text. Oversized reports
// come back as a download URL.
func (h *Report) Handle(ctx context.Context, req Request) Response {
	if req.HTTPMethod != "GET" {
		return respondMessage(405, "method not allowed")
	}
	shortName := req.query("short_name")
	version := req.query("version")
	if shortName == "" || version == "" {
		return respondMessage(400, "short_name and version are required")
	}

	fetched, err := h.fetcher.Fetch(ctx, shortName, version)
	if errors.Is(err, report.ErrObjectNotFound) {
		return respondMessage(404, fmt.Sprintf("No report found for %s v%s.", shortName, version))
	}
	if err != nil {
		h.log.Error("fetching report failed",
			"short_name", shortName, "version", version, "error", err)
		return respondMessage(500, "internal error")
	}
	if fetched.PresignedURL != "" {
		return respondJSON(200, map[string]string{
			"message":       "File too large for direct download, use the presigned URL",
			"presigned_url": fetched.PresignedURL,
		})
	}

	if req.query("output") == "csv" {
		resp := respond(200, "text/csv", string(fetched.Body))
		resp.Headers["Content-Disposition"] = fmt.Sprintf(
			"attachment; filename=%s", report.Key(shortName, version))
		return resp
	}
	return respond(200, "text/plain", string(fetched.Body))
}
