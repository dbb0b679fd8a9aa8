// Package handler implements the HTTP-style API surface: collection
// registration, gap queries, reason annotations, and report retrieval.
// Handlers speak a transport-neutral request/response envelope so the same
// code serves both the HTTP server and event-driven invocations.
package handler

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout formats gap timestamps in API responses.
const TimeLayout = "2006-01-02 15:04:05"

// DateLayout parses the startDate and endDate query parameters.
const DateLayout = "2006-01-02"

// Request is the transport-neutral API request envelope.
type Request struct {
	HTTPMethod            string            `json:"httpMethod"`
	Path                  string            `json:"path"`
	Body                  string            `json:"body"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
}

// Response is the transport-neutral API response envelope.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

func (r Request) query(name string) string {
	return r.QueryStringParameters[name]
}

func respond(status int, contentType, body string) Response {
	return Response{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":                contentType,
			"Access-Control-Allow-Origin": "*",
		},
		Body: body,
	}
}

func respondJSON(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return respondMessage(500, fmt.Sprintf("encode response: %v", err))
	}
	return respond(status, "application/json", string(body))
}

func respondMessage(status int, message string) Response {
	return respondJSON(status, map[string]string{"message": message})
}

// parseBoolParam interprets an optional "true"/"false" query parameter.
func parseBoolParam(raw string, def bool) (bool, error) {
	switch raw {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("must be 'true' or 'false', got %q", raw)
	}
}

// parseDateParam interprets an optional YYYY-MM-DD query parameter.
func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("must be YYYY-MM-DD, got %q", raw)
	}
	return &t, nil
}
