package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podaac/gaptracker/internal/interval"
	"github.com/podaac/gaptracker/internal/registry"
	"github.com/podaac/gaptracker/internal/report"
)

func decodeBody(t *testing.T, resp Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &m))
	return m
}

type fakeRegistrar struct {
	result registry.Result
	err    error
	reqs   []registry.Request
}

func (f *fakeRegistrar) Register(_ context.Context, req registry.Request) (registry.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.result, f.err
}

func TestCollectionsRegister(t *testing.T) {
	reg := &fakeRegistrar{result: registry.Result{
		CollectionID: "MODIS_A___1_0", Created: true, Backfilled: true,
	}}
	h := NewCollections(reg, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body:       `{"collections":[{"short_name":"MODIS_A","version":"1.0","tolerance":900}]}`,
	})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp)["message"], "configured")
	assert.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])

	require.Len(t, reg.reqs, 1)
	assert.Equal(t, "MODIS_A", reg.reqs[0].ShortName)
	require.NotNil(t, reg.reqs[0].Tolerance)
	assert.Equal(t, int64(900), *reg.reqs[0].Tolerance)
	assert.False(t, reg.reqs[0].Force)
}

func TestCollectionsRegisterBatchForce(t *testing.T) {
	reg := &fakeRegistrar{result: registry.Result{CollectionID: "X", Backfilled: true}}
	h := NewCollections(reg, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body: `{"collections":[` +
			`{"short_name":"MODIS_A","version":"1.0","tolerance":3600},` +
			`{"short_name":"VIIRS_B","version":"2.1"}` +
			`],"backfill":"force"}`,
	})
	assert.Equal(t, 200, resp.StatusCode)

	require.Len(t, reg.reqs, 2)
	assert.Equal(t, "MODIS_A", reg.reqs[0].ShortName)
	require.NotNil(t, reg.reqs[0].Tolerance)
	assert.Equal(t, int64(3600), *reg.reqs[0].Tolerance)
	assert.True(t, reg.reqs[0].Force)
	assert.Equal(t, "VIIRS_B", reg.reqs[1].ShortName)
	assert.Nil(t, reg.reqs[1].Tolerance)
	assert.True(t, reg.reqs[1].Force)
}

func TestCollectionsValidation(t *testing.T) {
	reg := &fakeRegistrar{}
	h := NewCollections(reg, nil)

	resp := h.Handle(context.Background(), Request{HTTPMethod: "GET"})
	assert.Equal(t, 405, resp.StatusCode)

	resp = h.Handle(context.Background(), Request{HTTPMethod: "POST", Body: `{"collections":[]}`})
	assert.Equal(t, 400, resp.StatusCode)

	resp = h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body:       `{"collections":[{"version":"1.0"}]}`,
	})
	assert.Equal(t, 400, resp.StatusCode)

	resp = h.Handle(context.Background(), Request{HTTPMethod: "POST", Body: `not json`})
	assert.Equal(t, 400, resp.StatusCode)

	assert.Empty(t, reg.reqs)
}

func TestCollectionsRegistrationFailure(t *testing.T) {
	reg := &fakeRegistrar{err: errors.New("backfill failed, use force=True to rectify")}
	h := NewCollections(reg, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body:       `{"collections":[{"short_name":"MODIS_A","version":"1.0"}]}`,
	})
	assert.Equal(t, 500, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp)["message"], "force=True")
}

type fakeGapSource struct {
	exists   bool
	gaps     []interval.Gap
	lastOpts interval.ListOptions
}

func (f *fakeGapSource) CollectionExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeGapSource) ListGaps(_ context.Context, _ string, opts interval.ListOptions) ([]interval.Gap, error) {
	f.lastOpts = opts
	return f.gaps, nil
}

type fakeSpiller struct {
	puts map[string][]byte
	url  string
}

func (f *fakeSpiller) Put(_ context.Context, key, _ string, body []byte) error {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = body
	return nil
}

func (f *fakeSpiller) PresignGet(context.Context, string, time.Duration) (string, error) {
	return f.url, nil
}

type fixedTolerance int64

func (f fixedTolerance) Get(context.Context, string, string) (int64, error) {
	return int64(f), nil
}

func gapsRequest(params map[string]string) Request {
	return Request{HTTPMethod: "GET", QueryStringParameters: params}
}

func TestGapsList(t *testing.T) {
	reason := "maneuver"
	store := &fakeGapSource{exists: true, gaps: []interval.Gap{
		{Start: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2000, 1, 1, 6, 0, 0, 0, time.UTC)},
		{Start: time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC), End: time.Date(2000, 1, 2, 12, 0, 0, 0, time.UTC), Reason: &reason},
	}}
	h := NewGaps(store, fixedTolerance(900), &fakeSpiller{}, nil)

	resp := h.Handle(context.Background(), gapsRequest(map[string]string{
		"short_name": "MODIS_A", "version": "1.0", "tolerance": "true",
	}))
	require.Equal(t, 200, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(900), body["gapTolerance"])
	rows, ok := body["timeGaps"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 2)

	first := rows[0].([]any)
	assert.Equal(t, "2000-01-01 00:00:00", first[0])
	assert.Equal(t, "2000-01-01 06:00:00", first[1])
	assert.Nil(t, first[2])
	second := rows[1].([]any)
	assert.Equal(t, "maneuver", second[2])

	assert.Equal(t, int64(900), store.lastOpts.Tolerance)
	assert.False(t, store.lastOpts.UnknownOnly)
}

func TestGapsKnownGapFalseFiltersReasons(t *testing.T) {
	store := &fakeGapSource{exists: true}
	h := NewGaps(store, fixedTolerance(0), &fakeSpiller{}, nil)

	resp := h.Handle(context.Background(), gapsRequest(map[string]string{
		"short_name": "MODIS_A", "version": "1.0", "knownGap": "false",
	}))
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, store.lastOpts.UnknownOnly)
}

func TestGapsNoQualifyingGaps(t *testing.T) {
	h := NewGaps(&fakeGapSource{exists: true}, fixedTolerance(0), &fakeSpiller{}, nil)

	resp := h.Handle(context.Background(), gapsRequest(map[string]string{
		"short_name": "MODIS_A", "version": "1.0",
	}))
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "No qualifying time gaps found.", decodeBody(t, resp)["message"])
}

func TestGapsValidation(t *testing.T) {
	h := NewGaps(&fakeGapSource{exists: true}, fixedTolerance(0), &fakeSpiller{}, nil)

	tests := []struct {
		name   string
		params map[string]string
		status int
	}{
		{"missing short_name", map[string]string{"version": "1.0"}, 400},
		{"bad tolerance", map[string]string{"short_name": "A", "version": "1", "tolerance": "yes"}, 400},
		{"bad knownGap", map[string]string{"short_name": "A", "version": "1", "knownGap": "1"}, 400},
		{"bad date", map[string]string{"short_name": "A", "version": "1", "startDate": "01/02/2000"}, 400},
		{"reversed dates", map[string]string{
			"short_name": "A", "version": "1",
			"startDate": "2000-02-01", "endDate": "2000-01-01"}, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Handle(context.Background(), gapsRequest(tt.params))
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestGapsDateWindowApplied(t *testing.T) {
	store := &fakeGapSource{exists: true}
	h := NewGaps(store, fixedTolerance(0), &fakeSpiller{}, nil)

	resp := h.Handle(context.Background(), gapsRequest(map[string]string{
		"short_name": "MODIS_A", "version": "1.0",
		"startDate": "2000-01-01", "endDate": "2000-06-30",
	}))
	assert.Equal(t, 200, resp.StatusCode)

	require.NotNil(t, store.lastOpts.Window.Start)
	require.NotNil(t, store.lastOpts.Window.End)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), *store.lastOpts.Window.Start)
	assert.Equal(t, time.Date(2000, 6, 30, 0, 0, 0, 0, time.UTC), *store.lastOpts.Window.End)
}

func TestGapsUnregisteredCollection(t *testing.T) {
	h := NewGaps(&fakeGapSource{exists: false}, fixedTolerance(0), &fakeSpiller{}, nil)

	resp := h.Handle(context.Background(), gapsRequest(map[string]string{
		"short_name": "GHOST", "version": "1.0",
	}))
	assert.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp)["message"], "has not been configured")
}

func TestGapsOversizedResponseSpills(t *testing.T) {
	long := strings.Repeat("x", 512)
	reason := long
	var gaps []interval.Gap
	for i := 0; i < report.MaxInlineBytes/512; i++ {
		gaps = append(gaps, interval.Gap{
			Start:  time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			End:    time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC),
			Reason: &reason,
		})
	}
	spill := &fakeSpiller{url: "https://bucket/gaps?sig"}
	h := NewGaps(&fakeGapSource{exists: true, gaps: gaps}, fixedTolerance(0), spill, nil)
	h.now = func() time.Time { return time.Unix(946684800, 0) }

	resp := h.Handle(context.Background(), gapsRequest(map[string]string{
		"short_name": "MODIS_A", "version": "1.0",
	}))
	require.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "https://bucket/gaps?sig", body["presigned_url"])
	assert.Equal(t, "Too many results for response, use the presigned URL", body["message"])
	assert.Contains(t, spill.puts, "gaps/MODIS_A___1_0/946684800.json")
}

type fakeReasonStore struct {
	exists     bool
	addErr     error
	reasons    []interval.Reason
	added      []interval.ReasonEntry
	addCalls   int
	lastWindow interval.Window
}

func (f *fakeReasonStore) CollectionExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func (f *fakeReasonStore) AddReasons(_ context.Context, entries []interval.ReasonEntry) error {
	f.addCalls++
	f.added = append(f.added, entries...)
	return f.addErr
}

func (f *fakeReasonStore) ListReasons(_ context.Context, _ string, w interval.Window) ([]interval.Reason, error) {
	f.lastWindow = w
	return f.reasons, nil
}

func TestReasonsAdd(t *testing.T) {
	store := &fakeReasonStore{exists: true}
	h := NewReasons(store, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body: `{"reasons":[{"shortname":"MODIS_A","version":"1.0",` +
			`"start_ts":"2000-01-01T00:00:00Z","end_ts":"2000-01-02T00:00:00Z","reason":"maneuver"}]}`,
	})
	assert.Equal(t, 201, resp.StatusCode)

	require.Len(t, store.added, 1)
	assert.Equal(t, "MODIS_A___1_0", store.added[0].CollectionID)
	assert.Equal(t, "maneuver", store.added[0].Text)
}

func TestReasonsAddBatch(t *testing.T) {
	store := &fakeReasonStore{exists: true}
	h := NewReasons(store, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body: `{"reasons":[` +
			`{"shortname":"MODIS_A","version":"1.0","start_ts":"2000-01-01T00:00:00Z","end_ts":"2000-01-02T00:00:00Z","reason":"maneuver"},` +
			`{"shortname":"MODIS_A","version":"1.0","start_ts":"2000-02-01T00:00:00Z","end_ts":"2000-02-02T00:00:00Z","reason":"eclipse"}` +
			`]}`,
	})
	assert.Equal(t, 201, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp)["message"], "2 reasons")

	assert.Equal(t, 1, store.addCalls)
	require.Len(t, store.added, 2)
	assert.Equal(t, "maneuver", store.added[0].Text)
	assert.Equal(t, "eclipse", store.added[1].Text)
}

func TestReasonsAddOverlapConflicts(t *testing.T) {
	store := &fakeReasonStore{exists: true, addErr: interval.ErrOverlap}
	h := NewReasons(store, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body: `{"reasons":[{"shortname":"MODIS_A","version":"1.0",` +
			`"start_ts":"2000-01-01T00:00:00Z","end_ts":"2000-01-02T00:00:00Z","reason":"maneuver"}]}`,
	})
	assert.Equal(t, 409, resp.StatusCode)
}

func TestReasonsAddValidation(t *testing.T) {
	store := &fakeReasonStore{exists: true}
	h := NewReasons(store, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body: `{"reasons":[{"shortname":"MODIS_A","version":"1.0",` +
			`"start_ts":"2000-01-02T00:00:00Z","end_ts":"2000-01-01T00:00:00Z","reason":"maneuver"}]}`,
	})
	assert.Equal(t, 400, resp.StatusCode, "reversed range rejected")

	resp = h.Handle(context.Background(), Request{
		HTTPMethod: "POST",
		Body:       `{"reasons":[{"shortname":"MODIS_A","version":"1.0"}]}`,
	})
	assert.Equal(t, 400, resp.StatusCode, "missing fields rejected")

	resp = h.Handle(context.Background(), Request{HTTPMethod: "POST", Body: `{"reasons":[]}`})
	assert.Equal(t, 400, resp.StatusCode, "empty batch rejected")

	assert.Zero(t, store.addCalls)
}

func TestReasonsList(t *testing.T) {
	store := &fakeReasonStore{exists: true, reasons: []interval.Reason{
		{
			Start: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC),
			Text:  "maneuver",
		},
	}}
	h := NewReasons(store, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod:            "GET",
		QueryStringParameters: map[string]string{"short_name": "MODIS_A", "version": "1.0"},
	})
	require.Equal(t, 200, resp.StatusCode)

	body := decodeBody(t, resp)
	rows := body["reasons"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "2000-01-01 00:00:00", row["start_time"])
	assert.Equal(t, "2000-01-02 00:00:00", row["end_time"])
	assert.Equal(t, "maneuver", row["reason"])
}

func TestReasonsListDateWindowApplied(t *testing.T) {
	store := &fakeReasonStore{exists: true}
	h := NewReasons(store, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "GET",
		QueryStringParameters: map[string]string{
			"short_name": "MODIS_A", "version": "1.0",
			"startDate": "2000-01-01", "endDate": "2000-06-30",
		},
	})
	assert.Equal(t, 200, resp.StatusCode)

	require.NotNil(t, store.lastWindow.Start)
	require.NotNil(t, store.lastWindow.End)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), *store.lastWindow.Start)
	assert.Equal(t, time.Date(2000, 6, 30, 0, 0, 0, 0, time.UTC), *store.lastWindow.End)
}

func TestReasonsUnsupportedMethod(t *testing.T) {
	h := NewReasons(&fakeReasonStore{}, nil)

	resp := h.Handle(context.Background(), Request{HTTPMethod: "PUT"})
	assert.Equal(t, 501, resp.StatusCode)
}

type fakeFetcher struct {
	fetched report.Fetched
	err     error
}

func (f *fakeFetcher) Fetch(context.Context, string, string) (report.Fetched, error) {
	return f.fetched, f.err
}

func TestReportPlainText(t *testing.T) {
	h := NewReport(&fakeFetcher{fetched: report.Fetched{Body: []byte("gap_begin,gap_end\n")}}, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod:            "GET",
		QueryStringParameters: map[string]string{"short_name": "MODIS_A", "version": "1.0"},
	})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Headers["Content-Type"])
	assert.Equal(t, "gap_begin,gap_end\n", resp.Body)
}

func TestReportCSVAttachment(t *testing.T) {
	h := NewReport(&fakeFetcher{fetched: report.Fetched{Body: []byte("gap_begin,gap_end\n")}}, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod: "GET",
		QueryStringParameters: map[string]string{
			"short_name": "MODIS_A", "version": "1.0", "output": "csv",
		},
	})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Headers["Content-Type"])
	assert.Equal(t,
		"attachment; filename=MODIS_A_1_0_filtered_time_gaps.csv",
		resp.Headers["Content-Disposition"])
}

func TestReportNotFound(t *testing.T) {
	h := NewReport(&fakeFetcher{err: report.ErrObjectNotFound}, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod:            "GET",
		QueryStringParameters: map[string]string{"short_name": "MODIS_A", "version": "1.0"},
	})
	assert.Equal(t, 404, resp.StatusCode)
}

func TestReportOversizedPresigns(t *testing.T) {
	h := NewReport(&fakeFetcher{fetched: report.Fetched{PresignedURL: "https://bucket/r?sig"}}, nil)

	resp := h.Handle(context.Background(), Request{
		HTTPMethod:            "GET",
		QueryStringParameters: map[string]string{"short_name": "MODIS_A", "version": "1.0"},
	})
	assert.Equal(t, 200, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "https://bucket/r?sig", body["presigned_url"])
	assert.Equal(t, "File too large for direct download, use the presigned URL", body["message"])
}
