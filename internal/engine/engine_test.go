package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podaac/gaptracker/internal/interval"
)

const (
	ingestARN   = "arn:aws:sqs:us-west-2:000000000000:granule-ingest"
	deletionARN = "arn:aws:sqs:us-west-2:000000000000:granule-deletion"
)

type appliedCall struct {
	collectionID string
	deletion     bool
	records      []interval.Record
}

type fakeStore struct {
	missing    []string
	missingErr error
	applyErr   error
	calls      []appliedCall
}

func (f *fakeStore) MissingCollections(_ context.Context, ids []string) ([]string, error) {
	return f.missing, f.missingErr
}

func (f *fakeStore) ApplyIngest(_ context.Context, collectionID string, records []interval.Record) error {
	f.calls = append(f.calls, appliedCall{collectionID: collectionID, records: records})
	return f.applyErr
}

func (f *fakeStore) ApplyDelete(_ context.Context, collectionID string, records []interval.Record) error {
	f.calls = append(f.calls, appliedCall{collectionID: collectionID, deletion: true, records: records})
	return f.applyErr
}

func queueRecord(t *testing.T, messageID, sourceARN, collectionID, start, end string) QueueRecord {
	t.Helper()
	record := map[string]any{
		"collectionId":      collectionID,
		"beginningDateTime": start,
	}
	if end != "" {
		record["endingDateTime"] = end
	}
	inner, err := json.Marshal(map[string]any{"record": record})
	require.NoError(t, err)
	body, err := json.Marshal(map[string]string{"Message": string(inner)})
	require.NoError(t, err)
	return QueueRecord{MessageID: messageID, EventSourceARN: sourceARN, Body: string(body)}
}

func TestProcessGroupsByCollectionAndOperation(t *testing.T) {
	store := &fakeStore{}
	eng := New(store, deletionARN, nil)

	event := QueueEvent{Records: []QueueRecord{
		queueRecord(t, "m1", ingestARN, "MODIS_A___1.0", "2000-01-01T00:00:00Z", "2000-01-01T01:00:00Z"),
		queueRecord(t, "m2", ingestARN, "MODIS_A___1.0", "2000-01-02T00:00:00Z", "2000-01-02T01:00:00Z"),
		queueRecord(t, "m3", deletionARN, "MODIS_A___1.0", "2000-01-03T00:00:00Z", "2000-01-03T01:00:00Z"),
		queueRecord(t, "m4", ingestARN, "VIIRS___2.0", "2000-02-01T00:00:00Z", "2000-02-01T01:00:00Z"),
	}}

	result, err := eng.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, result.BatchItemFailures)

	require.Len(t, store.calls, 3)
	assert.Equal(t, "MODIS_A___1_0", store.calls[0].collectionID)
	assert.False(t, store.calls[0].deletion)
	assert.Len(t, store.calls[0].records, 2)
	assert.Equal(t, "MODIS_A___1_0", store.calls[1].collectionID)
	assert.True(t, store.calls[1].deletion)
	assert.Equal(t, "VIIRS___2_0", store.calls[2].collectionID)
}

func TestProcessOpenEndedGranuleCoversSentinel(t *testing.T) {
	store := &fakeStore{}
	eng := New(store, deletionARN, nil)

	event := QueueEvent{Records: []QueueRecord{
		queueRecord(t, "m1", ingestARN, "MODIS_A___1.0", "2000-01-01T00:00:00Z", ""),
	}}
	_, err := eng.Process(context.Background(), event)
	require.NoError(t, err)

	require.Len(t, store.calls, 1)
	require.Len(t, store.calls[0].records, 1)
	assert.Equal(t, interval.SentinelEnd, store.calls[0].records[0].End)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), store.calls[0].records[0].Start)
}

func TestProcessUnregisteredCollectionFailsGroup(t *testing.T) {
	store := &fakeStore{missing: []string{"GHOST___1_0"}}
	eng := New(store, deletionARN, nil)

	event := QueueEvent{Records: []QueueRecord{
		queueRecord(t, "m1", ingestARN, "GHOST___1.0", "2000-01-01T00:00:00Z", "2000-01-01T01:00:00Z"),
		queueRecord(t, "m2", ingestARN, "GHOST___1.0", "2000-01-02T00:00:00Z", "2000-01-02T01:00:00Z"),
		queueRecord(t, "m3", ingestARN, "MODIS_A___1.0", "2000-01-01T00:00:00Z", "2000-01-01T01:00:00Z"),
	}}

	result, err := eng.Process(context.Background(), event)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Failure{{ItemIdentifier: "m1"}, {ItemIdentifier: "m2"}}, result.BatchItemFailures)

	require.Len(t, store.calls, 1, "unregistered collection never reaches storage")
	assert.Equal(t, "MODIS_A___1_0", store.calls[0].collectionID)
}

func TestProcessStorageFailureFailsGroupMessages(t *testing.T) {
	store := &fakeStore{applyErr: errors.New("partition missing")}
	eng := New(store, deletionARN, nil)

	event := QueueEvent{Records: []QueueRecord{
		queueRecord(t, "m1", ingestARN, "MODIS_A___1.0", "2000-01-01T00:00:00Z", "2000-01-01T01:00:00Z"),
		queueRecord(t, "m2", ingestARN, "MODIS_A___1.0", "2000-01-02T00:00:00Z", "2000-01-02T01:00:00Z"),
	}}

	result, err := eng.Process(context.Background(), event)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Failure{{ItemIdentifier: "m1"}, {ItemIdentifier: "m2"}}, result.BatchItemFailures)
}

func TestProcessUndecodableMessageFailsAlone(t *testing.T) {
	store := &fakeStore{}
	eng := New(store, deletionARN, nil)

	event := QueueEvent{Records: []QueueRecord{
		{MessageID: "bad", EventSourceARN: ingestARN, Body: "not json"},
		queueRecord(t, "good", ingestARN, "MODIS_A___1.0", "2000-01-01T00:00:00Z", "2000-01-01T01:00:00Z"),
	}}

	result, err := eng.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, []Failure{{ItemIdentifier: "bad"}}, result.BatchItemFailures)
	require.Len(t, store.calls, 1)
}

func TestProcessEmptyEvent(t *testing.T) {
	store := &fakeStore{}
	eng := New(store, deletionARN, nil)

	result, err := eng.Process(context.Background(), QueueEvent{})
	require.NoError(t, err)
	assert.NotNil(t, result.BatchItemFailures)
	assert.Empty(t, result.BatchItemFailures)
	assert.Empty(t, store.calls)
}

func TestDecodeRecordTimestampFormats(t *testing.T) {
	for _, start := range []string{
		"2000-01-01T00:00:00.000Z",
		"2000-01-01T00:00:00",
		"2000-01-01 00:00:00",
	} {
		qr := queueRecord(t, "m1", ingestARN, "MODIS_A___1.0", start, "")
		cov, err := decodeRecord(qr)
		require.NoError(t, err, start)
		assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), cov.record.Start, start)
	}
}
