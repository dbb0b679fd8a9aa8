package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/podaac/gaptracker/internal/cmr"
	"github.com/podaac/gaptracker/internal/interval"
)

// QueueEvent is the batch envelope delivered by the event source.
type QueueEvent struct {
	Records []QueueRecord `json:"Records"`
}

// QueueRecord is one queued message. Its Body carries a doubly nested
// payload: JSON with a stringified "Message" field which itself holds the
// granule record.
type QueueRecord struct {
	MessageID      string `json:"messageId"`
	EventSourceARN string `json:"eventSourceARN"`
	Body           string `json:"body"`
}

type messageBody struct {
	Message string `json:"Message"`
}

type granulePayload struct {
	Record struct {
		CollectionID      string `json:"collectionId"`
		BeginningDateTime string `json:"beginningDateTime"`
		EndingDateTime    string `json:"endingDateTime"`
	} `json:"record"`
}

// coverage is one decoded granule interval tagged with the queue message
// it came from, so a storage failure can be reported per message.
type coverage struct {
	messageID string
	record    interval.Record
}

// decodeRecord unwraps one queue message into a granule coverage interval.
// Version dots in the collection id are normalized to underscores so the
// id matches the registered partition key. A granule with no end time is
// still being extended and covers through the far-future sentinel.
func decodeRecord(qr QueueRecord) (coverage, error) {
	var body messageBody
	if err := json.Unmarshal([]byte(qr.Body), &body); err != nil {
		return coverage{}, fmt.Errorf("decode message body: %w", err)
	}
	var payload granulePayload
	if err := json.Unmarshal([]byte(body.Message), &payload); err != nil {
		return coverage{}, fmt.Errorf("decode granule record: %w", err)
	}
	r := payload.Record
	if r.CollectionID == "" {
		return coverage{}, fmt.Errorf("record has no collection id")
	}
	collectionID := strings.ReplaceAll(r.CollectionID, ".", "_")

	start, err := cmr.ParseTime(r.BeginningDateTime)
	if err != nil {
		return coverage{}, fmt.Errorf("parse beginning datetime %q: %w", r.BeginningDateTime, err)
	}
	end := interval.SentinelEnd
	if r.EndingDateTime != "" {
		end, err = cmr.ParseTime(r.EndingDateTime)
		if err != nil {
			return coverage{}, fmt.Errorf("parse ending datetime %q: %w", r.EndingDateTime, err)
		}
	}
	return coverage{
		messageID: qr.MessageID,
		record: interval.Record{
			CollectionID: collectionID,
			Start:        start,
			End:          end,
		},
	}, nil
}
