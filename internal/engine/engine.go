// Package engine consumes granule coverage events and maintains each
// collection's gap set. Ingest events carve covered intervals out of the
// gaps; deletion events merge the uncovered interval back in. Failed
// messages are reported individually so the queue redelivers only them.
package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/podaac/gaptracker/internal/interval"
	"github.com/podaac/gaptracker/internal/telemetry"
)

// Store is the gap storage surface the engine drives.
type Store interface {
	MissingCollections(ctx context.Context, ids []string) ([]string, error)
	ApplyIngest(ctx context.Context, collectionID string, records []interval.Record) error
	ApplyDelete(ctx context.Context, collectionID string, records []interval.Record) error
}

// Failure identifies one message that should be redelivered.
type Failure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// Result is the partial-batch response for one processed event.
type Result struct {
	BatchItemFailures []Failure `json:"batchItemFailures"`
}

// Engine applies queued coverage events to the gap store.
type Engine struct {
	store            Store
	deletionQueueARN string
	log              *slog.Logger
}

// New builds an Engine. deletionQueueARN marks which event source carries
// granule deletions; everything else is treated as ingest.
func New(store Store, deletionQueueARN string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:            store,
		deletionQueueARN: deletionQueueARN,
		log:              log.With("component", "engine"),
	}
}

type groupKey struct {
	collectionID string
	deletion     bool
}

type group struct {
	key        groupKey
	messageIDs []string
	records    []interval.Record
}

// Process applies one queue event. Messages are grouped per collection and
// operation so each group is one storage transaction; a group that fails
// fails all of its messages, and messages for unregistered collections fail
// without touching storage.
func (e *Engine) Process(ctx context.Context, event QueueEvent) (Result, error) {
	processed := telemetry.Counter("gaptracker.engine.processed", "Coverage events applied to the gap store")
	failed := telemetry.Counter("gaptracker.engine.failed", "Coverage events reported for redelivery")

	// Always an array in the response, never null.
	failures := []Failure{}
	groups := make(map[groupKey]*group)

	for _, qr := range event.Records {
		cov, err := decodeRecord(qr)
		if err != nil {
			e.log.Error("dropping undecodable message", "message_id", qr.MessageID, "error", err)
			failures = append(failures, Failure{ItemIdentifier: qr.MessageID})
			continue
		}
		key := groupKey{
			collectionID: cov.record.CollectionID,
			deletion:     qr.EventSourceARN == e.deletionQueueARN,
		}
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
		}
		g.messageIDs = append(g.messageIDs, cov.messageID)
		g.records = append(g.records, cov.record)
	}

	ids := make([]string, 0, len(groups))
	seen := make(map[string]bool)
	for key := range groups {
		if !seen[key.collectionID] {
			seen[key.collectionID] = true
			ids = append(ids, key.collectionID)
		}
	}
	sort.Strings(ids)

	missing := make(map[string]bool)
	if len(ids) > 0 {
		absent, err := e.store.MissingCollections(ctx, ids)
		if err != nil {
			return Result{}, err
		}
		for _, id := range absent {
			missing[id] = true
		}
	}

	// Deterministic group order keeps logs and tests stable.
	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].key.collectionID != ordered[j].key.collectionID {
			return ordered[i].key.collectionID < ordered[j].key.collectionID
		}
		return !ordered[i].key.deletion && ordered[j].key.deletion
	})

	for _, g := range ordered {
		if missing[g.key.collectionID] {
			e.log.Warn("skipping events for unregistered collection",
				"collection_id", g.key.collectionID, "messages", len(g.messageIDs))
			for _, id := range g.messageIDs {
				failures = append(failures, Failure{ItemIdentifier: id})
			}
			continue
		}

		var err error
		if g.key.deletion {
			err = e.store.ApplyDelete(ctx, g.key.collectionID, g.records)
		} else {
			err = e.store.ApplyIngest(ctx, g.key.collectionID, g.records)
		}
		if err != nil {
			e.log.Error("applying coverage group failed",
				"collection_id", g.key.collectionID, "deletion", g.key.deletion,
				"messages", len(g.messageIDs), "error", err)
			for _, id := range g.messageIDs {
				failures = append(failures, Failure{ItemIdentifier: id})
			}
			continue
		}
		processed.Add(ctx, int64(len(g.messageIDs)))
	}

	failed.Add(ctx, int64(len(failures)))
	return Result{BatchItemFailures: failures}, nil
}
