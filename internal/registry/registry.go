// Package registry onboards collections into gap tracking: it provisions
// the collection's gap partitions seeded with one full-extent gap, stores
// its reporting tolerance, kicks off the catalog backfill, and subscribes
// the collection to the granule event bus.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/podaac/gaptracker/internal/backfill"
	"github.com/podaac/gaptracker/internal/cmr"
	"github.com/podaac/gaptracker/internal/interval"
)

// GapStore is the collection storage surface used during registration.
type GapStore interface {
	CollectionExists(ctx context.Context, collectionID string) (bool, error)
	InitCollection(ctx context.Context, collectionID string, extentStart, extentEnd time.Time) error
}

// ExtentSource reports a collection's temporal extent from the catalog.
type ExtentSource interface {
	CollectionExtent(ctx context.Context, shortName, version string) (cmr.Extent, error)
}

// Backfiller streams a collection's existing granules onto the event queue.
type Backfiller interface {
	Run(ctx context.Context, shortName, version string) (backfill.Stats, error)
}

// ToleranceStore persists per-collection gap tolerances.
type ToleranceStore interface {
	Put(ctx context.Context, shortName, version string, seconds int64) error
}

// Subscriber routes a collection's bus notifications to the gap queues.
type Subscriber interface {
	AddCollection(ctx context.Context, collectionID string) error
}

// Request describes one collection to register.
type Request struct {
	ShortName string
	Version   string
	// Tolerance is the minimum reported gap in seconds; nil leaves any
	// stored tolerance untouched.
	Tolerance *int64
	// Force reruns the backfill for an already registered collection.
	Force bool
}

// Result summarizes what registration did.
type Result struct {
	CollectionID string
	Created      bool
	Backfilled   bool
	Stats        backfill.Stats
}

// Registrar wires the registration collaborators together.
type Registrar struct {
	store      GapStore
	catalog    ExtentSource
	backfiller Backfiller
	tolerances ToleranceStore
	subscriber Subscriber
	log        *slog.Logger
}

// New builds a Registrar.
func New(store GapStore, catalog ExtentSource, backfiller Backfiller, tolerances ToleranceStore, subscriber Subscriber, log *slog.Logger) *Registrar {
	if log == nil {
		log = slog.Default()
	}
	return &Registrar{
		store:      store,
		catalog:    catalog,
		backfiller: backfiller,
		tolerances: tolerances,
		subscriber: subscriber,
		log:        log.With("component", "registry"),
	}
}

// Register onboards one collection. New collections get partitions, a
// full-extent seed gap, and a backfill; existing collections are a no-op
// unless Force requests a fresh backfill. A failed backfill leaves the
// collection registered, so the caller can force a rerun instead of
// re-registering.
func (r *Registrar) Register(ctx context.Context, req Request) (Result, error) {
	if req.ShortName == "" || req.Version == "" {
		return Result{}, errors.New("short name and version are required")
	}
	collectionID := interval.CollectionID(req.ShortName, req.Version)
	result := Result{CollectionID: collectionID}

	if req.Tolerance != nil {
		// Tolerance storage failing should not block registration.
		if err := r.tolerances.Put(ctx, req.ShortName, req.Version, *req.Tolerance); err != nil {
			r.log.Warn("storing tolerance failed", "collection_id", collectionID, "error", err)
		}
	}

	exists, err := r.store.CollectionExists(ctx, collectionID)
	if err != nil {
		return result, fmt.Errorf("check collection %s: %w", collectionID, err)
	}

	switch {
	case !exists:
		extent, err := r.catalog.CollectionExtent(ctx, req.ShortName, req.Version)
		if err != nil {
			return result, fmt.Errorf("collection extent for %s: %w", collectionID, err)
		}
		if err := r.store.InitCollection(ctx, collectionID, extent.Start, extent.End); err != nil {
			return result, fmt.Errorf("initialize collection %s: %w", collectionID, err)
		}
		result.Created = true
		r.log.Info("collection registered",
			"collection_id", collectionID,
			"extent_start", extent.Start, "extent_end", extent.End)

		stats, err := r.backfiller.Run(ctx, req.ShortName, req.Version)
		result.Stats = stats
		if err != nil {
			return result, fmt.Errorf(
				"collection %s registered but backfill failed, use force=True to rectify: %w",
				collectionID, err)
		}
		result.Backfilled = true

	case req.Force:
		stats, err := r.backfiller.Run(ctx, req.ShortName, req.Version)
		result.Stats = stats
		if err != nil {
			return result, fmt.Errorf("forced backfill for %s: %w", collectionID, err)
		}
		result.Backfilled = true

	default:
		r.log.Info("collection already registered", "collection_id", collectionID)
	}

	if err := r.subscriber.AddCollection(ctx, collectionID); err != nil {
		return result, fmt.Errorf("subscribe collection %s: %w", collectionID, err)
	}
	return result, nil
}
