// Package backfill streams a collection's granule catalog onto the event
// queue, turning a freshly registered collection's single full-extent gap
// into its real gap set once the maintenance engine drains the queue.
//
// Producers paginate disjoint temporal slices of the catalog and feed a
// bounded channel; consumers drain it and publish in small batches. The
// whole fan-out runs under one errgroup scope: the first failure cancels
// every sibling and surfaces as the run's error. Ordering on the queue is
// not guaranteed and does not matter — the engine is order-insensitive.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/podaac/gaptracker/internal/cmr"
	"github.com/podaac/gaptracker/internal/telemetry"
)

// Catalog is the granule catalog surface the producer paginates.
type Catalog interface {
	GranuleHits(ctx context.Context, shortName, version string) (int, error)
	CollectionWindow(ctx context.Context, shortName, version string) (time.Time, time.Time, error)
	GranulePage(ctx context.Context, q cmr.GranuleQuery, searchAfter string) ([]cmr.Granule, string, error)
}

// Message is one granule coverage event ready for the queue.
type Message struct {
	ID   string
	Body string
}

// Publisher delivers message batches to the event queue.
type Publisher interface {
	Publish(ctx context.Context, batch []Message) error
}

// Stats counts what a run moved.
type Stats struct {
	Fetched int64
	Sent    int64
}

// Producer orchestrates one collection backfill.
type Producer struct {
	catalog Catalog
	queue   Publisher
	log     *slog.Logger
}

// New builds a Producer.
func New(catalog Catalog, queue Publisher, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{
		catalog: catalog,
		queue:   queue,
		log:     log.With("component", "backfill"),
	}
}

// Run backfills one collection. It returns the fetch/send counts; a
// failure in any producer or consumer cancels the rest and is returned
// after all tasks have stopped. Partial progress stays on the queue — the
// maintenance engine is idempotent on ingest.
func (p *Producer) Run(ctx context.Context, shortName, version string) (Stats, error) {
	hits, err := p.catalog.GranuleHits(ctx, shortName, version)
	if err != nil {
		return Stats{}, fmt.Errorf("count granules: %w", err)
	}
	windowStart, windowEnd, err := p.catalog.CollectionWindow(ctx, shortName, version)
	if err != nil {
		return Stats{}, fmt.Errorf("collection window: %w", err)
	}
	params := computeParams(hits, windowStart, windowEnd)

	p.log.Info("starting collection backfill",
		"short_name", shortName, "version", version, "granules", hits,
		"producers", params.Producers, "consumers", params.Consumers)

	var fetched, sent atomic.Int64
	fetchedMetric := telemetry.Counter("gaptracker.backfill.fetched", "Granules fetched from the catalog")
	sentMetric := telemetry.Counter("gaptracker.backfill.sent", "Granule events published to the queue")

	started := time.Now()
	// nil is the consumer shutdown sentinel.
	ch := make(chan *Message, params.QueueSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		producers, pctx := errgroup.WithContext(gctx)
		for _, r := range params.Ranges {
			producers.Go(func() error {
				n, err := p.produceRange(pctx, shortName, version, r, ch)
				fetched.Add(n)
				fetchedMetric.Add(pctx, n)
				return err
			})
		}
		if err := producers.Wait(); err != nil {
			return err
		}
		p.log.Debug("all producers completed")
		for i := 0; i < params.Consumers; i++ {
			select {
			case ch <- nil:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < params.Consumers; i++ {
		g.Go(func() error {
			n, err := p.consume(gctx, ch)
			sent.Add(n)
			sentMetric.Add(gctx, n)
			return err
		})
	}

	err = g.Wait()
	stats := Stats{Fetched: fetched.Load(), Sent: sent.Load()}
	duration := time.Since(started)
	p.log.Info("collection backfill finished",
		"short_name", shortName, "version", version,
		"fetched", stats.Fetched, "sent", stats.Sent,
		"duration", duration.Round(time.Millisecond))
	if err != nil {
		return stats, fmt.Errorf("backfill %s v%s: %w", shortName, version, err)
	}
	return stats, nil
}

// produceRange paginates one temporal slice, emitting a message per
// granule. A full channel backpressures the producer until a consumer
// drains.
func (p *Producer) produceRange(ctx context.Context, shortName, version string, r DateRange, ch chan<- *Message) (int64, error) {
	q := cmr.GranuleQuery{
		ShortName:     shortName,
		Version:       version,
		TemporalStart: r.Start,
		TemporalEnd:   r.End,
	}
	var count int64
	searchAfter := ""
	for {
		granules, next, err := p.catalog.GranulePage(ctx, q, searchAfter)
		if err != nil {
			return count, err
		}
		if len(granules) == 0 {
			return count, nil
		}
		for _, granule := range granules {
			msg, err := buildMessage(granule, shortName, version)
			if err != nil {
				return count, err
			}
			select {
			case ch <- &msg:
			case <-ctx.Done():
				return count, ctx.Err()
			}
		}
		count += int64(len(granules))
		if next == "" {
			return count, nil
		}
		searchAfter = next
	}
}

// consume drains the channel and publishes batches of up to
// publishBatchSize, flushing the partial batch on the shutdown sentinel.
func (p *Producer) consume(ctx context.Context, ch <-chan *Message) (int64, error) {
	var sent int64
	batch := make([]Message, 0, publishBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.queue.Publish(ctx, batch); err != nil {
			return fmt.Errorf("publish batch: %w", err)
		}
		sent += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return sent, flush()
			}
			batch = append(batch, *msg)
			if len(batch) >= publishBatchSize {
				if err := flush(); err != nil {
					return sent, err
				}
			}
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
}

type granuleRecord struct {
	BeginningDateTime string `json:"beginningDateTime"`
	EndingDateTime    string `json:"endingDateTime"`
	CollectionID      string `json:"collectionId"`
}

// buildMessage wraps a granule in the event-bus envelope: the queue body
// is {"Message": "<stringified {record: ...}>"} so backfilled events decode
// identically to live bus notifications.
func buildMessage(g cmr.Granule, shortName, version string) (Message, error) {
	inner, err := json.Marshal(map[string]granuleRecord{
		"record": {
			BeginningDateTime: g.TimeStart,
			EndingDateTime:    g.TimeEnd,
			CollectionID:      shortName + "___" + version,
		},
	})
	if err != nil {
		return Message{}, err
	}
	body, err := json.Marshal(map[string]string{"Message": string(inner)})
	if err != nil {
		return Message{}, err
	}
	return Message{ID: g.ID, Body: string(body)}, nil
}
