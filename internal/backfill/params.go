package backfill

import (
	"math"
	"time"

	"github.com/podaac/gaptracker/internal/cmr"
)

const (
	maxProducers     = 8
	pagesPerProducer = 10
	consumerRatio    = 1.5
	publishBatchSize = 10
)

// DateRange is one producer's slice of the collection window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Params sizes the producer/consumer fan-out for a collection: one
// producer per ~10 catalog pages of granules (capped), half again as many
// consumers, and a channel deep enough to keep producers ahead of the
// publishers.
type Params struct {
	Producers int
	Consumers int
	QueueSize int
	Ranges    []DateRange
}

func computeParams(granules int, start, end time.Time) Params {
	p := int(math.Round(math.Max(1, math.Min(
		float64(granules)/(cmr.PageSize*pagesPerProducer), maxProducers))))
	c := int(math.Round(float64(p) * consumerRatio))
	return Params{
		Producers: p,
		Consumers: c,
		QueueSize: p * 2 * cmr.PageSize,
		Ranges:    splitRange(start, end, p),
	}
}

// splitRange divides [start, end] into n equal sub-ranges.
func splitRange(start, end time.Time, n int) []DateRange {
	delta := end.Sub(start) / time.Duration(n)
	ranges := make([]DateRange, n)
	for i := 0; i < n; i++ {
		ranges[i] = DateRange{
			Start: start.Add(delta * time.Duration(i)),
			End:   start.Add(delta * time.Duration(i+1)),
		}
	}
	// Guard against truncation in the division leaving a tail uncovered.
	ranges[n-1].End = end
	return ranges
}
