package interval

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Batch updates stage their records into a transaction-local relation and
// let the database compute the new gap set with range arithmetic. The
// advisory lock serializes concurrent workers on the same collection
// without blocking other collections; it releases on commit or rollback.

const createStagingSQL = `
CREATE TEMP TABLE input_records (
    collection_id text,
    start_ts timestamp,
    end_ts timestamp
) ON COMMIT DROP`

const advisoryLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

// ingestSQL removes the staged granule coverage from the gap set:
// gap_set <- gap_set - union(granules). Overlapped gaps are deleted and the
// uncovered remainders reinserted, which yields the split/shrink/delete
// cases of a single granule as degenerate forms. The granule end rounds up
// to the next whole second, mirroring the delete side, so a delete followed
// by an ingest of the same granule cancels exactly.
const ingestSQL = `
WITH covered AS (
    SELECT collection_id,
           range_agg(tsrange(start_ts, date_trunc('second', end_ts) + interval '1 second')) AS granule_ranges
    FROM input_records
    GROUP BY collection_id
),
removed AS (
    DELETE FROM gaps
    USING covered c
    WHERE gaps.collection_id = c.collection_id
      AND tsrange(gaps.start_ts, gaps.end_ts) && c.granule_ranges
    RETURNING gaps.collection_id, tsrange(gaps.start_ts, gaps.end_ts) AS gap_range
)
INSERT INTO gaps (collection_id, start_ts, end_ts)
SELECT collection_id, lower(piece), upper(piece)
FROM (
    SELECT r.collection_id, unnest(range_agg(r.gap_range) - c.granule_ranges) AS piece
    FROM removed r
    JOIN covered c ON c.collection_id = r.collection_id
    GROUP BY r.collection_id, c.granule_ranges
) pieces
WHERE NOT isempty(piece)`

// deleteOverlapCheckSQL finds staged delete ranges that already intersect a
// gap: the upstream told us to delete a granule whose coverage we never
// knew existed.
const deleteOverlapCheckSQL = `
SELECT ir.start_ts, ir.end_ts, gaps.start_ts, gaps.end_ts
FROM gaps, input_records ir
WHERE gaps.collection_id = ir.collection_id
  AND tsrange(gaps.start_ts, gaps.end_ts) &&
      tsrange(ir.start_ts, date_trunc('second', ir.end_ts) + interval '1 second')`

// deleteMergeSQL turns each staged range into a gap, rounding the end up to
// the next whole second so sub-second boundaries between adjacent granules
// cannot leave microscopic gaps, then merges with every overlapping or
// adjacent existing gap.
const deleteMergeSQL = `
WITH input_ranges AS (
    SELECT collection_id, tsrange(start_ts, date_trunc('second', end_ts) + interval '1 second') AS gap_range
    FROM input_records
),
removed_gaps AS (
    DELETE FROM gaps WHERE gap_id IN (
        SELECT gap_id FROM gaps, input_ranges
        WHERE gaps.collection_id = input_ranges.collection_id
          AND (tsrange(gaps.start_ts, gaps.end_ts) && input_ranges.gap_range
               OR tsrange(gaps.start_ts, gaps.end_ts) -|- input_ranges.gap_range)
    ) RETURNING collection_id, tsrange(start_ts, end_ts) AS gap_range
),
all_ranges AS (
    SELECT collection_id, gap_range FROM input_ranges
    UNION ALL SELECT collection_id, gap_range FROM removed_gaps
)
INSERT INTO gaps (collection_id, start_ts, end_ts)
SELECT collection_id, lower(merged_range), upper(merged_range)
FROM (SELECT collection_id, unnest(range_agg(gap_range)) AS merged_range
      FROM all_ranges GROUP BY collection_id) final_ranges`

func stageRecords(ctx context.Context, tx pgx.Tx, records []Record) error {
	if _, err := tx.Exec(ctx, createStagingSQL); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"input_records"},
		[]string{"collection_id", "start_ts", "end_ts"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{r.CollectionID, r.Start, r.End}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	return nil
}

// ApplyIngest carves the given granule coverage out of the collection's gap
// set in one serialized transaction.
func (s *Store) ApplyIngest(ctx context.Context, collectionID string, records []Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := stageRecords(ctx, tx, records); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, advisoryLockSQL, collectionID); err != nil {
		return fmt.Errorf("acquire collection lock: %w", err)
	}
	if _, err := tx.Exec(ctx, ingestSQL); err != nil {
		return fmt.Errorf("apply ingest for %s: %w", collectionID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info("transaction committed", "collection", collectionID, "records", len(records))
	return nil
}

// ApplyDelete inserts one gap per just-deleted granule range, merged with
// overlapping or adjacent existing gaps. A staged range already overlapping
// a gap signals an upstream consistency anomaly; it is logged and the merge
// proceeds.
func (s *Store) ApplyDelete(ctx context.Context, collectionID string, records []Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := stageRecords(ctx, tx, records); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, advisoryLockSQL, collectionID); err != nil {
		return fmt.Errorf("acquire collection lock: %w", err)
	}

	overlaps, err := checkDeleteOverlaps(ctx, tx)
	if err != nil {
		return fmt.Errorf("check delete overlaps for %s: %w", collectionID, err)
	}
	for _, o := range overlaps {
		s.log.Warn("deleting nonexistent data: deleted granule overlaps existing gap",
			"collection", collectionID,
			"granule_start", o.GranuleStart, "granule_end", o.GranuleEnd,
			"gap_start", o.GapStart, "gap_end", o.GapEnd)
	}

	if _, err := tx.Exec(ctx, deleteMergeSQL); err != nil {
		return fmt.Errorf("apply delete for %s: %w", collectionID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info("added gaps for deleted granules", "collection", collectionID, "records", len(records))
	return nil
}

// DeleteOverlap pairs a staged delete range with the existing gap it
// intersects.
type DeleteOverlap struct {
	GranuleStart time.Time
	GranuleEnd   time.Time
	GapStart     time.Time
	GapEnd       time.Time
}

func checkDeleteOverlaps(ctx context.Context, tx pgx.Tx) ([]DeleteOverlap, error) {
	rows, err := tx.Query(ctx, deleteOverlapCheckSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overlaps []DeleteOverlap
	for rows.Next() {
		var o DeleteOverlap
		if err := rows.Scan(&o.GranuleStart, &o.GranuleEnd, &o.GapStart, &o.GapEnd); err != nil {
			return nil, err
		}
		overlaps = append(overlaps, o)
	}
	return overlaps, rows.Err()
}
