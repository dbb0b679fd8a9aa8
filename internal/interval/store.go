package interval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrOverlap is returned when an insert would violate the per-collection
// exclusion constraint (no two gaps overlap; no two reasons overlap).
var ErrOverlap = errors.New("range overlaps an existing range")

// ErrCollectionExists is returned by InitCollection when the collection row
// is already present.
var ErrCollectionExists = errors.New("collection already registered")

// querier is satisfied by *pgxpool.Pool and pgx.Tx so the same helpers run
// pooled or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed interval store for gaps and reasons.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewStore wraps an established connection pool.
func NewStore(pool *pgxpool.Pool, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, log: log.With("component", "interval")}
}

var nonWord = regexp.MustCompile(`\W+`)

// partitionName builds the physical partition name for a parent table and
// collection id.
func partitionName(parent, collectionID string) string {
	return parent + "_" + nonWord.ReplaceAllString(collectionID, "_")
}

// quoteLiteral escapes a string for direct embedding in DDL, where bind
// parameters are not accepted.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// EnsurePartitions provisions the gaps and reasons partitions for a
// collection, each with its overlap-exclusion constraint. Idempotent and
// safe to call concurrently: a losing racer observes the partition (or the
// duplicate-table error) and continues.
func (s *Store) EnsurePartitions(ctx context.Context, collectionID string) error {
	return ensurePartitions(ctx, s.pool, s.log, collectionID)
}

func ensurePartitions(ctx context.Context, db querier, log *slog.Logger, collectionID string) error {
	for _, parent := range []string{"gaps", "reasons"} {
		name := partitionName(parent, collectionID)

		var exists bool
		err := db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_class c
				JOIN pg_namespace n ON n.oid = c.relnamespace
				WHERE c.relname = $1 AND n.nspname = 'public'
			)`, name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check partition %s: %w", name, err)
		}
		if exists {
			continue
		}

		ddl := fmt.Sprintf("CREATE TABLE %s PARTITION OF %s FOR VALUES IN (%s)",
			pgx.Identifier{name}.Sanitize(), pgx.Identifier{parent}.Sanitize(), quoteLiteral(collectionID))
		if _, err := db.Exec(ctx, ddl); err != nil {
			if isDuplicateTable(err) {
				continue
			}
			return fmt.Errorf("create partition %s: %w", name, err)
		}

		constraint := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s EXCLUDE USING gist (tsrange(start_ts, end_ts) WITH &&)",
			pgx.Identifier{name}.Sanitize(), pgx.Identifier{name + "_no_overlap"}.Sanitize())
		if _, err := db.Exec(ctx, constraint); err != nil {
			return fmt.Errorf("add exclusion constraint to %s: %w", name, err)
		}
		log.Info("created partition", "partition", name, "collection", collectionID)
	}
	return nil
}

// InitCollection provisions both partitions and inserts the collection row
// in a single transaction. The collections insert trigger seeds the initial
// full-extent gap, so a newly registered collection always has exactly one
// gap equal to its declared extent.
func (s *Store) InitCollection(ctx context.Context, collectionID string, extentStart, extentEnd time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ensurePartitions(ctx, tx, s.log, collectionID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO collections (collection_id, temporal_extent_start, temporal_extent_end)
		VALUES ($1, $2, $3)`, collectionID, extentStart, extentEnd)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", collectionID, ErrCollectionExists)
		}
		return fmt.Errorf("insert collection %s: %w", collectionID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info("initialized collection", "collection", collectionID,
		"extent_start", extentStart, "extent_end", extentEnd)
	return nil
}

// Collections returns the distinct ids of all registered collections.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT collection_id FROM collections`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CollectionExists reports whether a collection has been registered.
func (s *Store) CollectionExists(ctx context.Context, collectionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM collections WHERE collection_id = $1)`, collectionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", collectionID, err)
	}
	return exists, nil
}

// MissingCollections returns the subset of ids with no collections row.
func (s *Store) MissingCollections(ctx context.Context, ids []string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT collection_id FROM collections WHERE collection_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("check collections: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// InsertGap adds a single gap. Returns ErrOverlap if the range intersects
// an existing gap of the same collection.
func (s *Store) InsertGap(ctx context.Context, collectionID string, start, end time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gaps (collection_id, start_ts, end_ts) VALUES ($1, $2, $3)`,
		collectionID, start, end)
	if err != nil {
		if isExclusionViolation(err) {
			return fmt.Errorf("gap [%s, %s): %w", start, end, ErrOverlap)
		}
		return fmt.Errorf("insert gap: %w", err)
	}
	return nil
}

// DeleteGaps removes gaps by id, unconditionally.
func (s *Store) DeleteGaps(ctx context.Context, collectionID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM gaps WHERE collection_id = $1 AND gap_id = ANY($2)`, collectionID, ids)
	if err != nil {
		return fmt.Errorf("delete gaps: %w", err)
	}
	return nil
}

// listGapsSQL splits each gap against its overlapping reasons: the
// gap/reason intersections carry the reason text, and the remainder of the
// gap not covered by any reason comes back as null-reason rows. Every
// emitted row must itself pass the tolerance filter so a sliver of reason
// overlap cannot resurrect a below-tolerance row. DISTINCT collapses
// duplicate intersections.
const listGapsSQL = `
WITH params AS (
    SELECT $1::text AS collection_id,
           $2::timestamp AS start_date,
           $3::timestamp AS end_date,
           $4::bigint AS tolerance
),
windowed_gaps AS (
    SELECT g.gap_id, g.start_ts, g.end_ts
    FROM gaps g
    CROSS JOIN params p
    WHERE g.collection_id = p.collection_id
        AND (p.start_date IS NULL OR g.end_ts > p.start_date)
        AND (p.end_date IS NULL OR g.start_ts < p.end_date)
        AND EXTRACT(EPOCH FROM (g.end_ts - g.start_ts)) >= p.tolerance
),
overlapping AS (
    SELECT g.gap_id, g.start_ts AS gap_start, g.end_ts AS gap_end,
           r.start_ts AS reason_start, r.end_ts AS reason_end, r.reason
    FROM windowed_gaps g
    CROSS JOIN params p
    JOIN reasons r ON
        r.collection_id = p.collection_id
        AND tsrange(g.start_ts, g.end_ts) && tsrange(r.start_ts, r.end_ts)
        AND (p.start_date IS NULL OR r.end_ts > p.start_date)
        AND (p.end_date IS NULL OR r.start_ts < p.end_date)
),
known AS (
    SELECT DISTINCT
        GREATEST(gap_start, reason_start) AS start_ts,
        LEAST(gap_end, reason_end) AS end_ts,
        reason
    FROM overlapping
),
unknown AS (
    SELECT lower(piece) AS start_ts, upper(piece) AS end_ts, NULL::text AS reason
    FROM (
        SELECT unnest(
            tsmultirange(tsrange(g.start_ts, g.end_ts)) -
            COALESCE((SELECT range_agg(tsrange(o.reason_start, o.reason_end))
                      FROM overlapping o WHERE o.gap_id = g.gap_id),
                     tsmultirange())
        ) AS piece
        FROM windowed_gaps g
    ) pieces
    WHERE NOT isempty(piece)
)
SELECT start_ts, end_ts, reason
FROM (
    SELECT * FROM known
    UNION ALL
    SELECT * FROM unknown
) segments
CROSS JOIN params p
WHERE EXTRACT(EPOCH FROM (end_ts - start_ts)) >= p.tolerance
    %s
ORDER BY start_ts`

// ListGaps returns the gaps of a collection matching the filter, ordered by
// start time. A trailing far-future sentinel end is replaced with the
// current time.
func (s *Store) ListGaps(ctx context.Context, collectionID string, opts ListOptions) ([]Gap, error) {
	known := ""
	if opts.UnknownOnly {
		known = "AND reason IS NULL"
	}
	query := fmt.Sprintf(listGapsSQL, known)

	rows, err := s.pool.Query(ctx, query,
		collectionID, opts.Window.Start, opts.Window.End, opts.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("list gaps for %s: %w", collectionID, err)
	}
	defer rows.Close()

	var gaps []Gap
	for rows.Next() {
		var g Gap
		if err := rows.Scan(&g.Start, &g.End, &g.Reason); err != nil {
			return nil, err
		}
		gaps = append(gaps, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return substituteSentinel(gaps, time.Now().UTC()), nil
}

// substituteSentinel rewrites the final row's end time when it carries the
// far-future sentinel. Gaps of one collection are disjoint and ordered by
// start, so the sentinel-ended gap is necessarily the last row.
func substituteSentinel(gaps []Gap, now time.Time) []Gap {
	if n := len(gaps); n > 0 && gaps[n-1].End.Year() == SentinelEnd.Year() {
		gaps[n-1].End = now
	}
	return gaps
}

// ReasonEntry is one reason annotation to insert.
type ReasonEntry struct {
	CollectionID string
	Start        time.Time
	End          time.Time
	Text         string
}

// AddReasons inserts reason ranges. An entry overlapping an existing reason
// of the same collection fails with ErrOverlap; earlier entries of the
// batch stay committed (each insert is its own statement).
func (s *Store) AddReasons(ctx context.Context, entries []ReasonEntry) error {
	for _, e := range entries {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO reasons (collection_id, start_ts, end_ts, reason) VALUES ($1, $2, $3, $4)`,
			e.CollectionID, e.Start, e.End, e.Text)
		if err != nil {
			if isExclusionViolation(err) {
				return fmt.Errorf("reason [%s, %s) for %s: %w", e.Start, e.End, e.CollectionID, ErrOverlap)
			}
			return fmt.Errorf("insert reason for %s: %w", e.CollectionID, err)
		}
	}
	return nil
}

// ListReasons returns reasons whose range overlaps the window, ordered by
// start time.
func (s *Store) ListReasons(ctx context.Context, collectionID string, w Window) ([]Reason, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start_ts, end_ts, reason FROM reasons
		WHERE collection_id = $1
		  AND ($2::timestamp IS NULL OR end_ts > $2::timestamp)
		  AND ($3::timestamp IS NULL OR start_ts < $3::timestamp)
		ORDER BY start_ts`, collectionID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("list reasons for %s: %w", collectionID, err)
	}
	defer rows.Close()

	var reasons []Reason
	for rows.Next() {
		var r Reason
		if err := rows.Scan(&r.Start, &r.End, &r.Text); err != nil {
			return nil, err
		}
		reasons = append(reasons, r)
	}
	return reasons, rows.Err()
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isDuplicateTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P07"
}
