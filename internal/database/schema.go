package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Parent tables are list-partitioned by collection id; the per-collection
// partitions (and their exclusion constraints) are provisioned at
// registration time by the interval store. The collections insert trigger
// seeds the initial full-extent gap so registration and seeding cannot
// diverge.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS collections (
    collection_id text PRIMARY KEY,
    temporal_extent_start timestamp NOT NULL,
    temporal_extent_end timestamp NOT NULL
);

CREATE TABLE IF NOT EXISTS gaps (
    gap_id bigserial,
    collection_id text NOT NULL,
    start_ts timestamp NOT NULL,
    end_ts timestamp NOT NULL
) PARTITION BY LIST (collection_id);

CREATE TABLE IF NOT EXISTS reasons (
    reason_id bigserial,
    collection_id text NOT NULL,
    start_ts timestamp NOT NULL,
    end_ts timestamp NOT NULL,
    reason text NOT NULL
) PARTITION BY LIST (collection_id);

CREATE OR REPLACE FUNCTION insert_initial_gap() RETURNS trigger AS $$
BEGIN
    INSERT INTO gaps (collection_id, start_ts, end_ts)
    VALUES (NEW.collection_id, NEW.temporal_extent_start, NEW.temporal_extent_end);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS collections_initial_gap ON collections;
CREATE TRIGGER collections_initial_gap
    AFTER INSERT ON collections
    FOR EACH ROW EXECUTE FUNCTION insert_initial_gap();
`

// ApplySchema creates the parent tables and the initial-gap trigger.
// Idempotent.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
