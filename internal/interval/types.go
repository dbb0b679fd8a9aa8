// Package interval implements the persistent interval store: gaps and
// reasons partitioned per collection, with overlap exclusion enforced by
// the database. All range arithmetic (split, merge, intersection) runs in
// SQL over tsrange/tsmultirange; this package never re-implements it.
package interval

import (
	"fmt"
	"strings"
	"time"
)

// SentinelEnd marks an open-ended collection extent. Readers substitute
// the current wall-clock time when surfacing it.
var SentinelEnd = time.Date(9999, 12, 31, 23, 59, 59, 999999000, time.UTC)

// CollectionID composes the composite collection key from a short name and
// a raw version: short_name + "___" + version with "." replaced by "_".
func CollectionID(shortName, version string) string {
	return shortName + "___" + SanitizeVersion(version)
}

// SanitizeVersion replaces dots in a version string so the result is safe
// inside a collection id.
func SanitizeVersion(version string) string {
	return strings.ReplaceAll(version, ".", "_")
}

// RestoreVersion reverses SanitizeVersion.
func RestoreVersion(version string) string {
	return strings.ReplaceAll(version, "_", ".")
}

// ParseCollectionID splits a collection id on the rightmost "___" and
// restores the raw version.
func ParseCollectionID(collectionID string) (shortName, version string, err error) {
	idx := strings.LastIndex(collectionID, "___")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid collection id format: %s", collectionID)
	}
	return collectionID[:idx], RestoreVersion(collectionID[idx+3:]), nil
}

// Record is one granule coverage range staged for a batch update.
type Record struct {
	CollectionID string
	Start        time.Time
	End          time.Time
}

// Gap is a coverage hole as returned by ListGaps. Reason is nil unless a
// reason range overlaps the gap, in which case Start/End are the
// intersection of gap and reason.
type Gap struct {
	Start  time.Time
	End    time.Time
	Reason *string
}

// Reason is a free-text annotation over a time range.
type Reason struct {
	Start time.Time
	End   time.Time
	Text  string
}

// Window optionally bounds a query to ranges overlapping [Start, End].
// Nil endpoints are unbounded.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// ListOptions filter the gaps returned by ListGaps.
type ListOptions struct {
	// Tolerance suppresses gaps (and gap/reason intersections) shorter
	// than this many seconds. Zero passes everything.
	Tolerance int64
	// UnknownOnly drops rows that carry a reason.
	UnknownOnly bool
	Window      Window
}
