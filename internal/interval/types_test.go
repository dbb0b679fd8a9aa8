package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionID(t *testing.T) {
	assert.Equal(t, "MODIS_A___1_0", CollectionID("MODIS_A", "1.0"))
	assert.Equal(t, "JASON-1___F", CollectionID("JASON-1", "F"))
}

func TestParseCollectionID(t *testing.T) {
	short, version, err := ParseCollectionID("MODIS_A___1_0")
	require.NoError(t, err)
	assert.Equal(t, "MODIS_A", short)
	assert.Equal(t, "1.0", version)

	// Short names may themselves contain triple underscores; split on the
	// rightmost occurrence.
	short, version, err = ParseCollectionID("A___B___2")
	require.NoError(t, err)
	assert.Equal(t, "A___B", short)
	assert.Equal(t, "2", version)

	_, _, err = ParseCollectionID("no-separator")
	assert.Error(t, err)
}

func TestSanitizeRoundTrip(t *testing.T) {
	assert.Equal(t, "1.2.3", RestoreVersion(SanitizeVersion("1.2.3")))
}

func TestPartitionName(t *testing.T) {
	assert.Equal(t, "gaps_MODIS_A___1_0", partitionName("gaps", "MODIS_A___1_0"))
	assert.Equal(t, "reasons_JASON_1___F", partitionName("reasons", "JASON-1___F"))
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'abc'", quoteLiteral("abc"))
	assert.Equal(t, "'it''s'", quoteLiteral("it's"))
}

func TestSubstituteSentinel(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("trailing sentinel replaced", func(t *testing.T) {
		gaps := []Gap{
			{Start: start, End: start.AddDate(0, 6, 0)},
			{Start: start.AddDate(1, 0, 0), End: SentinelEnd},
		}
		got := substituteSentinel(gaps, now)
		assert.Equal(t, now, got[1].End)
		assert.Equal(t, start.AddDate(0, 6, 0), got[0].End)
	})

	t.Run("no sentinel untouched", func(t *testing.T) {
		gaps := []Gap{{Start: start, End: start.AddDate(0, 1, 0)}}
		got := substituteSentinel(gaps, now)
		assert.Equal(t, start.AddDate(0, 1, 0), got[0].End)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, substituteSentinel(nil, now))
	})
}
