package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/lookout/internal/stream"
)

const ref = int64(1700000000000)

func record(encoded int64) stream.FrameMetadata {
	return stream.FrameMetadata{
		SiteID:           1,
		ChannelID:        2,
		FrameID:          encoded / 100,
		TimeStamp:        ref + encoded,
		TimeStampEncoded: encoded,
	}
}

func batch(encoded ...int64) []stream.FrameMetadata {
	out := make([]stream.FrameMetadata, 0, len(encoded))
	for _, e := range encoded {
		out = append(out, record(e))
	}
	return out
}

func TestReferenceSetOnce(t *testing.T) {
	ix := NewIndex()
	_, ok := ix.Reference()
	assert.False(t, ok)

	ix.Merge(nil)
	_, ok = ix.Reference()
	assert.False(t, ok, "empty batch must not set the reference")

	ix.Merge(batch(0, 100))
	r, ok := ix.Reference()
	require.True(t, ok)
	assert.Equal(t, ref, r)

	early := record(0)
	early.TimeStamp = ref - 5000
	ix.Merge([]stream.FrameMetadata{early})
	r, _ = ix.Reference()
	assert.Equal(t, ref, r)
}

func TestMergeLastWriteWins(t *testing.T) {
	ix := NewIndex()
	ix.Merge(batch(100, 200))

	updated := record(200)
	updated.PeopleCount = 9
	ix.Merge([]stream.FrameMetadata{updated})

	assert.Equal(t, 2, ix.Len())
	md, ok := ix.byKey[200]
	require.True(t, ok)
	assert.Equal(t, 9, md.PeopleCount)
}

func TestNearest(t *testing.T) {
	ix := NewIndex()
	ix.Merge(batch(100, 500, 900))

	tests := []struct {
		name  string
		query int64
		want  int64
	}{
		{"between favours closer", 650, 500},
		{"closer to upper", 750, 900},
		{"before first", 0, 100},
		{"after last", 5000, 900},
		{"exact", 500, 500},
		{"tie resolves to earlier", 700, 500},
		{"tie at low end resolves to earlier", 300, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, ok := ix.Nearest(tt.query)
			require.True(t, ok)
			assert.Equal(t, tt.want, md.TimeStampEncoded)
		})
	}
}

func TestNearestEmpty(t *testing.T) {
	ix := NewIndex()
	_, ok := ix.Nearest(100)
	assert.False(t, ok)
}

func TestNearestDuplicateTimestamps(t *testing.T) {
	ix := NewIndex()
	a := record(100)
	b := record(101)
	b.TimeStamp = a.TimeStamp
	ix.Merge([]stream.FrameMetadata{b, a})

	md, ok := ix.Nearest(100)
	require.True(t, ok)
	assert.Equal(t, int64(100), md.TimeStampEncoded)
}

func TestResolvePrefersExactKey(t *testing.T) {
	ix := NewIndex()
	// encoded key and wall clock disagree: exact key must still win
	skewed := record(500)
	skewed.TimeStamp = ref + 2000
	ix.Merge([]stream.FrameMetadata{record(100), skewed, record(900)})

	md, ok := ix.Resolve(0.5)
	require.True(t, ok)
	assert.Equal(t, int64(500), md.TimeStampEncoded)

	// 0.65s has no exact key; nearest by wall clock is the 900 record
	md, ok = ix.Resolve(0.65)
	require.True(t, ok)
	assert.Equal(t, int64(900), md.TimeStampEncoded)
}

func TestEncodedTimeRoundsUp(t *testing.T) {
	assert.Equal(t, int64(100), EncodedTime(0.1))
	assert.Equal(t, int64(1235), EncodedTime(1.2341))
	assert.Equal(t, int64(0), EncodedTime(0))
}

func TestPruneRangeIsExact(t *testing.T) {
	ix := NewIndex()
	ix.Merge(batch(0, 900, 1000, 1500, 2000, 2001, 3000))

	removed := ix.PruneRange(1000, 2000)
	assert.Equal(t, 3, removed)

	for _, kept := range []int64{0, 900, 2001, 3000} {
		_, ok := ix.byKey[kept]
		assert.True(t, ok, "key %d outside the range must survive", kept)
	}
	for _, gone := range []int64{1000, 1500, 2000} {
		_, ok := ix.byKey[gone]
		assert.False(t, ok, "key %d inside the range must be removed", gone)
	}

	assert.Zero(t, ix.PruneRange(5000, 4000))
}

func TestNearestAfterPrune(t *testing.T) {
	ix := NewIndex()
	ix.Merge(batch(100, 500, 900))
	ix.PruneRange(400, 600)

	md, ok := ix.Nearest(500)
	require.True(t, ok)
	assert.Equal(t, int64(100), md.TimeStampEncoded, "equal distance to 100 and 900 resolves to the earlier")
}

func TestResetClearsReference(t *testing.T) {
	ix := NewIndex()
	ix.Merge(batch(100))
	ix.Reset()

	assert.Zero(t, ix.Len())
	_, ok := ix.Reference()
	assert.False(t, ok)

	next := record(0)
	next.TimeStamp = ref + 60000
	ix.Merge([]stream.FrameMetadata{next})
	r, _ := ix.Reference()
	assert.Equal(t, ref+60000, r)
}

func TestRecordsOrdered(t *testing.T) {
	ix := NewIndex()
	ix.Merge(batch(900, 100))
	ix.Merge(batch(500))

	var keys []int64
	for _, md := range ix.Records() {
		keys = append(keys, md.TimeStampEncoded)
	}
	assert.Equal(t, []int64{100, 500, 900}, keys)
}
