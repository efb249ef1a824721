// Package metadata correlates per-frame analytics records with buffered media time.
package metadata

import (
	"math"
	"sort"

	"github.com/zsiec/lookout/internal/stream"
)

// Index stores frame metadata keyed by encoded timestamp (stream-relative ms).
// An Index belongs to one session and is not safe for concurrent use.
type Index struct {
	byKey     map[int64]stream.FrameMetadata
	ordered   []int64 // keys sorted by TimeStamp, then key
	dirty     bool
	reference int64
	hasRef    bool
}

func NewIndex() *Index {
	return &Index{byKey: make(map[int64]stream.FrameMetadata)}
}

// Merge adds a batch to the index, last write wins per key. The first
// element of the first non-empty batch fixes the session reference time.
func (ix *Index) Merge(batch []stream.FrameMetadata) {
	if len(batch) == 0 {
		return
	}
	if !ix.hasRef {
		ix.reference = batch[0].TimeStamp
		ix.hasRef = true
	}
	for _, md := range batch {
		ix.byKey[md.TimeStampEncoded] = md
	}
	ix.dirty = true
}

// Reference returns the wall-clock ms that media time zero maps to.
func (ix *Index) Reference() (int64, bool) {
	return ix.reference, ix.hasRef
}

func (ix *Index) Len() int {
	return len(ix.byKey)
}

// Resolve maps a presented media time (seconds) to a record: the exact key
// ceil(mediaTime*1000) when present, otherwise the nearest record.
func (ix *Index) Resolve(mediaTime float64) (stream.FrameMetadata, bool) {
	encoded := EncodedTime(mediaTime)
	if md, ok := ix.byKey[encoded]; ok {
		return md, true
	}
	return ix.Nearest(encoded)
}

// Nearest returns the record whose TimeStamp is closest to reference+encodedMs.
// On equal distance the earlier record wins.
func (ix *Index) Nearest(encodedMs int64) (stream.FrameMetadata, bool) {
	if !ix.hasRef || len(ix.byKey) == 0 {
		return stream.FrameMetadata{}, false
	}
	ix.sortKeys()

	target := ix.reference + encodedMs
	i := sort.Search(len(ix.ordered), func(i int) bool {
		return ix.byKey[ix.ordered[i]].TimeStamp >= target
	})

	// candidates are the last record before target and the first at or after it
	var best stream.FrameMetadata
	bestDist := int64(math.MaxInt64)
	found := false
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(ix.ordered) {
			continue
		}
		md := ix.byKey[ix.ordered[j]]
		dist := md.TimeStamp - target
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best, bestDist, found = md, dist, true
		}
	}
	if found {
		// several records may share the winning TimeStamp; take the first
		first := sort.Search(len(ix.ordered), func(k int) bool {
			return ix.byKey[ix.ordered[k]].TimeStamp >= best.TimeStamp
		})
		best = ix.byKey[ix.ordered[first]]
	}
	return best, found
}

// PruneRange removes records whose key lies in [fromMs, toMs] and returns how
// many were removed.
func (ix *Index) PruneRange(fromMs, toMs int64) int {
	if toMs < fromMs {
		return 0
	}
	removed := 0
	for key := range ix.byKey {
		if key >= fromMs && key <= toMs {
			delete(ix.byKey, key)
			removed++
		}
	}
	if removed > 0 {
		ix.dirty = true
	}
	return removed
}

// Reset empties the index and clears the reference time.
func (ix *Index) Reset() {
	ix.byKey = make(map[int64]stream.FrameMetadata)
	ix.ordered = nil
	ix.dirty = false
	ix.reference = 0
	ix.hasRef = false
}

// Records returns all records ordered by TimeStamp.
func (ix *Index) Records() []stream.FrameMetadata {
	ix.sortKeys()
	out := make([]stream.FrameMetadata, 0, len(ix.ordered))
	for _, key := range ix.ordered {
		out = append(out, ix.byKey[key])
	}
	return out
}

func (ix *Index) sortKeys() {
	if !ix.dirty && len(ix.ordered) == len(ix.byKey) {
		return
	}
	ix.ordered = ix.ordered[:0]
	for key := range ix.byKey {
		ix.ordered = append(ix.ordered, key)
	}
	sort.Slice(ix.ordered, func(i, j int) bool {
		a, b := ix.byKey[ix.ordered[i]], ix.byKey[ix.ordered[j]]
		if a.TimeStamp != b.TimeStamp {
			return a.TimeStamp < b.TimeStamp
		}
		return ix.ordered[i] < ix.ordered[j]
	})
	ix.dirty = false
}

// EncodedTime converts media seconds to the encoded key space.
func EncodedTime(mediaTime float64) int64 {
	return int64(math.Ceil(mediaTime * 1000))
}
