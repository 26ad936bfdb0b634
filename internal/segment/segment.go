// Package segment derives time- and byte-addressable media segments from a
// decoded segment index.
package segment

import (
	"fmt"
	"sort"

	"github.com/agleyzer/segindex/internal/sidx"
)

// SeekSegment is the minimal segment shape used for seeking.
type SeekSegment struct {
	// TimeSeconds is the presentation time of the segment start.
	TimeSeconds float64 `json:"time_seconds"`

	// DurationSeconds is the segment duration.
	DurationSeconds float64 `json:"duration_seconds"`

	// ByteOffset is the file offset of the first byte of the segment.
	ByteOffset uint64 `json:"byte_offset"`

	// ByteSize is the number of bytes in the segment.
	ByteSize uint32 `json:"byte_size"`
}

// DashSegment is the segment shape used for adaptive-streaming delivery.
type DashSegment struct {
	StartSeconds    float64 `json:"start_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`

	// RangeStart and RangeEnd are inclusive file offsets.
	RangeStart uint64 `json:"range_start"`
	RangeEnd   uint64 `json:"range_end"`

	// ContainsSAP reports whether the segment starts with a stream access point.
	ContainsSAP bool  `json:"contains_sap"`
	SAPType     uint8 `json:"sap_type"`

	// IsIndex marks a range that begins with a nested index box. The nested
	// index is not parsed; the range covers it and its media.
	IsIndex bool `json:"is_index,omitempty"`
}

// ByteRange is an inclusive range of file offsets.
type ByteRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() uint64 {
	return r.End - r.Start + 1
}

// Timed is implemented by both segment shapes.
type Timed interface {
	StartTime() float64
	EndTime() float64
}

func (s SeekSegment) StartTime() float64 { return s.TimeSeconds }
func (s SeekSegment) EndTime() float64 { return s.TimeSeconds + s.DurationSeconds }

func (s DashSegment) StartTime() float64 { return s.StartSeconds }
func (s DashSegment) EndTime() float64 { return s.StartSeconds + s.DurationSeconds }

// Size returns the number of bytes in the segment.
func (s DashSegment) Size() uint64 {
	return s.RangeEnd - s.RangeStart + 1
}

// Range returns the HTTP Range header value that requests the segment.
func (s DashSegment) Range() string {
	return fmt.Sprintf("bytes=%d-%d", s.RangeStart, s.RangeEnd)
}

// visit is called once per reference, in declared order.
type visit func(ref sidx.Reference, start, duration float64, offset uint64)

// walk is the single traversal shared by both segment shapes. boxOffset and
// boxSize locate the sidx box itself in the file; they come from the
// container reader, not from the box payload.
func walk(box *sidx.Box, boxOffset, boxSize uint64, fn visit) {
	timescale := float64(box.Timescale)
	offset := boxOffset + boxSize + box.FirstOffset
	current := float64(box.EarliestPresentationTime) / timescale

	for _, ref := range box.References {
		duration := float64(ref.SubsegmentDuration) / timescale
		fn(ref, current, duration, offset)

		current += duration
		offset += uint64(ref.ReferencedSize)
	}
}

// SeekSegments derives the seek table for box.
func SeekSegments(box *sidx.Box, boxOffset, boxSize uint64) []SeekSegment {
	segments := make([]SeekSegment, 0, len(box.References))
	walk(box, boxOffset, boxSize, func(ref sidx.Reference, start, duration float64, offset uint64) {
		segments = append(segments, SeekSegment{
			TimeSeconds:     start,
			DurationSeconds: duration,
			ByteOffset:      offset,
			ByteSize:        ref.ReferencedSize,
		})
	})
	return segments
}

// DashSegments derives adaptive-streaming segments for box.
func DashSegments(box *sidx.Box, boxOffset, boxSize uint64) []DashSegment {
	segments := make([]DashSegment, 0, len(box.References))
	walk(box, boxOffset, boxSize, func(ref sidx.Reference, start, duration float64, offset uint64) {
		segments = append(segments, DashSegment{
			StartSeconds:    start,
			DurationSeconds: duration,
			RangeStart:      offset,
			RangeEnd:        offset + uint64(ref.ReferencedSize) - 1,
			ContainsSAP:     ref.StartsWithSAP,
			SAPType:         ref.SAPType,
			IsIndex:         ref.IsIndex(),
		})
	})
	return segments
}

// Find returns the first segment whose interval [start, start+duration)
// contains t.
func Find[S Timed](segments []S, t float64) (S, bool) {
	i, ok := FindIndex(segments, t)
	if !ok {
		var zero S
		return zero, false
	}
	return segments[i], true
}

// FindIndex is like Find but returns the segment position.
func FindIndex[S Timed](segments []S, t float64) (int, bool) {
	return NewLookup(segments).Index(t)
}

// Lookup answers repeated time queries over one segment list. Segments from
// several boxes may be concatenated out of time order; such lists are
// scanned linearly so the first match in list order still wins.
type Lookup[S Timed] struct {
	segments []S
	ordered  bool
}

// NewLookup prepares segments for Index queries.
func NewLookup[S Timed](segments []S) *Lookup[S] {
	return &Lookup[S]{segments: segments, ordered: Ordered(segments)}
}

// Index returns the position of the first segment containing t.
func (l *Lookup[S]) Index(t float64) (int, bool) {
	if !l.ordered {
		for i, s := range l.segments {
			if s.StartTime() <= t && t < s.EndTime() {
				return i, true
			}
		}
		return 0, false
	}

	// End times never decrease, so the first segment ending after t is the
	// only candidate.
	i := sort.Search(len(l.segments), func(i int) bool {
		return l.segments[i].EndTime() > t
	})
	if i == len(l.segments) || l.segments[i].StartTime() > t {
		return 0, false
	}
	return i, true
}

// Ordered reports whether end times never decrease and every segment starts
// no earlier than its predecessor.
func Ordered[S Timed](segments []S) bool {
	for i := 1; i < len(segments); i++ {
		if segments[i].EndTime() < segments[i-1].EndTime() ||
			segments[i].StartTime() < segments[i-1].StartTime() {
			return false
		}
	}
	return true
}

// Total returns the summed duration of segments in seconds.
func Total[S Timed](segments []S) float64 {
	if len(segments) == 0 {
		return 0
	}
	return segments[len(segments)-1].EndTime() - segments[0].StartTime()
}
