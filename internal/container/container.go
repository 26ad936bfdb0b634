// Package container walks the top-level boxes of a segmented media file and
// locates its segment index boxes.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/agleyzer/segindex/internal/segment"
	"github.com/agleyzer/segindex/internal/sidx"
)

// ErrNoIndex is returned when a file has no top-level sidx box.
var ErrNoIndex = errors.New("no sidx box found")

// Located is a decoded sidx box and its position in the file.
type Located struct {
	// Offset is the file position of the box header.
	Offset uint64

	// Size is the header-declared box size, header included.
	Size uint64

	Box *sidx.Box
}

// DashSegments derives the adaptive-streaming segments indexed by this box.
func (l Located) DashSegments() []segment.DashSegment {
	return segment.DashSegments(l.Box, l.Offset, l.Size)
}

// SeekSegments derives the seek table indexed by this box.
func (l Located) SeekSegments() []segment.SeekSegment {
	return segment.SeekSegments(l.Box, l.Offset, l.Size)
}

// Index holds every top-level sidx box of a file.
type Index struct {
	// Path is the scanned file, empty when scanned from a reader.
	Path string

	// FileSize is the total size of the scanned input.
	FileSize uint64

	// Init is the range before the first sidx box (ftyp, moov), if any.
	Init *segment.ByteRange

	Boxes []Located
}

// Open scans the file at path.
func Open(path string, logger *slog.Logger) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file: %w", err)
	}
	defer f.Close()

	idx, err := Scan(f, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	idx.Path = path
	return idx, nil
}

// Scan walks the top-level boxes of rs and decodes every sidx box.
func Scan(rs io.ReadSeeker, logger *slog.Logger) (*Index, error) {
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to determine input size: %w", err)
	}

	idx := &Index{FileSize: uint64(end)}
	var pos uint64
	for pos < idx.FileSize {
		if _, err := rs.Seek(int64(pos), io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek to offset %d: %w", pos, err)
		}

		// A zero size means the box runs to the end of the file; the box
		// header decoder rejects it, so check before handing over.
		var size [4]byte
		if _, err := io.ReadFull(rs, size[:]); err != nil {
			return nil, fmt.Errorf("truncated box header at offset %d: %w", pos, err)
		}
		if binary.BigEndian.Uint32(size[:]) == 0 {
			logger.Debug("box extends to end of file", "offset", pos)
			break
		}
		if _, err := rs.Seek(int64(pos), io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek to offset %d: %w", pos, err)
		}

		hdr, err := mp4.DecodeHeader(rs)
		if err != nil {
			return nil, fmt.Errorf("failed to read box header at offset %d: %w", pos, err)
		}
		hdrLen := uint64(hdr.Hdrlen)
		if hdr.Size < hdrLen || hdr.Size > idx.FileSize-pos {
			return nil, fmt.Errorf("box %q at offset %d has invalid size %d", hdr.Name, pos, hdr.Size)
		}

		logger.Debug("box", "type", hdr.Name, "offset", pos, "size", hdr.Size)

		if hdr.Name == sidx.Type {
			box, err := sidx.Decode(rs, hdr.Size-hdrLen)
			if err != nil {
				return nil, fmt.Errorf("failed to decode sidx at offset %d: %w", pos, err)
			}
			if len(idx.Boxes) == 0 && pos > 0 {
				idx.Init = &segment.ByteRange{Start: 0, End: pos - 1}
			}
			idx.Boxes = append(idx.Boxes, Located{Offset: pos, Size: hdr.Size, Box: box})
			logger.Debug("sidx", "offset", pos, "summary", box.Summary())
		}

		pos += hdr.Size
	}

	if len(idx.Boxes) == 0 {
		return nil, ErrNoIndex
	}
	return idx, nil
}

// ReferenceIDs returns the distinct reference ids in file order.
func (idx *Index) ReferenceIDs() []uint32 {
	var ids []uint32
	seen := make(map[uint32]bool)
	for _, l := range idx.Boxes {
		if !seen[l.Box.ReferenceID] {
			seen[l.Box.ReferenceID] = true
			ids = append(ids, l.Box.ReferenceID)
		}
	}
	return ids
}

// resolve maps reference id 0 to the id of the first box.
func (idx *Index) resolve(referenceID uint32) uint32 {
	if referenceID == 0 && len(idx.Boxes) > 0 {
		return idx.Boxes[0].Box.ReferenceID
	}
	return referenceID
}

// Select returns the boxes for a reference id in file order. Zero selects
// the reference id of the first box.
func (idx *Index) Select(referenceID uint32) []Located {
	referenceID = idx.resolve(referenceID)
	var out []Located
	for _, l := range idx.Boxes {
		if l.Box.ReferenceID == referenceID {
			out = append(out, l)
		}
	}
	return out
}

// DashSegments derives adaptive-streaming segments for a reference id
// across all of its boxes. Boxes are concatenated in file order, so times
// need not increase from one box to the next.
func (idx *Index) DashSegments(referenceID uint32) []segment.DashSegment {
	var out []segment.DashSegment
	for _, l := range idx.Select(referenceID) {
		out = append(out, l.DashSegments()...)
	}
	return out
}

// SeekSegments derives the seek table for a reference id across all of its boxes.
func (idx *Index) SeekSegments(referenceID uint32) []segment.SeekSegment {
	var out []segment.SeekSegment
	for _, l := range idx.Select(referenceID) {
		out = append(out, l.SeekSegments()...)
	}
	return out
}
