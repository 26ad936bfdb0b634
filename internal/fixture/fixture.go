// Package fixture builds small synthetic segmented media files for tests.
//
// A file consists of an empty init section (ftyp + moov) followed, for each
// index box, by the encoded sidx, an optional free box covering first_offset,
// and one mdat box per reference sized exactly referenced_size.
package fixture

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/agleyzer/segindex/internal/sidx"
)

// Placement records where an index box landed in the built file.
type Placement struct {
	Offset uint64
	Size   uint64
	Box    *sidx.Box
}

// Layout is a built file and the positions of its parts.
type Layout struct {
	Data []byte

	// InitSize is the number of bytes before the first sidx box.
	InitSize uint64

	Sidx []Placement
}

// Build lays out a file indexed by boxes.
func Build(boxes ...*sidx.Box) (*Layout, error) {
	var buf bytes.Buffer
	if err := mp4.CreateEmptyInit().Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode init section: %w", err)
	}

	layout := &Layout{InitSize: uint64(buf.Len())}
	for i, box := range boxes {
		encoded, err := box.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode sidx %d: %w", i, err)
		}
		layout.Sidx = append(layout.Sidx, Placement{
			Offset: uint64(buf.Len()),
			Size:   uint64(len(encoded)),
			Box:    box,
		})
		buf.Write(encoded)

		if box.FirstOffset > 0 {
			if box.FirstOffset < 8 {
				return nil, fmt.Errorf("sidx %d: first_offset %d too small for a free box", i, box.FirstOffset)
			}
			free, err := freeBox(box.FirstOffset)
			if err != nil {
				return nil, fmt.Errorf("sidx %d: failed to build free box: %w", i, err)
			}
			if err := free.Encode(&buf); err != nil {
				return nil, fmt.Errorf("sidx %d: failed to encode free box: %w", i, err)
			}
		}

		for j, ref := range box.References {
			if ref.ReferencedSize < 8 {
				return nil, fmt.Errorf("sidx %d reference %d: size %d too small for an mdat box", i, j, ref.ReferencedSize)
			}
			payload := make([]byte, ref.ReferencedSize-8)
			start := uint64(buf.Len()) + 8
			for k := range payload {
				payload[k] = Pattern(start + uint64(k))
			}
			mdat := &mp4.MdatBox{}
			mdat.SetData(payload)
			if err := mdat.Encode(&buf); err != nil {
				return nil, fmt.Errorf("sidx %d reference %d: failed to encode mdat: %w", i, j, err)
			}
		}
	}

	layout.Data = buf.Bytes()
	return layout, nil
}

// WriteFile builds a file and writes it to dir as media.mp4.
func WriteFile(dir string, boxes ...*sidx.Box) (string, *Layout, error) {
	layout, err := Build(boxes...)
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "media.mp4")
	if err := os.WriteFile(path, layout.Data, 0o644); err != nil {
		return "", nil, fmt.Errorf("failed to write fixture: %w", err)
	}
	return path, layout, nil
}

// Pattern is the filler byte stored at a file offset inside mdat payloads.
func Pattern(offset uint64) byte {
	return byte(offset % 251)
}

// freeBox returns a zero-filled free box of size bytes. mp4ff exposes no
// constructor for one, so it is decoded from its header and payload.
func freeBox(size uint64) (mp4.Box, error) {
	hdr := mp4.BoxHeader{Name: "free", Size: size, Hdrlen: 8}
	return mp4.DecodeFree(hdr, 0, bytes.NewReader(make([]byte, size-8)))
}
