// Package sidx models the Segment Index box ("sidx") of fragmented ISO media
// files and implements its bit-exact binary codec.
package sidx

import "fmt"

// Encoded layout sizes, in bytes.
const (
	// HeaderSize is the generic box header written by Encode (32-bit size + type).
	HeaderSize = 8

	// fullHeaderSize is the version byte plus the 24-bit flags.
	fullHeaderSize = 4

	// ReferenceSize is the encoded size of a single Reference.
	ReferenceSize = 12

	// MaxReferences is the largest reference count the 16-bit count field can hold.
	MaxReferences = 1<<16 - 1
)

// Type is the four-character code identifying a segment index box.
const Type = "sidx"

// Box is one decoded segment index.
//
// A Box is a plain value: decoding produces a fresh one, and encoding always
// derives the box size from the current fields rather than any stored size.
type Box struct {
	// Version selects 32-bit (0) or 64-bit (1) EarliestPresentationTime and FirstOffset.
	Version uint8 `json:"version"`

	// Flags holds the 24-bit box flags.
	Flags uint32 `json:"flags"`

	// ReferenceID identifies the stream the references describe.
	ReferenceID uint32 `json:"reference_id"`

	// Timescale is the number of time units per second. Never zero in a decoded box.
	Timescale uint32 `json:"timescale"`

	// EarliestPresentationTime is the start of the first referenced segment, in Timescale units.
	EarliestPresentationTime uint64 `json:"earliest_presentation_time"`

	// FirstOffset is the distance in bytes from the end of this box to the
	// first referenced byte.
	FirstOffset uint64 `json:"first_offset"`

	// References lists the indexed ranges in playback and byte order.
	References []Reference `json:"references"`
}

// Reference is one entry of a segment index.
type Reference struct {
	// ReferenceType is 0 for media data and 1 for another index box.
	ReferenceType uint8 `json:"reference_type"`

	// ReferencedSize is the size of the referenced range in bytes (31 bits).
	ReferencedSize uint32 `json:"referenced_size"`

	// SubsegmentDuration is the duration of the range in Timescale units.
	SubsegmentDuration uint32 `json:"subsegment_duration"`

	// StartsWithSAP reports whether the range begins with a stream access point.
	StartsWithSAP bool `json:"starts_with_sap"`

	// SAPType is the 3-bit stream access point type.
	SAPType uint8 `json:"sap_type"`

	// SAPDeltaTime is the 28-bit offset of the access point from the range start.
	SAPDeltaTime uint32 `json:"sap_delta_time"`
}

// IsIndex reports whether the reference points at another index box.
// Such references are never resolved; they are treated as opaque ranges.
func (r Reference) IsIndex() bool {
	return r.ReferenceType == 1
}

// Type returns the box type code.
func (b *Box) Type() string {
	return Type
}

// BoxSize returns the exact number of bytes Encode writes for b.
func (b *Box) BoxSize() uint64 {
	size := uint64(HeaderSize + fullHeaderSize)
	size += 4 // reference_id
	size += 4 // timescale
	if b.Version == 0 {
		size += 8
	} else {
		size += 16
	}
	size += 4 // reserved + reference_count
	size += uint64(len(b.References)) * ReferenceSize
	return size
}

// Summary returns a one-line description for diagnostics.
func (b *Box) Summary() string {
	return fmt.Sprintf("reference_id=%d timescale=%d earliest_presentation_time=%d first_offset=%d references=%d",
		b.ReferenceID,
		b.Timescale,
		b.EarliestPresentationTime,
		b.FirstOffset,
		len(b.References),
	)
}

// Validate checks that b can be encoded without losing information.
func (b *Box) Validate() error {
	if b.Version > 1 {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, b.Version)
	}
	if b.Flags > flagsMask {
		return &FieldError{Field: "flags", Index: -1, Value: uint64(b.Flags), Bits: flagsBits}
	}
	if b.Timescale == 0 {
		return ErrInvalidTimescale
	}
	if b.Version == 0 {
		if b.EarliestPresentationTime > maxUint32 {
			return &FieldError{Field: "earliest_presentation_time", Index: -1, Value: b.EarliestPresentationTime, Bits: 32}
		}
		if b.FirstOffset > maxUint32 {
			return &FieldError{Field: "first_offset", Index: -1, Value: b.FirstOffset, Bits: 32}
		}
	}
	if len(b.References) > MaxReferences {
		return &FieldError{Field: "reference_count", Index: -1, Value: uint64(len(b.References)), Bits: countBits}
	}
	for i, ref := range b.References {
		if err := ref.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (r Reference) validate(i int) error {
	switch {
	case r.ReferenceType > 1:
		return &FieldError{Field: "reference_type", Index: i, Value: uint64(r.ReferenceType), Bits: referenceTypeBits}
	case r.ReferencedSize > referencedSizeMask:
		return &FieldError{Field: "referenced_size", Index: i, Value: uint64(r.ReferencedSize), Bits: referencedSizeBits}
	case r.SAPType > sapTypeMask:
		return &FieldError{Field: "sap_type", Index: i, Value: uint64(r.SAPType), Bits: sapTypeBits}
	case r.SAPDeltaTime > sapDeltaTimeMask:
		return &FieldError{Field: "sap_delta_time", Index: i, Value: uint64(r.SAPDeltaTime), Bits: sapDeltaTimeBits}
	}
	return nil
}
