package sidx

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

var be = binary.BigEndian

const maxUint32 = math.MaxUint32

// Full box header: version in the top byte, flags in the low 24 bits.
const (
	versionShift = 24
	flagsBits    = 24
	flagsMask    = 1<<flagsBits - 1
	countBits    = 16
)

// Reference word 1: reference_type(1) | referenced_size(31).
const (
	referenceTypeBits  = 1
	referenceTypeShift = 31
	referencedSizeBits = 31
	referencedSizeMask = 1<<referencedSizeBits - 1
)

// Reference word 3: starts_with_SAP(1) | SAP_type(3) | SAP_delta_time(28).
const (
	sapFlagShift     = 31
	sapTypeBits      = 3
	sapTypeShift     = 28
	sapTypeMask      = 1<<sapTypeBits - 1
	sapDeltaTimeBits = 28
	sapDeltaTimeMask = 1<<sapDeltaTimeBits - 1
)

// timeFieldSize returns the width of earliest_presentation_time and first_offset.
func timeFieldSize(version uint8) int {
	if version == 0 {
		return 4
	}
	return 8
}

// Decode reads a sidx payload of exactly payloadSize bytes from r. The
// generic box header must already have been consumed. Fields that do not
// fit in payloadSize are reported as ErrMalformedInput.
func Decode(r io.Reader, payloadSize uint64) (*Box, error) {
	return decode(r, payloadSize, true)
}

// decode reads a payload bounded by payloadSize, or running as far as the
// declared fields require when bounded is false.
func decode(r io.Reader, payloadSize uint64, bounded bool) (*Box, error) {
	if bounded {
		limit := int64(math.MaxInt64)
		if payloadSize < math.MaxInt64 {
			limit = int64(payloadSize)
		}
		r = io.LimitReader(r, limit)
	}

	var head [fullHeaderSize + 8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, malformed("full box header", err)
	}
	word := be.Uint32(head[0:4])
	b := &Box{
		Version:     uint8(word >> versionShift),
		Flags:       word & flagsMask,
		ReferenceID: be.Uint32(head[4:8]),
		Timescale:   be.Uint32(head[8:12]),
	}
	if b.Version > 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, b.Version)
	}
	if b.Timescale == 0 {
		return nil, ErrInvalidTimescale
	}

	width := timeFieldSize(b.Version)
	fixed := make([]byte, 2*width+4)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, malformed("time fields", err)
	}
	if b.Version == 0 {
		b.EarliestPresentationTime = uint64(be.Uint32(fixed[0:4]))
		b.FirstOffset = uint64(be.Uint32(fixed[4:8]))
	} else {
		b.EarliestPresentationTime = be.Uint64(fixed[0:8])
		b.FirstOffset = be.Uint64(fixed[8:16])
	}
	// fixed[2*width:2*width+2] is reserved and ignored.
	count := int(be.Uint16(fixed[2*width+2:]))
	if count == 0 {
		return b, nil
	}

	need := uint64(fullHeaderSize+8+len(fixed)) + uint64(count)*ReferenceSize
	if bounded && need > payloadSize {
		return nil, fmt.Errorf("%w: %d references need %d bytes, payload has %d",
			ErrMalformedInput, count, need, payloadSize)
	}

	raw := make([]byte, count*ReferenceSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, malformed("references", err)
	}
	b.References = make([]Reference, count)
	for i := range b.References {
		b.References[i] = unpackReference(raw[i*ReferenceSize:])
	}
	return b, nil
}

// DecodeBox reads a complete sidx box, generic header included.
func DecodeBox(r io.Reader) (*Box, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, malformed("box header", err)
	}
	size := uint64(be.Uint32(hdr[0:4]))
	headerLen := uint64(HeaderSize)
	if size == 1 {
		var large [8]byte
		if _, err := io.ReadFull(r, large[:]); err != nil {
			return nil, malformed("box largesize", err)
		}
		size = be.Uint64(large[:])
		headerLen += 8
	}
	if typ := string(hdr[4:8]); typ != Type {
		return nil, fmt.Errorf("%w: box type %q is not %q", ErrMalformedInput, typ, Type)
	}
	if size == 0 {
		// Box extends to the end of the stream.
		return decode(r, 0, false)
	}
	if size <= headerLen {
		return nil, fmt.Errorf("%w: box size %d smaller than header", ErrMalformedInput, size)
	}
	return Decode(r, size-headerLen)
}

// Encode writes b, generic box header included. Nothing is written when b
// fails validation.
func (b *Box) Encode(w io.Writer) error {
	buf, err := b.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// MarshalBinary returns the encoded box.
func (b *Box) MarshalBinary() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	size := b.BoxSize()
	buf := make([]byte, 0, size)
	buf = be.AppendUint32(buf, uint32(size))
	buf = append(buf, Type...)
	buf = be.AppendUint32(buf, uint32(b.Version)<<versionShift|b.Flags)
	buf = be.AppendUint32(buf, b.ReferenceID)
	buf = be.AppendUint32(buf, b.Timescale)
	if b.Version == 0 {
		buf = be.AppendUint32(buf, uint32(b.EarliestPresentationTime))
		buf = be.AppendUint32(buf, uint32(b.FirstOffset))
	} else {
		buf = be.AppendUint64(buf, b.EarliestPresentationTime)
		buf = be.AppendUint64(buf, b.FirstOffset)
	}
	buf = be.AppendUint16(buf, 0) // reserved
	buf = be.AppendUint16(buf, uint16(len(b.References)))
	for _, ref := range b.References {
		buf = packReference(buf, ref)
	}
	return buf, nil
}

func unpackReference(p []byte) Reference {
	w1 := be.Uint32(p[0:4])
	w3 := be.Uint32(p[8:12])
	return Reference{
		ReferenceType:      uint8(w1 >> referenceTypeShift),
		ReferencedSize:     w1 & referencedSizeMask,
		SubsegmentDuration: be.Uint32(p[4:8]),
		StartsWithSAP:      w3>>sapFlagShift == 1,
		SAPType:            uint8(w3 >> sapTypeShift & sapTypeMask),
		SAPDeltaTime:       w3 & sapDeltaTimeMask,
	}
}

func packReference(buf []byte, ref Reference) []byte {
	w1 := uint32(ref.ReferenceType)<<referenceTypeShift | ref.ReferencedSize&referencedSizeMask
	w3 := uint32(ref.SAPType&sapTypeMask)<<sapTypeShift | ref.SAPDeltaTime&sapDeltaTimeMask
	if ref.StartsWithSAP {
		w3 |= 1 << sapFlagShift
	}
	buf = be.AppendUint32(buf, w1)
	buf = be.AppendUint32(buf, ref.SubsegmentDuration)
	return be.AppendUint32(buf, w3)
}
