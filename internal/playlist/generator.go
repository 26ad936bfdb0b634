// Package playlist renders derived segments as an HLS media playlist that
// addresses each segment by byte range within a single media file.
package playlist

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/grafov/m3u8"

	"github.com/agleyzer/segindex/internal/segment"
)

// Playlist defines the interface for HLS playlist generation.
type Playlist interface {
	// Generate creates the HLS media playlist.
	Generate() (string, error)

	// GetStats returns statistics about the playlist.
	GetStats() map[string]interface{}
}

// New creates a VOD media playlist for segments. Every segment is served from
// mediaURI with an EXT-X-BYTERANGE; init, when present, becomes EXT-X-MAP.
func New(segments []segment.DashSegment, mediaURI string, init *segment.ByteRange, logger *slog.Logger) (Playlist, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("cannot create playlist with zero segments")
	}

	if mediaURI == "" {
		return nil, fmt.Errorf("media URI must not be empty")
	}

	withoutSAP := 0
	for i, seg := range segments {
		if seg.Size() == 0 || seg.Size() > math.MaxInt64 {
			return nil, fmt.Errorf("segment %d has unusable size %d", i, seg.Size())
		}
		if !seg.ContainsSAP {
			withoutSAP++
		}
		if seg.IsIndex {
			logger.Debug("segment references a nested index", "segment", i, "range", seg.Range())
		}
	}
	if withoutSAP > 0 {
		logger.Warn("segments do not start with a stream access point", "count", withoutSAP, "total", len(segments))
	}

	return &mediaPlaylist{
		segments: segments,
		mediaURI: mediaURI,
		init:     init,
		logger:   logger,
	}, nil
}

// mediaPlaylist is immutable after New and safe for concurrent use.
type mediaPlaylist struct {
	segments []segment.DashSegment
	mediaURI string
	init     *segment.ByteRange
	logger   *slog.Logger
}

// Generate creates an HLS media playlist covering every segment.
func (mp *mediaPlaylist) Generate() (string, error) {
	p, err := m3u8.NewMediaPlaylist(0, uint(len(mp.segments)))
	if err != nil {
		return "", fmt.Errorf("failed to create media playlist: %w", err)
	}
	p.MediaType = m3u8.VOD

	if mp.init != nil {
		p.SetDefaultMap(mp.mediaURI, int64(mp.init.Len()), int64(mp.init.Start))
	}

	for i, seg := range mp.segments {
		if err := p.Append(mp.mediaURI, seg.DurationSeconds, ""); err != nil {
			return "", fmt.Errorf("failed to append segment %d: %w", i, err)
		}
		if err := p.SetRange(int64(seg.Size()), int64(seg.RangeStart)); err != nil {
			return "", fmt.Errorf("failed to set byte range for segment %d: %w", i, err)
		}
	}
	p.Close()

	return p.Encode().String(), nil
}

// GetStats returns statistics about the playlist.
func (mp *mediaPlaylist) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total_segments":   len(mp.segments),
		"total_duration":   segment.Total(mp.segments),
		"media_uri":        mp.mediaURI,
		"has_init_section": mp.init != nil,
	}
}
