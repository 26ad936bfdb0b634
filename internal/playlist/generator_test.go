package playlist

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/grafov/m3u8"

	"github.com/agleyzer/segindex/internal/segment"
	"github.com/agleyzer/segindex/internal/sidx"
)

func createTestSegments(count int) []segment.DashSegment {
	refs := make([]sidx.Reference, count)
	for i := range refs {
		refs[i] = sidx.Reference{
			ReferencedSize:     uint32(10000 + i),
			SubsegmentDuration: 4000,
			StartsWithSAP:      true,
			SAPType:            1,
		}
	}
	box := &sidx.Box{Timescale: 1000, References: refs}
	return segment.DashSegments(box, 600, box.BoxSize())
}

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}))
}

func decodeMedia(t *testing.T, content string) *m3u8.MediaPlaylist {
	t.Helper()

	p, listType, err := m3u8.DecodeFrom(strings.NewReader(content), true)
	if err != nil {
		t.Fatalf("Failed to decode generated playlist: %v", err)
	}
	if listType != m3u8.MEDIA {
		t.Fatalf("Expected media playlist, got type %v", listType)
	}
	return p.(*m3u8.MediaPlaylist)
}

func TestNew(t *testing.T) {
	logger := createTestLogger()
	segments := createTestSegments(5)

	pl, err := New(segments, "/media", nil, logger)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	mp := pl.(*mediaPlaylist)
	if len(mp.segments) != 5 {
		t.Errorf("Expected 5 segments, got %d", len(mp.segments))
	}
	if mp.mediaURI != "/media" {
		t.Errorf("Expected media URI /media, got %s", mp.mediaURI)
	}
}

func TestNew_EmptySegments(t *testing.T) {
	logger := createTestLogger()

	_, err := New(nil, "/media", nil, logger)
	if err == nil {
		t.Error("Expected error for empty segments, got nil")
	}
}

func TestNew_EmptyMediaURI(t *testing.T) {
	logger := createTestLogger()

	_, err := New(createTestSegments(1), "", nil, logger)
	if err == nil {
		t.Error("Expected error for empty media URI, got nil")
	}
}

func TestGenerate(t *testing.T) {
	logger := createTestLogger()
	segments := createTestSegments(3)

	pl, err := New(segments, "/media", nil, logger)
	if err != nil {
		t.Fatalf("Failed to create playlist: %v", err)
	}

	content, err := pl.Generate()
	if err != nil {
		t.Fatalf("Failed to generate playlist: %v", err)
	}

	if !strings.HasPrefix(content, "#EXTM3U\n") {
		t.Error("Playlist should start with #EXTM3U")
	}
	if !strings.Contains(content, "#EXT-X-PLAYLIST-TYPE:VOD") {
		t.Error("Playlist should be a VOD playlist")
	}
	if !strings.Contains(content, "#EXT-X-ENDLIST") {
		t.Error("Playlist should contain #EXT-X-ENDLIST")
	}
	if count := strings.Count(content, "#EXT-X-BYTERANGE:"); count != 3 {
		t.Errorf("Expected 3 byte ranges, got %d", count)
	}

	media := decodeMedia(t, content)
	if media.Count() != 3 {
		t.Fatalf("Expected 3 decoded segments, got %d", media.Count())
	}
	for i, seg := range media.Segments[:media.Count()] {
		if seg.URI != "/media" {
			t.Errorf("Segment %d: expected URI /media, got %s", i, seg.URI)
		}
		if seg.Offset != int64(segments[i].RangeStart) {
			t.Errorf("Segment %d: expected offset %d, got %d", i, segments[i].RangeStart, seg.Offset)
		}
		if seg.Limit != int64(segments[i].Size()) {
			t.Errorf("Segment %d: expected length %d, got %d", i, segments[i].Size(), seg.Limit)
		}
		if seg.Duration != 4.0 {
			t.Errorf("Segment %d: expected duration 4.0, got %f", i, seg.Duration)
		}
	}
	if media.TargetDuration != 4 {
		t.Errorf("Expected target duration 4, got %v", media.TargetDuration)
	}
}

func TestGenerate_InitSection(t *testing.T) {
	logger := createTestLogger()
	init := &segment.ByteRange{Start: 0, End: 599}

	pl, err := New(createTestSegments(2), "media.mp4", init, logger)
	if err != nil {
		t.Fatalf("Failed to create playlist: %v", err)
	}

	content, err := pl.Generate()
	if err != nil {
		t.Fatalf("Failed to generate playlist: %v", err)
	}

	if !strings.Contains(content, "#EXT-X-MAP:") {
		t.Fatal("Playlist should contain #EXT-X-MAP")
	}

	media := decodeMedia(t, content)
	if media.Map == nil {
		t.Fatal("Expected decoded playlist to carry a map")
	}
	if media.Map.URI != "media.mp4" {
		t.Errorf("Expected map URI media.mp4, got %s", media.Map.URI)
	}
	if media.Map.Limit != 600 {
		t.Errorf("Expected map length 600, got %d", media.Map.Limit)
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	logger := createTestLogger()

	pl, err := New(createTestSegments(4), "/media", nil, logger)
	if err != nil {
		t.Fatalf("Failed to create playlist: %v", err)
	}

	first, _ := pl.Generate()
	second, _ := pl.Generate()
	if first != second {
		t.Error("Generate should return the same playlist on every call")
	}
}

func TestGetStats(t *testing.T) {
	logger := createTestLogger()

	pl, err := New(createTestSegments(5), "/media", &segment.ByteRange{Start: 0, End: 9}, logger)
	if err != nil {
		t.Fatalf("Failed to create playlist: %v", err)
	}

	stats := pl.GetStats()

	if stats["total_segments"] != 5 {
		t.Errorf("Expected total_segments 5, got %v", stats["total_segments"])
	}
	if stats["total_duration"] != 20.0 {
		t.Errorf("Expected total_duration 20.0, got %v", stats["total_duration"])
	}
	if stats["has_init_section"] != true {
		t.Errorf("Expected has_init_section true, got %v", stats["has_init_section"])
	}
}
