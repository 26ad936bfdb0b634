package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/agleyzer/segindex/internal/container"
	"github.com/agleyzer/segindex/internal/fixture"
	"github.com/agleyzer/segindex/internal/playlist"
	"github.com/agleyzer/segindex/internal/sidx"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func createTestServer(t *testing.T) (*Server, *fixture.Layout) {
	t.Helper()

	box := &sidx.Box{
		ReferenceID: 1,
		Timescale:   1000,
		References: []sidx.Reference{
			{ReferencedSize: 2000, SubsegmentDuration: 2000, StartsWithSAP: true, SAPType: 1},
			{ReferencedSize: 3000, SubsegmentDuration: 2000, StartsWithSAP: true, SAPType: 1},
			{ReferencedSize: 1000, SubsegmentDuration: 1000, StartsWithSAP: true, SAPType: 2},
		},
	}

	path, layout, err := fixture.WriteFile(t.TempDir(), box)
	if err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	logger := createTestLogger()
	index, err := container.Open(path, logger)
	if err != nil {
		t.Fatalf("Failed to scan fixture: %v", err)
	}

	pl, err := playlist.New(index.DashSegments(0), "/media", index.Init, logger)
	if err != nil {
		t.Fatalf("Failed to create playlist: %v", err)
	}

	return New(index, 0, pl, 8080, logger), layout
}

func TestNew(t *testing.T) {
	srv, _ := createTestServer(t)

	if len(srv.segments) != 3 {
		t.Errorf("Expected 3 segments, got %d", len(srv.segments))
	}
	if len(srv.seek) != 3 {
		t.Errorf("Expected 3 seek segments, got %d", len(srv.seek))
	}
	if srv.port != 8080 {
		t.Error("Port not set correctly")
	}
}

func TestHandlePlaylist(t *testing.T) {
	srv, _ := createTestServer(t)

	req := httptest.NewRequest("GET", "/playlist.m3u8", nil)
	w := httptest.NewRecorder()

	srv.handlePlaylist(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/vnd.apple.mpegurl" {
		t.Errorf("Expected Content-Type 'application/vnd.apple.mpegurl', got '%s'", contentType)
	}

	body := w.Body.String()
	for _, tag := range []string{"#EXTM3U", "#EXT-X-MAP:", "#EXT-X-BYTERANGE:", "#EXT-X-ENDLIST"} {
		if !strings.Contains(body, tag) {
			t.Errorf("Response body missing %s tag", tag)
		}
	}
}

func TestHandleSegments(t *testing.T) {
	srv, _ := createTestServer(t)

	tests := []struct {
		query      string
		wantStatus int
		wantField  string
	}{
		{"", http.StatusOK, "range_start"},
		{"?shape=dash", http.StatusOK, "contains_sap"},
		{"?shape=seek", http.StatusOK, "byte_offset"},
		{"?shape=bogus", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/segments.json"+tt.query, nil)
		w := httptest.NewRecorder()

		srv.handleSegments(w, req)

		if w.Code != tt.wantStatus {
			t.Errorf("%q: expected status %d, got %d", tt.query, tt.wantStatus, w.Code)
			continue
		}
		if tt.wantStatus != http.StatusOK {
			continue
		}

		var segments []map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&segments); err != nil {
			t.Fatalf("%q: failed to parse JSON response: %v", tt.query, err)
		}
		if len(segments) != 3 {
			t.Errorf("%q: expected 3 segments, got %d", tt.query, len(segments))
			continue
		}
		if _, ok := segments[0][tt.wantField]; !ok {
			t.Errorf("%q: segment missing field %s", tt.query, tt.wantField)
		}
	}
}

func TestHandleSeek(t *testing.T) {
	srv, _ := createTestServer(t)

	tests := []struct {
		t          string
		wantStatus int
		wantIndex  float64
	}{
		{"0", http.StatusOK, 0},
		{"1.5", http.StatusOK, 0},
		{"2", http.StatusOK, 1},
		{"4.5", http.StatusOK, 2},
		{"5", http.StatusNotFound, 0},
		{"-1", http.StatusNotFound, 0},
		{"abc", http.StatusBadRequest, 0},
		{"", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/seek?t="+tt.t, nil)
		w := httptest.NewRecorder()

		srv.handleSeek(w, req)

		if w.Code != tt.wantStatus {
			t.Errorf("t=%q: expected status %d, got %d", tt.t, tt.wantStatus, w.Code)
			continue
		}
		if tt.wantStatus != http.StatusOK {
			continue
		}

		var result map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("t=%q: failed to parse JSON response: %v", tt.t, err)
		}
		if result["index"] != tt.wantIndex {
			t.Errorf("t=%q: expected index %v, got %v", tt.t, tt.wantIndex, result["index"])
		}
		if !strings.HasPrefix(result["range"].(string), "bytes=") {
			t.Errorf("t=%q: expected a bytes= range, got %v", tt.t, result["range"])
		}
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := createTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	srv.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var health map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to parse JSON response: %v", err)
	}

	if health["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", health["status"])
	}
	if health["boxes"] != 1.0 {
		t.Errorf("Expected boxes 1, got %v", health["boxes"])
	}

	stats, ok := health["stats"].(map[string]interface{})
	if !ok {
		t.Fatal("Stats is not a map")
	}
	for _, field := range []string{"total_segments", "total_duration", "media_uri", "has_init_section"} {
		if _, ok := stats[field]; !ok {
			t.Errorf("Stats missing field '%s'", field)
		}
	}
}

// TestMediaRanges fetches every derived segment over HTTP with its Range
// header and checks the bytes against the file.
func TestMediaRanges(t *testing.T) {
	srv, layout := createTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for i, seg := range srv.segments {
		req, err := http.NewRequest("GET", ts.URL+"/media", nil)
		if err != nil {
			t.Fatalf("Failed to build request: %v", err)
		}
		req.Header.Set("Range", seg.Range())

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Segment %d: request failed: %v", i, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("Segment %d: failed to read body: %v", i, err)
		}

		if resp.StatusCode != http.StatusPartialContent {
			t.Errorf("Segment %d: expected status 206, got %d", i, resp.StatusCode)
		}
		if uint64(len(body)) != seg.Size() {
			t.Errorf("Segment %d: expected %d bytes, got %d", i, seg.Size(), len(body))
		}
		if string(body) != string(layout.Data[seg.RangeStart:seg.RangeEnd+1]) {
			t.Errorf("Segment %d: body does not match file range %s", i, seg.Range())
		}
		if string(body[4:8]) != "mdat" {
			t.Errorf("Segment %d: expected range to start at an mdat box, got %q", i, body[4:8])
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	srv, _ := createTestServer(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("test"))
	})

	wrapped := srv.loggingMiddleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	if w.Body.String() != "test" {
		t.Errorf("Expected body 'test', got '%s'", w.Body.String())
	}
}

func TestResponseWriter_CapturesStatusCode(t *testing.T) {
	wrapped := &responseWriter{
		ResponseWriter: httptest.NewRecorder(),
		statusCode:     http.StatusOK,
	}

	wrapped.WriteHeader(http.StatusNotFound)

	if wrapped.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", wrapped.statusCode)
	}
}

func TestServer_Integration(t *testing.T) {
	srv, _ := createTestServer(t)
	srv.port = 0 // Use port 0 for automatic port assignment

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	cancel()

	select {
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			t.Errorf("Expected nil or ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Server did not stop within timeout")
	}
}

func TestHandleSeek_ConcurrentRequests(t *testing.T) {
	srv, _ := createTestServer(t)

	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest("GET", "/seek?t=3", nil)
			w := httptest.NewRecorder()

			srv.handleSeek(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}

			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestHandleSeek_BoxesOutOfTimeOrder(t *testing.T) {
	refs := []sidx.Reference{
		{ReferencedSize: 1000, SubsegmentDuration: 2000, StartsWithSAP: true, SAPType: 1},
		{ReferencedSize: 1000, SubsegmentDuration: 2000, StartsWithSAP: true, SAPType: 1},
	}
	later := &sidx.Box{ReferenceID: 1, Timescale: 1000, EarliestPresentationTime: 10000, References: refs}
	earlier := &sidx.Box{ReferenceID: 1, Timescale: 1000, References: refs}

	path, _, err := fixture.WriteFile(t.TempDir(), later, earlier)
	if err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	logger := createTestLogger()
	index, err := container.Open(path, logger)
	if err != nil {
		t.Fatalf("Failed to scan fixture: %v", err)
	}
	pl, err := playlist.New(index.DashSegments(0), "/media", index.Init, logger)
	if err != nil {
		t.Fatalf("Failed to create playlist: %v", err)
	}
	srv := New(index, 0, pl, 8080, logger)

	tests := []struct {
		t         string
		wantIndex float64
	}{
		{"1", 2},
		{"3", 3},
		{"11", 0},
		{"12.5", 1},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/seek?t="+tt.t, nil)
		w := httptest.NewRecorder()

		srv.handleSeek(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("t=%q: expected status 200, got %d", tt.t, w.Code)
			continue
		}

		var result map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("t=%q: failed to parse JSON response: %v", tt.t, err)
		}
		if result["index"] != tt.wantIndex {
			t.Errorf("t=%q: expected index %v, got %v", tt.t, tt.wantIndex, result["index"])
		}
	}
}
