// The segindex command reads the segment index of a fragmented media file and
// prints or serves the derived segment table.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agleyzer/segindex/internal/config"
	"github.com/agleyzer/segindex/internal/container"
	"github.com/agleyzer/segindex/internal/playlist"
	"github.com/agleyzer/segindex/internal/segment"
	"github.com/agleyzer/segindex/internal/server"
)

const (
	version = "1.0.0"
)

// options holds the per-invocation flags that are not part of the config file.
type options struct {
	json  bool
	serve bool
	at    float64
	hasAt bool
}

func main() {
	// Parse command-line flags
	var (
		configPath  = flag.String("config", "", "Path to a TOML, YAML or JSON config file")
		port        = flag.Int("port", 8080, "HTTP server port (with -serve)")
		track       = flag.Uint("track", 0, "sidx reference id to use (0 selects the first)")
		shape       = flag.String("shape", "dash", "Segment shape to print: dash or seek")
		mediaURI    = flag.String("media-uri", "/media", "URI written into the playlist for every segment")
		jsonOut     = flag.Bool("json", false, "Print the segment table as JSON")
		at          = flag.Float64("at", 0, "Print only the segment containing this time in seconds")
		serve       = flag.Bool("serve", false, "Serve the playlist, segment table and media over HTTP")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "segindex - segment index inspector v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Arguments:\n")
		fmt.Fprintf(os.Stderr, "  <file>    fragmented MP4 file carrying one or more sidx boxes\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s video.mp4\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --shape seek --json video.mp4\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --at 12.5 video.mp4\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --serve --port 8080 video.mp4\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("segindex v%s\n", version)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: media file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Explicit flags win over the config file
	var opts options
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "track":
			cfg.Track = uint32(*track)
		case "shape":
			cfg.Shape = *shape
		case "media-uri":
			cfg.MediaURI = *mediaURI
		case "verbose":
			if *verbose {
				cfg.LogLevel = "debug"
			}
		case "at":
			opts.at = *at
			opts.hasAt = true
		}
	})
	opts.json = *jsonOut
	opts.serve = *serve

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logLevel, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if err := run(flag.Arg(0), cfg, opts, os.Stdout, logger); err != nil {
		logger.Error("segindex failed", "error", err)
		os.Exit(1)
	}
}

func run(path string, cfg *config.Config, opts options, out io.Writer, logger *slog.Logger) error {
	index, err := container.Open(path, logger)
	if err != nil {
		return fmt.Errorf("failed to read segment index: %w", err)
	}

	logger.Debug("scanned media file",
		"path", path,
		"size", index.FileSize,
		"boxes", len(index.Boxes),
		"references", index.ReferenceIDs(),
	)

	if len(index.Select(cfg.Track)) == 0 {
		return fmt.Errorf("no sidx box with reference id %d (available: %v)", cfg.Track, index.ReferenceIDs())
	}

	switch {
	case opts.serve:
		return serve(index, cfg, logger)
	case opts.hasAt:
		return printAt(out, index, cfg, opts)
	default:
		return dump(out, index, cfg, opts)
	}
}

// dump prints every segment of the selected reference id.
func dump(out io.Writer, index *container.Index, cfg *config.Config, opts options) error {
	boxes := index.Select(cfg.Track)

	if cfg.Shape == "seek" {
		segments := index.SeekSegments(cfg.Track)
		if opts.json {
			return writeJSON(out, segments)
		}
		fmt.Fprintf(out, "[sidx] boxes=%d segments=%d\n", len(boxes), len(segments))
		for _, b := range boxes {
			fmt.Fprintf(out, "[sidx] offset=%d size=%d %s\n", b.Offset, b.Size, b.Box.Summary())
		}
		for _, seg := range segments {
			fmt.Fprintf(out, "[sidx] time=%g duration=%g offset=%d size=%d\n",
				seg.TimeSeconds, seg.DurationSeconds, seg.ByteOffset, seg.ByteSize)
		}
		return nil
	}

	segments := index.DashSegments(cfg.Track)
	if opts.json {
		return writeJSON(out, segments)
	}
	fmt.Fprintf(out, "[sidx] boxes=%d segments=%d\n", len(boxes), len(segments))
	for _, b := range boxes {
		fmt.Fprintf(out, "[sidx] offset=%d size=%d %s\n", b.Offset, b.Size, b.Box.Summary())
	}
	for _, seg := range segments {
		fmt.Fprintln(out, formatDash(seg))
	}
	return nil
}

// printAt prints the segment containing opts.at.
func printAt(out io.Writer, index *container.Index, cfg *config.Config, opts options) error {
	segments := index.DashSegments(cfg.Track)
	seg, ok := segment.Find(segments, opts.at)
	if !ok {
		return fmt.Errorf("no segment contains t=%g (indexed duration %gs)", opts.at, segment.Total(segments))
	}
	if opts.json {
		return writeJSON(out, seg)
	}
	fmt.Fprintln(out, formatDash(seg))
	return nil
}

func formatDash(seg segment.DashSegment) string {
	s := fmt.Sprintf("[sidx] start=%g duration=%g range=%d-%d sap=%t sap_type=%d",
		seg.StartSeconds, seg.DurationSeconds, seg.RangeStart, seg.RangeEnd, seg.ContainsSAP, seg.SAPType)
	if seg.IsIndex {
		s += " index"
	}
	return s
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// serve runs the HTTP front end until SIGINT or SIGTERM.
func serve(index *container.Index, cfg *config.Config, logger *slog.Logger) error {
	pl, err := playlist.New(index.DashSegments(cfg.Track), cfg.MediaURI, index.Init, logger)
	if err != nil {
		return fmt.Errorf("failed to create playlist: %w", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	srv := server.New(index, cfg.Track, pl, cfg.Port, logger)

	logger.Info("segment index ready",
		"playlist", fmt.Sprintf("http://localhost:%d/playlist.m3u8", cfg.Port),
		"segments", fmt.Sprintf("http://localhost:%d/segments.json", cfg.Port),
		"health", fmt.Sprintf("http://localhost:%d/health", cfg.Port),
	)

	// Start server (blocks until shutdown)
	return srv.Start(ctx)
}
