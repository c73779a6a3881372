// Command mediacore-probe is a developer-facing demo CLI over the three
// reader pipelines: it opens one input with the requested mode, drives it
// through a short scripted read sequence, and prints colored status lines
// for each frame, snapshot and seek it performs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zsiec/mediacore/cmd/mediacore-probe/internal/probe"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment as-is", "error", err)
	}

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	mode := flag.String("mode", envOr("PROBE_MODE", "video"), "video | snapshot | imageseq")
	input := flag.String("input", envOr("PROBE_INPUT", ""), "path to a media file (video/snapshot modes)")
	images := flag.String("images", envOr("PROBE_IMAGES", ""), "comma-separated image file paths (imageseq mode)")
	frames := flag.Int("frames", envIntOr("PROBE_FRAMES", 10), "number of frames/snapshots to read")
	flag.Parse()

	slog.Info("mediacore-probe starting", "version", version, "mode", *mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	r := probe.NewReporter()

	var err error
	switch *mode {
	case "video":
		err = probe.RunVideoReader(ctx, r, *input, *frames)
	case "snapshot":
		err = probe.RunSnapshot(ctx, r, *input, *frames)
	case "imageseq":
		err = probe.RunImageSeq(ctx, r, splitList(*images), *frames)
	default:
		err = fmt.Errorf("unknown -mode %q (want video, snapshot, or imageseq)", *mode)
	}

	if err != nil {
		r.Error(err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
