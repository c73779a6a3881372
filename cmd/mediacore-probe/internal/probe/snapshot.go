package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/zsiec/mediacore/snapshot"
)

// snapIntervalNS is the "ss frame rate" (spec §4.6): one snapshot index per
// second in reisenx's nanosecond PTS domain.
const snapIntervalNS = 1_000_000_000

// RunSnapshot opens filename with snapshot.Generator, registers a single
// viewer window, and polls GetSnapshots(wait=false) while a progress bar
// tracks how many of windowCount indices have resolved — the demo spec §8
// scenario 4 describes ("get_snapshots(0.0) blocks until the first 20 are
// populated"), made visible a poll at a time instead of one long block.
func RunSnapshot(ctx context.Context, r *Reporter, filename string, windowCount int) error {
	if filename == "" {
		return errors.New("-input is required for -mode=snapshot")
	}
	r.Section("SNAPSHOT")

	gen, err := snapshot.Open(filename, snapshot.Options{
		SeekPoints:      []int64{0},
		SnapIntervalPTS: snapIntervalNS,
		WindowSnapCount: windowCount,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	defer gen.Close()

	if err := gen.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	const viewerID = "probe"
	gen.SetWindow(viewerID, 0)

	bar := progressbar.NewOptions(windowCount,
		progressbar.OptionSetDescription("resolving snapshots"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	var snaps []snapshot.Snap
	for {
		snaps, err = gen.GetSnapshots(ctx, viewerID, 0, false)
		if err != nil {
			return fmt.Errorf("get_snapshots: %w", err)
		}
		resolved := 0
		for _, s := range snaps {
			if s.Source != snapshot.SourceNone {
				resolved++
			}
		}
		_ = bar.Set(resolved)
		if resolved >= len(snaps) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	_ = bar.Finish()

	for _, s := range snaps {
		r.Snapshot(s.Index, sourceName(s.Source), s.TS)
		if s.Frame != nil {
			s.Frame.Close()
		}
	}

	r.Done(fmt.Sprintf("resolved %d snapshots from %s", len(snaps), filename))
	return nil
}

func sourceName(s snapshot.SnapSource) string {
	switch s {
	case snapshot.SourceDecoded:
		return "decoded"
	case snapshot.SourceOverview:
		return "overview"
	case snapshot.SourceNearest:
		return "nearest"
	default:
		return "none"
	}
}
