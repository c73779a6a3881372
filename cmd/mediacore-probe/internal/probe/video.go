package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/zsiec/mediacore/videoreader"
)

// RunVideoReader opens filename with videoreader and reads frameCount
// frames forward from the start, then demonstrates a single seek back to
// the beginning (spec §4.5/§6). There is no parser component in this
// module's scope (spec §1 Non-goals), so the demo seeds the seek-point
// table with a single entry at PTS 0 — the same thing
// videoreader_test.go's single-seek-point tests do to sidestep needing a
// real keyframe index.
func RunVideoReader(ctx context.Context, r *Reporter, filename string, frameCount int) error {
	if filename == "" {
		return errors.New("-input is required for -mode=video")
	}
	r.Section("VIDEOREADER")

	reader, err := videoreader.Open(filename, videoreader.Options{
		SeekPoints: []int64{0},
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	defer reader.Close()

	if err := reader.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	f, eof, err := reader.ReadVideoFrame(ctx, 0, true)
	if err != nil {
		return fmt.Errorf("read_video_frame(0): %w", err)
	}
	r.Frame(0, f.PTS, eof)
	f.Close()

	for i := 1; i < frameCount && !eof; i++ {
		next, nextEOF, err := reader.ReadNextVideoFrame(ctx, true)
		if err != nil {
			return fmt.Errorf("read_next_video_frame: %w", err)
		}
		if next == nil {
			break
		}
		r.Frame(i, next.PTS, nextEOF)
		next.Close()
		eof = nextEOF
	}

	r.Seek(0)
	reader.SeekTo(0, false)
	if f, _, err := reader.ReadVideoFrame(ctx, 0, true); err == nil && f != nil {
		f.Close()
	}

	r.Done(fmt.Sprintf("read %d frames from %s", frameCount, filename))
	return nil
}
