package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/zsiec/mediacore/imageseq"
	"github.com/zsiec/mediacore/internal/codec"
)

// RunImageSeq opens files as a 25fps image sequence and reads frameCount
// frames forward (spec §4.7), printing the same frame-index progression a
// timeline scrubber would drive.
func RunImageSeq(ctx context.Context, r *Reporter, files []string, frameCount int) error {
	if len(files) == 0 {
		return errors.New("-images is required for -mode=imageseq")
	}
	r.Section("IMAGESEQ")

	reader, err := imageseq.Open(imageseq.Options{
		Files:     files,
		FrameRate: codec.Rational{Num: 25, Den: 1},
	})
	if err != nil {
		return fmt.Errorf("open: %w", err)
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

	for i := 1; i < frameCount && i < len(files) && !eof; i++ {
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

	r.Done(fmt.Sprintf("read frames from %d image files", len(files)))
	return nil
}
