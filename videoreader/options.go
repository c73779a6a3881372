package videoreader

import (
	"log/slog"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/worker"
)

// Default cache sizing and tuning constants. All are arbitrary but
// grounded in the scale of a single GOP at common frame rates; every one
// is exposed as a tunable rather than hard-coded, per spec.md's Open
// Questions note on min_greater_pts_count_than_read_pos generalized to
// every similar constant in this package.
const (
	DefaultForwardCacheFrames  = 32
	DefaultBackwardCacheFrames = 32
	// DefaultSeekingFlashTolerancePTS is expressed in the adapter's PTS
	// domain; callers building on internal/reisenx (nanosecond ticks)
	// should override this with a value derived from their own frame
	// duration instead of relying on the default, which assumes nothing
	// about tick rate.
	DefaultSeekingFlashTolerancePTS = 0
)

// Options configures a Reader at construction. There is no global config
// singleton (spec's ambient-stack note): every public constructor in this
// module takes its own Options by value, the way cmd/prism's
// distribution.NewServer takes a ServerConfig.
type Options struct {
	// StreamIndex selects which demuxed stream this reader decodes. Open
	// overrides this with the container's own video stream index;
	// only meaningful when constructing a Reader directly over fakes.
	StreamIndex int

	// SeekPoints seeds the reader's seek-point table (spec §9: "the
	// seek-point list is mutated both by the parser ... and by the
	// demuxer"). At least one entry is required — Open rejects an empty
	// list with a *ParseError.
	SeekPoints []int64

	// FrameDurationPTS is the nominal decoded-frame duration in the
	// adapter's PTS domain, used both for the task scheduler's cache-window
	// sizing and for each produced media.Frame's DurationPTS. Open derives
	// this from the container's frame rate when left zero.
	FrameDurationPTS int64

	// Rotation is a display-matrix rotation in degrees (0, 90, 180, 270),
	// carried from the parser-supplied MediaInfo (spec §6).
	Rotation int
	// OutWidth/OutHeight configure the initial output matrix size; zero
	// means the source's native (post-rotation) size.
	OutWidth, OutHeight int
	ResizeInterpolation codec.InterpolationMode

	// ForwardCacheFrames/BackwardCacheFrames seed set_cache_frames (spec
	// §6); SetCacheFrames changes them after Start.
	ForwardCacheFrames, BackwardCacheFrames int

	// BackwardPTSSafetyCount overrides the demuxer's backward pre-read
	// safety count (spec.md Open Questions decision #2 in SPEC_FULL.md).
	BackwardPTSSafetyCount int
	// PendingHWFrameCap overrides the decoder's pending-hardware-frame cap
	// (spec §5).
	PendingHWFrameCap int64
	// SeekingFlashTolerancePTS bounds how far a seek may move from the
	// retained seeking-flash frame before it's invalidated (spec §4.4).
	SeekingFlashTolerancePTS int64

	// Converter performs the final pixel conversion; nil uses
	// postproc.NewStdConverter(). Injectable so a future non-stdlib
	// converter can replace it without changing this package.
	Converter codec.PixelConverter
	// FilterGraph applies display-matrix rotation; nil (with Rotation
	// != 0) uses postproc.NewStdFilterGraph().
	FilterGraph codec.FilterGraph

	// Loop overrides the polling interval shared by every worker in this
	// reader's pipeline, including the scheduler pump. Tests shrink this;
	// production callers normally leave it at worker.Loop{}'s default.
	Loop worker.Loop
	Log  *slog.Logger
}

func (o Options) forwardCacheFrames() int64 {
	if o.ForwardCacheFrames > 0 {
		return int64(o.ForwardCacheFrames)
	}
	return DefaultForwardCacheFrames
}

func (o Options) backwardCacheFrames() int64 {
	if o.BackwardCacheFrames > 0 {
		return int64(o.BackwardCacheFrames)
	}
	return DefaultBackwardCacheFrames
}

// hwAccelFlag is a mutable codec.HardwareAccelManager: EnableHWAccel
// toggles Enabled() before Start, at which point Start reads it once to
// build the shared codec.ContextLock the decoder and post-processor
// workers use for the lifetime of the run (spec §9: pick the concrete
// conditional-mutex implementation once, not per-acquisition).
type hwAccelFlag struct {
	enabled   bool
	preferred codec.PixelFormat
}

func (h *hwAccelFlag) Enabled() bool                      { return h.enabled }
func (h *hwAccelFlag) PreferredFormat() codec.PixelFormat { return h.preferred }
