package imageseq

import (
	"log/slog"
	"time"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/worker"
)

// Default cache sizing and pool tuning constants, the image-sequence
// analogues of videoreader.Options' DefaultForwardCacheFrames/
// DefaultBackwardCacheFrames.
const (
	DefaultForwardCacheFrames  = 32
	DefaultBackwardCacheFrames = 32
	// DefaultPoolSize bounds how many files decode in parallel. Arbitrary
	// but modest: each file-decoder worker holds its own codec session, and
	// a wide pool buys little once it exceeds the forward/backward cache
	// span that can ever be in flight at once.
	DefaultPoolSize = 4
	// DefaultWorkerIdleTimeout is the resource-release watchdog's idle
	// threshold (SPEC_FULL.md §4.7 supplement, grounded on
	// original_source/ImageSequenceReader.cpp's TryReleaseResources pass).
	DefaultWorkerIdleTimeout = 2 * time.Second
)

// Options configures a Reader at construction.
type Options struct {
	// Files is the ordered list of image paths; frame index i reads
	// Files[i]. Required — Open rejects an empty list.
	Files []string

	// FrameRate is the sequence's nominal playback rate, Num frames per Den
	// seconds (e.g. {Num: 25, Den: 1} for 25fps). Required: it is the only
	// source of the index<->media-time conversion, since an image sequence
	// has no container-native frame rate to default to.
	FrameRate codec.Rational

	Rotation             int
	OutWidth, OutHeight  int
	ResizeInterpolation  codec.InterpolationMode

	// ForwardCacheFrames/BackwardCacheFrames seed set_cache_frames (spec
	// §6), expressed in frame-index units rather than PTS (spec §4.7:
	// "Cache range is expressed in frame-index units, not PTS").
	ForwardCacheFrames, BackwardCacheFrames int
	SeekingFlashTolerancePTS                int64

	// PoolSize bounds how many file-decoder workers run concurrently.
	// Defaults to DefaultPoolSize.
	PoolSize int
	// WorkerIdleTimeout overrides DefaultWorkerIdleTimeout.
	WorkerIdleTimeout time.Duration

	// FileOpener overrides how a worker opens one image path; nil uses a
	// github.com/erparts/reisen-backed default (internal/reisenx), the same
	// library videoreader and snapshot open containers with. Tests inject a
	// fake here the way videoreader's tests inject a fake codec.DemuxSource.
	FileOpener FileOpener

	Converter   codec.PixelConverter
	FilterGraph codec.FilterGraph

	PacketQueueSize  int
	DecodedQueueSize int

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

func (o Options) poolSize() int {
	if o.PoolSize > 0 {
		return o.PoolSize
	}
	if n := len(o.Files); n > 0 && n < DefaultPoolSize {
		return n
	}
	return DefaultPoolSize
}

func (o Options) workerIdleTimeout() time.Duration {
	if o.WorkerIdleTimeout > 0 {
		return o.WorkerIdleTimeout
	}
	return DefaultWorkerIdleTimeout
}

func (o Options) packetQueueSize() int {
	if o.PacketQueueSize > 0 {
		return o.PacketQueueSize
	}
	return 4
}

func (o Options) decodedQueueSize() int {
	if o.DecodedQueueSize > 0 {
		return o.DecodedQueueSize
	}
	return 4
}

