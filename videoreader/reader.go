package videoreader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/decoder"
	"github.com/zsiec/mediacore/internal/demuxer"
	"github.com/zsiec/mediacore/internal/postproc"
	"github.com/zsiec/mediacore/internal/reisenx"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/seekpoint"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// Reader is the VideoReader public interface (spec §4.5, §6): open a
// container once, then Start a {demuxer, decoder, post-processor} worker
// trio (plus the scheduler pump) that keeps a PTS-addressed cache of
// decoded frames around the current read position.
type Reader struct {
	log *slog.Logger

	demux      codec.DemuxSource
	codecCtx   codec.CodecContext
	seekPoints *seekpoint.Table
	sched      *scheduler.Scheduler
	timeCodec  media.TimeCodec

	streamIndex      int
	frameDurationPTS int64

	hw *hwAccelFlag

	rotation     int
	frameRate    codec.Rational
	nativeFormat codec.PixelFormat
	converter    codec.PixelConverter
	filterGraph  codec.FilterGraph

	backwardSafetyCount      int
	pendingHWFrameCap        int64
	seekingFlashTolerancePTS int64

	loop worker.Loop

	// closer releases whatever Open acquired (the reisenx.Adapter);
	// nil when the Reader was built directly over injected fakes.
	closer func() error

	readPos             atomic.Int64
	forward             atomic.Bool
	seekingMode          atomic.Bool
	forwardCacheFrames  atomic.Int64
	backwardCacheFrames atomic.Int64
	cacheLo             atomic.Int64
	cacheHi             atomic.Int64

	mu           sync.Mutex
	started      bool
	closed       bool
	group        *worker.Group
	groupCancel  context.CancelFunc
	demuxWorker  *demuxer.Worker
	decodeWorker *decoder.Worker
	postWorker   *postproc.Worker

	memoMu    sync.Mutex
	memoPosMS int64
	memoFrame *media.Frame
	haveMemo  bool

	lastMu   sync.Mutex
	lastPTS  int64
	haveLast bool
}

// Open opens filename with the internal/reisenx (github.com/erparts/reisen)
// adapter and returns a Reader ready for Start. opts.SeekPoints seeds the
// seek-point table the demuxer extends as it observes keyframes; a parser
// layer outside this module's scope is expected to have produced it.
func Open(filename string, opts Options) (*Reader, error) {
	if len(opts.SeekPoints) == 0 {
		return nil, &ParseError{Field: "SeekPoints", Err: errors.New("at least one seek point is required")}
	}

	adapter, err := reisenx.OpenAdapter(filename)
	if err != nil {
		return nil, err
	}
	if err := adapter.Container.OpenDecode(); err != nil {
		adapter.Close()
		return nil, err
	}

	r := newReader(adapter.Demux, adapter.Codec, adapter.TimeCodec(), opts)
	r.streamIndex = adapter.Container.StreamIndex()
	r.closer = adapter.Close

	num, den := adapter.Container.FrameRate()
	r.frameRate = codec.Rational{Num: num, Den: den}
	if opts.FrameDurationPTS <= 0 && num > 0 {
		r.frameDurationPTS = framesToTimeBaseTicks(num, den, adapter.Container.TimeBase())
	}
	if opts.OutWidth <= 0 {
		w, h := adapter.Container.Width(), adapter.Container.Height()
		if rot := ((opts.Rotation % 360) + 360) % 360; rot == 90 || rot == 270 {
			w, h = h, w
		}
		r.converter.SetOutSize(w, h)
	}
	return r, nil
}

// framesToTimeBaseTicks converts one frame period (frDen/frNum seconds)
// into the adapter's PTS tick domain: ticks = seconds * (base.Den/base.Num).
func framesToTimeBaseTicks(frNum, frDen int32, base media.TimeBase) int64 {
	if frNum == 0 || base.Num == 0 {
		return 0
	}
	num := int64(frDen) * base.Den
	den := int64(frNum) * base.Num
	return (num + den/2) / den
}

// newReader builds a Reader directly over the internal/codec boundary
// interfaces, bypassing internal/reisenx entirely — the constructor tests
// use to drive the pipeline against fakes the same way internal/demuxer,
// internal/decoder, and internal/postproc test their workers in isolation.
func newReader(demux codec.DemuxSource, codecCtx codec.CodecContext, timeCodec media.TimeCodec, opts Options) *Reader {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	converter := opts.Converter
	if converter == nil {
		converter = postproc.NewStdConverter()
		if opts.OutWidth > 0 && opts.OutHeight > 0 {
			converter.SetOutSize(opts.OutWidth, opts.OutHeight)
		}
		converter.SetResizeInterpolation(opts.ResizeInterpolation)
	}
	filterGraph := opts.FilterGraph
	if filterGraph == nil && opts.Rotation != 0 {
		filterGraph = postproc.NewStdFilterGraph()
	}

	r := &Reader{
		log:                      log.With("component", "videoreader"),
		demux:                    demux,
		codecCtx:                 codecCtx,
		seekPoints:               seekpoint.New(opts.SeekPoints),
		sched:                    scheduler.New(),
		timeCodec:                timeCodec,
		streamIndex:              opts.StreamIndex,
		frameDurationPTS:         opts.FrameDurationPTS,
		hw:                       &hwAccelFlag{},
		rotation:                 opts.Rotation,
		converter:                converter,
		filterGraph:              filterGraph,
		backwardSafetyCount:      opts.BackwardPTSSafetyCount,
		pendingHWFrameCap:        opts.PendingHWFrameCap,
		seekingFlashTolerancePTS: opts.SeekingFlashTolerancePTS,
		loop:                     opts.Loop,
	}
	r.forward.Store(true)
	r.forwardCacheFrames.Store(opts.forwardCacheFrames())
	r.backwardCacheFrames.Store(opts.backwardCacheFrames())
	return r
}

// Start builds and launches the demuxer/decoder/post-processor workers
// plus the scheduler pump, all sharing ctx's cancellation. A second Start
// without an intervening Stop returns ErrAlreadyStarted.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.started {
		return ErrAlreadyStarted
	}

	stopCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := worker.NewGroup(stopCtx)

	lock := codec.NewContextLock(r.hw)

	demuxWorker := demuxer.New(r.demux, r.seekPoints, r.sched, demuxer.Options{
		StreamIndex:            r.streamIndex,
		Forward:                r.forward.Load,
		ReadPosition:           r.readPos.Load,
		BackwardPTSSafetyCount: r.backwardSafetyCount,
		Loop:                   r.loop,
		Log:                    r.log,
	})
	decodeWorker := decoder.New(r.codecCtx, r.sched, decoder.Options{
		HWAccel:           r.hw,
		Lock:              lock,
		PendingHWFrameCap: r.pendingHWFrameCap,
		Loop:              r.loop,
		Log:               r.log,
	})
	postWorker := postproc.New(r.sched, postproc.Options{
		TimeCodec:                r.timeCodec,
		FrameDurationPTS:         r.frameDurationPTS,
		Converter:                r.converter,
		Rotation:                 r.rotation,
		FilterGraph:              r.filterGraph,
		FrameRate:                r.frameRate,
		NativeFormat:             r.nativeFormat,
		Lock:                     lock,
		CacheRange:               r.cacheRange,
		SeekingMode:              r.seekingMode.Load,
		SeekingFlashTolerancePTS: r.seekingFlashTolerancePTS,
		Loop:                     r.loop,
		Log:                      r.log,
	})

	group.Go(demuxWorker.Run)
	group.Go(decodeWorker.Run)
	group.Go(postWorker.Run)
	group.Go(func(ctx context.Context) error { return r.loop.Run(ctx, r.schedulerTick) })

	r.demuxWorker = demuxWorker
	r.decodeWorker = decodeWorker
	r.postWorker = postWorker
	r.group = group
	r.groupCancel = cancel
	r.started = true
	_ = groupCtx
	r.log.Info("reader started")
	return nil
}

// Stop cancels and joins every running worker but leaves the reader's
// container and codec context open, so Start can be called again.
func (r *Reader) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.groupCancel
	group := r.group
	r.mu.Unlock()

	cancel()
	err := group.Wait()

	r.mu.Lock()
	r.started = false
	r.group = nil
	r.groupCancel = nil
	r.demuxWorker = nil
	r.decodeWorker = nil
	r.postWorker = nil
	r.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close stops the reader (if running) and releases the underlying
// container. Close is idempotent and joins all workers before returning
// (spec §5: "Close joins all workers before releasing resources").
func (r *Reader) Close() error {
	if err := r.Stop(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	closer := r.closer
	r.mu.Unlock()

	r.clearMemo()
	if closer != nil {
		return closer()
	}
	return nil
}

// EnableHWAccel toggles hardware-accelerated decoding. It must be called
// before Start: the shared conditional mutex (codec.ContextLock) is built
// once at Start time from the current flag value.
func (r *Reader) EnableHWAccel(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrHWAccelAfterStart
	}
	r.hw.enabled = enabled
	return nil
}

// SetDirection flips the reader's playback direction. The scheduler pump
// picks up the change on its next poll and rebuilds the cache range so the
// pre-read side swaps (spec §4.5).
func (r *Reader) SetDirection(forward bool) {
	r.forward.Store(forward)
}

// SetCacheFrames reconfigures how many frames ahead and behind the read
// pointer the reader keeps decoded (spec §6: set_cache_frames).
func (r *Reader) SetCacheFrames(forwardFrames, backwardFrames int) {
	r.forwardCacheFrames.Store(int64(forwardFrames))
	r.backwardCacheFrames.Store(int64(backwardFrames))
}

// ChangeVideoOutputSize reconfigures the pixel converter's output size and
// resize filter (spec §6: change_video_output_size).
func (r *Reader) ChangeVideoOutputSize(w, h int, interp codec.InterpolationMode) {
	r.converter.SetOutSize(w, h)
	r.converter.SetResizeInterpolation(interp)
}

// SeekTo updates the reader's read pointer and, when seeking is true,
// enters interactive-scrubbing mode (seeking-flash retention, spec §4.4).
// The actual pipeline reseek happens lazily: the scheduler pump recomputes
// the cache window from the new read position on its next poll, and
// ReconcileBySeekRange naturally discards the reseek when the target falls
// within a region already demuxed and cached, since the task list for an
// unchanged set of seek ranges is left untouched (spec §4.5).
func (r *Reader) SeekTo(posMS int64, seeking bool) {
	targetPTS := r.timeCodec.MTSToPTS(posMS)
	r.readPos.Store(targetPTS)
	r.seekingMode.Store(seeking)
	if pw := r.currentPostWorker(); pw != nil {
		pw.OnSeek(targetPTS)
	}
	r.clearMemo()
	r.clearLast()
}

// GetSeekingFlash returns the post-processor's retained seeking-flash
// frame, if any (spec §6: get_seeking_flash).
func (r *Reader) GetSeekingFlash() (*media.Frame, bool) {
	pw := r.currentPostWorker()
	if pw == nil {
		return nil, false
	}
	return pw.GetSeekingFlash()
}

func (r *Reader) currentPostWorker() *postproc.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.postWorker
}

func (r *Reader) isStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// cacheRange is the postproc.Options.CacheRange callback: it reports the
// eviction window the scheduler pump last computed.
func (r *Reader) cacheRange() postproc.CacheRange {
	return postproc.CacheRange{Lo: r.cacheLo.Load(), Hi: r.cacheHi.Load(), Forward: r.forward.Load()}
}
