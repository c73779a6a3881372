package imageseq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/postproc"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// Reader is the ImageSequenceReader public interface (spec §4.7): N
// numbered image files read as a sequence of frames at a configured frame
// rate. Frame index doubles as PTS throughout, so the read API below is the
// videoreader.Reader one, generalized to an index-keyed cache range instead
// of a PTS-keyed one; the one structural difference is the decode leg,
// which is a bounded pool of independent file-decoder workers instead of a
// single demuxer/decoder pair.
type Reader struct {
	log *slog.Logger

	files     []string
	sched     *scheduler.Scheduler
	timeCodec media.TimeCodec

	frameRate    codec.Rational
	rotation     int
	nativeFormat codec.PixelFormat
	converter    codec.PixelConverter
	filterGraph  codec.FilterGraph

	poolSize                 int
	workerIdleTimeout        time.Duration
	fileOpener               FileOpener
	seekingFlashTolerancePTS int64
	packetQueueSize          int
	decodedQueueSize         int

	loop worker.Loop

	readIndex           atomic.Int64
	forward             atomic.Bool
	seekingMode         atomic.Bool
	forwardCacheFrames  atomic.Int64
	backwardCacheFrames atomic.Int64
	cacheLo             atomic.Int64
	cacheHi             atomic.Int64

	mu          sync.Mutex
	started     bool
	closed      bool
	group       *worker.Group
	groupCancel context.CancelFunc
	postWorker  *postproc.Worker

	memoMu    sync.Mutex
	memoPosMS int64
	memoFrame *media.Frame
	haveMemo  bool

	lastMu   sync.Mutex
	lastPTS  int64
	haveLast bool
}

// Open validates opts and returns a Reader ready for Start. Unlike
// videoreader.Open/snapshot.Open there is no single container to open here
// up front — each file is opened lazily by whichever pool worker first
// claims its task.
func Open(opts Options) (*Reader, error) {
	if len(opts.Files) == 0 {
		return nil, &ParseError{Field: "Files", Err: errors.New("at least one file is required")}
	}
	if opts.FrameRate.Num <= 0 || opts.FrameRate.Den <= 0 {
		return nil, &ParseError{Field: "FrameRate", Err: errors.New("must be a positive ratio")}
	}
	return newReader(opts), nil
}

func newReader(opts Options) *Reader {
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
	opener := opts.FileOpener
	if opener == nil {
		opener = defaultFileOpener
	}

	timeCodec := media.TimeCodec{
		Base: media.TimeBase{Num: int64(opts.FrameRate.Den), Den: int64(opts.FrameRate.Num)},
	}

	r := &Reader{
		log:                      log.With("component", "imageseq"),
		files:                    opts.Files,
		sched:                    scheduler.New(),
		timeCodec:                timeCodec,
		frameRate:                opts.FrameRate,
		rotation:                 opts.Rotation,
		converter:                converter,
		filterGraph:              filterGraph,
		poolSize:                 opts.poolSize(),
		workerIdleTimeout:        opts.workerIdleTimeout(),
		fileOpener:               opener,
		seekingFlashTolerancePTS: opts.SeekingFlashTolerancePTS,
		packetQueueSize:          opts.packetQueueSize(),
		decodedQueueSize:         opts.decodedQueueSize(),
		loop:                     opts.Loop,
	}
	r.forward.Store(true)
	r.forwardCacheFrames.Store(opts.forwardCacheFrames())
	r.backwardCacheFrames.Store(opts.backwardCacheFrames())
	return r
}

// Start launches the file-decoder pool, the shared post-processor, and the
// scheduler pump. A second Start without an intervening Stop returns
// ErrAlreadyStarted.
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

	postWorker := postproc.New(r.sched, postproc.Options{
		TimeCodec:                r.timeCodec,
		FrameDurationPTS:         1,
		Converter:                r.converter,
		Rotation:                 r.rotation,
		FilterGraph:              r.filterGraph,
		FrameRate:                r.frameRate,
		NativeFormat:             r.nativeFormat,
		CacheRange:               r.cacheRange,
		SeekingMode:              r.seekingMode.Load,
		SeekingFlashTolerancePTS: r.seekingFlashTolerancePTS,
		Loop:                     r.loop,
		Log:                      r.log,
	})
	group.Go(postWorker.Run)

	for i := 0; i < r.poolSize; i++ {
		fw := newFileWorker(i, r.files, r.sched, r.fileOpener,
			r.workerIdleTimeout, r.loop, r.log)
		group.Go(fw.Run)
	}

	group.Go(func(ctx context.Context) error { return r.loop.Run(ctx, r.schedulerTick) })

	r.postWorker = postWorker
	r.group = group
	r.groupCancel = cancel
	r.started = true
	_ = groupCtx
	r.log.Info("imageseq reader started", "files", len(r.files), "pool_size", r.poolSize)
	return nil
}

// Stop cancels and joins every running worker; Start can be called again
// afterward.
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
	r.postWorker = nil
	r.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close stops the reader (if running). Every per-file decode session was
// already released by its own fileWorker's idle watchdog or its Run
// teardown, so Close has no container of its own to free (spec §5: "Close
// joins all workers before releasing resources").
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
	r.mu.Unlock()

	r.clearMemo()
	return nil
}

// SetDirection flips playback direction; the scheduler pump picks it up on
// its next poll.
func (r *Reader) SetDirection(forward bool) {
	r.forward.Store(forward)
}

// SetCacheFrames reconfigures how many frame indices ahead and behind the
// read pointer the reader keeps decoded (spec §6, §4.7: expressed in
// frame-index units).
func (r *Reader) SetCacheFrames(forwardFrames, backwardFrames int) {
	r.forwardCacheFrames.Store(int64(forwardFrames))
	r.backwardCacheFrames.Store(int64(backwardFrames))
}

// ChangeVideoOutputSize reconfigures the pixel converter's output size and
// resize filter.
func (r *Reader) ChangeVideoOutputSize(w, h int, interp codec.InterpolationMode) {
	r.converter.SetOutSize(w, h)
	r.converter.SetResizeInterpolation(interp)
}

// SeekTo updates the reader's read pointer (here, the target frame index
// derived from posMS) and, when seeking is true, enters interactive
// scrubbing mode.
func (r *Reader) SeekTo(posMS int64, seeking bool) {
	targetPTS := r.timeCodec.MTSToPTS(posMS)
	r.readIndex.Store(targetPTS)
	r.seekingMode.Store(seeking)
	if pw := r.currentPostWorker(); pw != nil {
		pw.OnSeek(targetPTS)
	}
	r.clearMemo()
	r.clearLast()
}

// GetSeekingFlash returns the post-processor's retained seeking-flash
// frame, if any.
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
// eviction window the scheduler pump last computed, in frame-index units
// (spec §4.7: "Eviction policy is identical" to videoreader's PTS-range
// one, just over a different domain).
func (r *Reader) cacheRange() postproc.CacheRange {
	return postproc.CacheRange{Lo: r.cacheLo.Load(), Hi: r.cacheHi.Load(), Forward: r.forward.Load()}
}
