package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/decoder"
	"github.com/zsiec/mediacore/internal/demuxer"
	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/postproc"
	"github.com/zsiec/mediacore/internal/reisenx"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/seekpoint"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// Generator is the SnapshotGenerator public interface (spec §4.6): it runs
// the demuxer/decoder/Mat-updater trio against one container and exposes a
// per-viewer GetSnapshots call over the resulting Store.
type Generator struct {
	log *slog.Logger

	demux      codec.DemuxSource
	codecCtx   codec.CodecContext
	seekPoints *seekpoint.Table
	sched      *scheduler.Scheduler
	timeCodec  media.TimeCodec
	store      *Store
	viewers    *viewerRegistry

	streamIndex     int
	snapIntervalPTS int64
	opts            Options

	hw *noHWAccel

	loop worker.Loop

	closer func() error

	mu          sync.Mutex
	started     bool
	closed      bool
	group       *worker.Group
	groupCancel context.CancelFunc

	lastMu   sync.Mutex
	lastWant []scheduler.WeightedRange
	haveLast bool
}

// noHWAccel is the always-software codec.HardwareAccelManager every
// Generator uses: the snapshot pipeline has no EnableHWAccel toggle in its
// public interface (spec §4.6 lists no such operation), so its conditional
// mutex is always the no-op path.
type noHWAccel struct{}

func (noHWAccel) Enabled() bool                      { return false }
func (noHWAccel) PreferredFormat() codec.PixelFormat { return 0 }

// Open opens filename with internal/reisenx and returns a Generator ready
// for Start, mirroring videoreader.Open.
func Open(filename string, opts Options) (*Generator, error) {
	if len(opts.SeekPoints) == 0 {
		return nil, &ParseError{Field: "SeekPoints", Err: errors.New("at least one seek point is required")}
	}
	if opts.SnapIntervalPTS <= 0 {
		return nil, &ParseError{Field: "SnapIntervalPTS", Err: errors.New("must be positive")}
	}

	adapter, err := reisenx.OpenAdapter(filename)
	if err != nil {
		return nil, err
	}
	if err := adapter.Container.OpenDecode(); err != nil {
		adapter.Close()
		return nil, err
	}

	g := newGenerator(adapter.Demux, adapter.Codec, adapter.TimeCodec(), opts)
	g.streamIndex = adapter.Container.StreamIndex()
	g.closer = adapter.Close
	if opts.Converter == nil {
		g.opts.Converter = postproc.NewStdConverter()
		g.opts.Converter.SetOutSize(adapter.Container.Width(), adapter.Container.Height())
	}
	return g, nil
}

// newGenerator builds a Generator directly over the internal/codec boundary
// interfaces, bypassing internal/reisenx — the constructor tests use the
// same way videoreader's newReader does.
func newGenerator(demux codec.DemuxSource, codecCtx codec.CodecContext, timeCodec media.TimeCodec, opts Options) *Generator {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		log:             log.With("component", "snapshot"),
		demux:           demux,
		codecCtx:        codecCtx,
		seekPoints:      seekpoint.New(opts.SeekPoints),
		sched:           scheduler.New(),
		timeCodec:       timeCodec,
		store:           NewStore(),
		viewers:         newViewerRegistry(),
		streamIndex:     opts.StreamIndex,
		snapIntervalPTS: opts.SnapIntervalPTS,
		opts:            opts,
		hw:              &noHWAccel{},
		loop:            opts.Loop,
	}
}

// Start builds and launches the demuxer/decoder/Mat-updater workers plus
// the scheduler pump.
func (g *Generator) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if g.started {
		return ErrAlreadyStarted
	}

	stopCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := worker.NewGroup(stopCtx)

	lock := codec.NewContextLock(g.hw)

	demuxWorker := demuxer.New(g.demux, g.seekPoints, g.sched, demuxer.Options{
		StreamIndex: g.streamIndex,
		Forward:     func() bool { return true },
		Loop:        g.loop,
		Log:         g.log,
	})
	decodeWorker := decoder.New(g.codecCtx, g.sched, decoder.Options{
		SSIntervalPTS: g.snapIntervalPTS,
		HWAccel:       g.hw,
		Lock:          lock,
		Loop:          g.loop,
		Log:           g.log,
	})
	updater := newMatUpdater(g.sched, matUpdaterOptions{
		TimeCodec:       g.timeCodec,
		Converter:       g.opts.Converter,
		Rotation:        g.opts.Rotation,
		FilterGraph:     g.opts.FilterGraph,
		FrameRate:       g.opts.FrameRate,
		NativeFormat:    g.opts.NativeFormat,
		Lock:            lock,
		SnapIntervalPTS: g.snapIntervalPTS,
		Store:           g.store,
		Loop:            g.loop,
		Log:             g.log,
	})

	group.Go(demuxWorker.Run)
	group.Go(decodeWorker.Run)
	group.Go(updater.Run)
	group.Go(func(ctx context.Context) error { return g.loop.Run(ctx, g.tick) })

	g.group = group
	g.groupCancel = cancel
	g.started = true
	_ = groupCtx
	g.log.Info("snapshot generator started")
	return nil
}

// Stop cancels and joins every running worker but leaves the container and
// Store intact, so Start can be called again without losing cached
// snapshots.
func (g *Generator) Stop() error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	cancel := g.groupCancel
	group := g.group
	g.mu.Unlock()

	cancel()
	err := group.Wait()

	g.mu.Lock()
	g.started = false
	g.group = nil
	g.groupCancel = nil
	g.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close stops the generator (if running) and releases the underlying
// container.
func (g *Generator) Close() error {
	if err := g.Stop(); err != nil {
		return err
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	closer := g.closer
	g.mu.Unlock()

	if closer != nil {
		return closer()
	}
	return nil
}

func (g *Generator) isStarted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// SetWindow creates viewerID (if new) or repositions its visible window to
// start at startMS for Options.WindowSnapCount consecutive snapshot indices
// (spec §4.6: "Input events: window-size changes, viewer creation...").
func (g *Generator) SetWindow(viewerID string, startMS int64) {
	startIdx := snapIndexForPTS(g.timeCodec.MTSToPTS(startMS), g.snapIntervalPTS)
	g.viewers.setWindow(viewerID, startIdx, g.opts.windowSnapCount(), g.opts.defaultCacheFactor())
}

// SetWindowSize reconfigures how many consecutive indices viewerID's
// window covers.
func (g *Generator) SetWindowSize(viewerID string, count int) {
	v, ok := g.viewers.get(viewerID)
	if !ok {
		return
	}
	g.viewers.setWindow(viewerID, v.windowStart, int32(count), v.cacheFactor)
}

// SetCacheFactor reconfigures viewerID's prefetch multiplier (spec §4.6:
// "cache-factor changes").
func (g *Generator) SetCacheFactor(viewerID string, factor float64) {
	g.viewers.setCacheFactor(viewerID, factor)
}

// RemoveViewer destroys viewerID's window, letting its prefetch ranges
// drop out of the task list on the next tick (spec §4.6: "viewer ...
// destruction").
func (g *Generator) RemoveViewer(viewerID string) {
	g.viewers.remove(viewerID)
}

// tick is the SnapshotGenerator's scheduler pump (spec §4.1's
// update_cache_window / rebuild_task_list, applied to every registered
// viewer at once): aggregate every viewer's desired ranges, and only
// reconcile the task list when that aggregated set actually changed.
func (g *Generator) tick(ctx context.Context) error {
	viewers := g.viewers.snapshot()
	if len(viewers) == 0 {
		return nil
	}

	wanted := scheduler.AggregateRanges(desiredRanges(viewers))
	if !g.wantedChanged(wanted) {
		return nil
	}

	ranges := make([]scheduler.IndexRange, len(wanted))
	for i, w := range wanted {
		ranges[i] = scheduler.IndexRange{First: w.First, Second: w.Second}
	}

	priority := priorityFromViewers(viewers)
	g.sched.ReconcileByIndexRange(ranges, g.newSnapshotTask, priority)
	return nil
}

func (g *Generator) wantedChanged(wanted []scheduler.WeightedRange) bool {
	g.lastMu.Lock()
	defer g.lastMu.Unlock()
	changed := !g.haveLast || !reflect.DeepEqual(wanted, g.lastWant)
	g.lastWant = wanted
	g.haveLast = true
	return changed
}

// newSnapshotTask builds the gop.Task covering index range rng: its seek
// bounds are the keyframes bracketing the ideal PTS of the range's first
// and last index, so the decoder has a valid GOP start to decode from
// (spec §4.1, §3: "ss_index_range ... for snapshot mode").
func (g *Generator) newSnapshotTask(rng scheduler.IndexRange) *gop.Task {
	points := g.seekPoints.Snapshot()
	firstIdeal := g.idealPTS(rng.First)
	lastIdeal := g.idealPTS(rng.Second - 1)

	seekFirst, _, ok := seekpoint.Bracket(points, firstIdeal)
	if !ok && len(points) > 0 {
		seekFirst = points[0]
	}
	_, seekSecond, ok2 := seekpoint.Bracket(points, lastIdeal)
	if !ok2 || seekSecond == seekpoint.MaxPTS {
		seekSecond = lastIdeal + g.snapIntervalPTS
	}

	return gop.NewSnapshot(seekFirst, seekSecond, rng.First, rng.Second, g.idealPTS,
		g.opts.packetQueueSize(), g.opts.decodedQueueSize())
}

func (g *Generator) idealPTS(i int32) int64 {
	return int64(i) * g.snapIntervalPTS
}
