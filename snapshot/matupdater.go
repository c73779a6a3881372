package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// matUpdaterOptions configures a matUpdater. It mirrors
// internal/postproc.Options' conversion-related fields exactly (same
// hardware->software/rotate/convert chain, spec §2: "Three distinct
// pipelines share the same structure") but drops the cache-range eviction
// and seeking-flash fields, which are VideoReader-only concerns with no
// equivalent in the snapshot pipeline: a snapshot's presence in Store is
// keyed by index and never evicted by PTS range (see store.go).
type matUpdaterOptions struct {
	TimeCodec media.TimeCodec

	Converter    codec.PixelConverter
	Rotation     int
	FilterGraph  codec.FilterGraph
	FrameRate    codec.Rational
	NativeFormat codec.PixelFormat

	Lock codec.ContextLock

	SnapIntervalPTS int64
	Store           *Store

	Loop worker.Loop
	Log  *slog.Logger
}

// matUpdater is the Mat-updater worker (spec §2, §4.6): it drains decoded
// snapshot candidates from the scheduler's current task, runs each through
// the same hardware->software/rotate/convert chain internal/postproc uses
// for VideoReader, and stores the result into Store keyed by snapshot
// index rather than appending to the task's finished-frame list.
type matUpdater struct {
	sched *scheduler.Scheduler
	opts  matUpdaterOptions
	log   *slog.Logger
	lock  codec.ContextLock

	filterInit bool
}

func newMatUpdater(sched *scheduler.Scheduler, opts matUpdaterOptions) *matUpdater {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	lock := opts.Lock
	if lock == nil {
		lock = codec.NewContextLock(nil)
	}
	return &matUpdater{sched: sched, opts: opts, log: log.With("component", "snapshot-matupdater"), lock: lock}
}

// Run drives the worker's poll loop until ctx is cancelled.
func (u *matUpdater) Run(ctx context.Context) error {
	return u.opts.Loop.Run(ctx, u.tick)
}

func (u *matUpdater) tick(ctx context.Context) error {
	for _, t := range u.sched.Tasks() {
		if t.Cancelled() {
			u.drainCancelled(t)
		}
	}

	task := u.sched.FindNextPostprocessTask()
	if task == nil {
		u.opts.Loop.Sleep(ctx)
		return nil
	}

	f, ok := task.Decoded.Pop()
	if !ok {
		u.opts.Loop.Sleep(ctx)
		return nil
	}

	ssIndex := snapIndexForPTS(f.PTS, u.opts.SnapIntervalPTS)
	mf, err := u.process(f)
	if err != nil {
		u.log.Warn("snapshot conversion failed, requesting redecode", "ss_index", ssIndex, "pts", f.PTS, "error", err)
		task.RequestRedo()
		return nil
	}

	u.opts.Store.Put(ssIndex, mf)
	task.MarkCandidateEnqueued(ssIndex)
	task.RecomputeAllCandidatesDecoded()
	mf.Close()
	return nil
}

func (u *matUpdater) drainCancelled(task *gop.Task) {
	for {
		f, ok := task.Decoded.Pop()
		if !ok {
			return
		}
		if f.Handle != nil {
			f.Handle.Release()
		}
	}
}

// process mirrors internal/postproc.Worker.process: hardware->software
// transfer (under the shared conditional mutex), optional rotation, then
// pixel conversion, in that order (spec §4.4, reused verbatim for this
// pipeline per spec §2).
func (u *matUpdater) process(f codec.Frame) (*media.Frame, error) {
	if f.Handle == nil {
		return nil, fmt.Errorf("snapshot: nil frame handle at pts %d", f.PTS)
	}

	mf := media.NewFrame(f.PTS, u.opts.TimeCodec.PTSToMTS(f.PTS), 0)
	mf.MarkDecodeStarted()
	if f.Context != nil {
		mf.SetContext(f.Context)
	}
	mf.SetPayload(f.Handle)

	if _, kind := mf.Payload(); kind == media.KindHardware {
		u.lock.Lock()
		err := mf.TransferToSoftware()
		u.lock.Unlock()
		if err != nil {
			mf.MarkDecodeFailed()
			mf.Close()
			return nil, fmt.Errorf("hardware->software transfer: %w", err)
		}
	}

	handle, _ := mf.TakePayload()

	if u.opts.Rotation != 0 {
		rotated, err := u.rotate(handle)
		if err != nil {
			handle.Release()
			mf.MarkDecodeFailed()
			mf.Close()
			return nil, fmt.Errorf("rotate: %w", err)
		}
		handle = rotated
	}

	if u.opts.Converter != nil {
		converted, err := u.opts.Converter.Convert(handle, f.PTS)
		if err != nil {
			handle.Release()
			mf.MarkDecodeFailed()
			mf.Close()
			return nil, fmt.Errorf("convert: %w", err)
		}
		handle = converted
	}

	mf.SetPayload(handle)
	return mf, nil
}

func (u *matUpdater) rotate(in media.FrameHandle) (media.FrameHandle, error) {
	if err := u.ensureFilterGraph(); err != nil {
		return nil, err
	}
	if err := u.opts.FilterGraph.SendFrame(in); err != nil {
		return nil, err
	}
	return u.opts.FilterGraph.ReceiveFrame()
}

func (u *matUpdater) ensureFilterGraph() error {
	if u.filterInit || u.opts.FilterGraph == nil {
		return nil
	}
	desc := rotationDescriptor(u.opts.Rotation)
	if desc == "" {
		return nil
	}
	if err := u.opts.FilterGraph.Initialize(desc, u.opts.FrameRate, u.opts.NativeFormat); err != nil {
		return err
	}
	u.filterInit = true
	return nil
}

// rotationDescriptor duplicates internal/postproc.RotationDescriptor's
// table rather than importing the postproc package, since this worker
// otherwise has no dependency on internal/postproc (which also carries the
// VideoReader-specific eviction/seeking-flash machinery this pipeline
// doesn't use).
func rotationDescriptor(degrees int) string {
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return "transpose=cclock"
	case 180:
		return "hflip,vflip"
	case 270:
		return "transpose=clock"
	default:
		return ""
	}
}

// snapIndexForPTS computes round(pts / interval), the same formula
// internal/decoder.dispatchSnapshotCandidate uses to decide which task a
// frame belongs to (spec §4.3).
func snapIndexForPTS(pts, interval int64) int32 {
	if interval <= 0 {
		return 0
	}
	return int32(roundDiv(pts, interval))
}

func roundDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	if (a < 0) != (b < 0) {
		return -((-a + b/2) / b)
	}
	return (a + b/2) / b
}
