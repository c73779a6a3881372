// Package postproc implements the Post-processor worker (spec §4.4): it
// drains a task's decoded-frame queue, transfers any hardware frame to
// software under the codec's conditional mutex, applies display-matrix
// rotation and pixel conversion, appends the result to the task's
// finished-frame list, and evicts frames that have aged out of the cache
// range — while retaining a seeking-flash frame for interactive scrubbing.
package postproc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// RotationDescriptor returns the filter-graph descriptor string for one of
// the four display rotations spec §4.4 names ("0/90/180/270 yield different
// filter chains"), or "" for 0 (no filter graph needed). 180 degrees is
// expressed as "hflip,vflip" rather than a dedicated filter, matching how
// 90/270 already compose primitive transforms instead of special-casing
// every angle (see DESIGN.md's Open Question decisions).
func RotationDescriptor(degrees int) string {
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

// CacheRange is the eviction window the post-processor checks before
// converting each frame (spec §3: "[read_pts - back*interval,
// read_pts + forward*interval]"). Forward indicates which end of the
// finished-frame list must be preserved regardless of range, so a
// seeking-flash client reading at the cache edge never loses its current
// frame out from under it.
type CacheRange struct {
	Lo, Hi  int64
	Forward bool
}

// Options configures a Worker.
type Options struct {
	TimeCodec        media.TimeCodec
	FrameDurationPTS int64

	// Converter performs the final pixel-format/size/colorspace conversion.
	Converter codec.PixelConverter
	// Rotation is a display-matrix rotation in degrees: 0, 90, 180, or 270.
	Rotation int
	// FilterGraph is required when Rotation != 0.
	FilterGraph  codec.FilterGraph
	FrameRate    codec.Rational
	NativeFormat codec.PixelFormat

	// Lock is the conditional mutex shared with this reader's
	// internal/decoder.Worker, so a hardware frame is never concurrently
	// read by send_packet/receive_frame and a transfer-to-software call
	// (spec §5). Nil means software-only.
	Lock codec.ContextLock

	// CacheRange reports the reader's current eviction window; recomputed
	// by the caller (videoreader/snapshot) on every cache-window change.
	CacheRange func() CacheRange

	// SeekingMode reports whether the reader is in interactive scrubbing
	// mode, which enables seeking-flash retention (spec §4.4).
	SeekingMode func() bool
	// SeekingFlashTolerancePTS bounds how far a seek target may move from
	// the retained flash frame's PTS before OnSeek invalidates it.
	SeekingFlashTolerancePTS int64

	Loop worker.Loop
	Log  *slog.Logger
}

func (o Options) cacheRange() CacheRange {
	if o.CacheRange == nil {
		return CacheRange{Lo: minInt64, Hi: maxInt64, Forward: true}
	}
	return o.CacheRange()
}

func (o Options) seekingMode() bool {
	return o.SeekingMode != nil && o.SeekingMode()
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// Worker drains decoded frames for one reader's scheduler and converts them
// into the finished frames clients read.
type Worker struct {
	sched *scheduler.Scheduler
	opts  Options
	log   *slog.Logger
	lock  codec.ContextLock

	filterInit bool

	flashMu    sync.Mutex
	flashFrame *media.Frame
	flashPTS   int64
}

// New creates a Worker.
func New(sched *scheduler.Scheduler, opts Options) *Worker {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	lock := opts.Lock
	if lock == nil {
		lock = codec.NewContextLock(nil)
	}
	return &Worker{sched: sched, opts: opts, log: log.With("component", "postproc"), lock: lock}
}

// Run drives the worker's poll loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.opts.Loop.Run(ctx, w.tick)
}

func (w *Worker) tick(ctx context.Context) error {
	// Eviction runs over every live task on every tick, independent of
	// which task (if any) has a new frame to convert this round: a cache
	// window can shift from a seek alone, with no decoded frame arriving to
	// otherwise trigger the scan (spec §4.4's eviction pass is unconditional
	// maintenance, not something gated on new decode output).
	for _, t := range w.sched.Tasks() {
		if t.Cancelled() {
			w.drainCancelled(t)
			continue
		}
		w.evictTask(t)
	}

	task := w.sched.FindNextPostprocessTask()
	if task == nil {
		w.opts.Loop.Sleep(ctx)
		return nil
	}

	f, ok := task.Decoded.Pop()
	if !ok {
		w.opts.Loop.Sleep(ctx)
		return nil
	}

	mf, err := w.process(f)
	if err != nil {
		w.log.Warn("post-processing failed, requesting full redecode", "pts", f.PTS, "error", err)
		task.RequestRedo()
		return nil
	}

	task.Finished.Append(mf)
	w.reassignBoundaryFlags(task)
	w.updateFlash(mf)
	return nil
}

// drainCancelled discards every queued decoded frame for a cancelled task
// without converting it (spec §5: "in-flight frames are dropped").
func (w *Worker) drainCancelled(task *gop.Task) {
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

// process runs one decoded frame through hardware->software transfer,
// rotation, and conversion, in that order (spec §4.4).
func (w *Worker) process(f codec.Frame) (*media.Frame, error) {
	if f.Handle == nil {
		return nil, fmt.Errorf("postproc: nil frame handle at pts %d", f.PTS)
	}

	mf := media.NewFrame(f.PTS, w.opts.TimeCodec.PTSToMTS(f.PTS), w.opts.FrameDurationPTS)
	mf.MarkDecodeStarted()
	if f.Context != nil {
		mf.SetContext(f.Context)
	}
	mf.SetPayload(f.Handle)

	if _, kind := mf.Payload(); kind == media.KindHardware {
		w.lock.Lock()
		err := mf.TransferToSoftware()
		w.lock.Unlock()
		if err != nil {
			mf.MarkDecodeFailed()
			mf.Close()
			return nil, fmt.Errorf("hardware->software transfer: %w", err)
		}
	}

	// Rotation and conversion both potentially stay within (or only move up
	// one step from) the current FrameKind tier, which SetPayload's
	// monotonic guard would refuse to install as a replacement. TakePayload
	// detaches mf's reference so the rest of this pipeline runs on a
	// caller-owned handle chain; the single SetPayload at the end always
	// installs cleanly since mf has no payload of its own in the meantime.
	handle, _ := mf.TakePayload()

	if w.opts.Rotation != 0 {
		rotated, err := w.rotate(handle)
		if err != nil {
			handle.Release()
			mf.MarkDecodeFailed()
			mf.Close()
			return nil, fmt.Errorf("rotate: %w", err)
		}
		handle = rotated
	}

	if w.opts.Converter != nil {
		converted, err := w.opts.Converter.Convert(handle, f.PTS)
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

// rotate sends handle through the (lazily initialized) filter graph and
// returns the rotated output. Consumes handle: the filter graph owns it for
// the duration of the call and the caller must use the returned handle in
// its place.
func (w *Worker) rotate(in media.FrameHandle) (media.FrameHandle, error) {
	if err := w.ensureFilterGraph(); err != nil {
		return nil, err
	}
	if err := w.opts.FilterGraph.SendFrame(in); err != nil {
		return nil, err
	}
	return w.opts.FilterGraph.ReceiveFrame()
}

func (w *Worker) ensureFilterGraph() error {
	if w.filterInit || w.opts.FilterGraph == nil {
		return nil
	}
	desc := RotationDescriptor(w.opts.Rotation)
	if desc == "" {
		return nil
	}
	if err := w.opts.FilterGraph.Initialize(desc, w.opts.FrameRate, w.opts.NativeFormat); err != nil {
		return err
	}
	w.filterInit = true
	return nil
}

// evictTask implements spec §4.4's eviction pass: drop finished frames
// outside the current cache range, preserving the head (forward direction)
// or tail (backward) regardless of range so a seeking-flash client always
// has something to show.
func (w *Worker) evictTask(task *gop.Task) {
	cr := w.opts.cacheRange()
	evicted := task.Finished.EvictOutsideRange(cr.Lo, cr.Hi, cr.Forward, !cr.Forward)
	for _, f := range evicted {
		f.MarkDiscarded()
		f.Close()
	}
	if len(evicted) > 0 {
		w.reassignBoundaryFlags(task)
	}
}

// reassignBoundaryFlags re-marks the current head and tail of task's
// finished-frame list after an eviction or append shifts them (spec §4.4:
// "EOF and start-frame flags are re-assigned to the new boundary elements
// after eviction"). task.DecoderEOF reaching zero just means this task's own
// GOP is fully decoded; with decode-ahead running several tasks at once that
// happens constantly and is not the reader's end of stream. Whether a
// boundary here is the reader's actual first/last frame is task.MediaBegin
// and task.MediaEnd, which the scheduler sets only on the task covering the
// very first and very last seek range.
func (w *Worker) reassignBoundaryFlags(task *gop.Task) {
	items := task.Finished.Snapshot()
	if len(items) == 0 {
		return
	}
	for _, f := range items {
		f.IsStartFrame = false
		f.IsEOFFrame = false
	}
	if task.MediaBegin() {
		items[0].IsStartFrame = true
	}
	if task.MediaEnd() && task.DecoderEOF() && task.Decoded.Len() == 0 {
		items[len(items)-1].IsEOFFrame = true
	}
}

// updateFlash records mf as the retained seeking-flash frame while the
// reader is in seeking mode (spec §4.4). The previous flash frame's
// reference is released once the new one replaces it.
func (w *Worker) updateFlash(mf *media.Frame) {
	if !w.opts.seekingMode() {
		return
	}
	w.flashMu.Lock()
	defer w.flashMu.Unlock()
	mf.Retain()
	if w.flashFrame != nil {
		w.flashFrame.Close()
	}
	w.flashFrame = mf
	w.flashPTS = mf.PTS
}

// GetSeekingFlash returns the retained flash frame, if any, with its own
// reference the caller must Close. Implements the consumer-facing
// get_seeking_flash() operation (spec §6).
func (w *Worker) GetSeekingFlash() (*media.Frame, bool) {
	w.flashMu.Lock()
	defer w.flashMu.Unlock()
	if w.flashFrame == nil {
		return nil, false
	}
	w.flashFrame.Retain()
	return w.flashFrame, true
}

// OnSeek invalidates the retained flash frame if targetPTS has moved more
// than SeekingFlashTolerancePTS away from it (spec §4.4: "subsequent seeks
// within that window do not invalidate it").
func (w *Worker) OnSeek(targetPTS int64) {
	w.flashMu.Lock()
	defer w.flashMu.Unlock()
	if w.flashFrame == nil {
		return
	}
	if absInt64(targetPTS-w.flashPTS) > w.opts.SeekingFlashTolerancePTS {
		w.flashFrame.Close()
		w.flashFrame = nil
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
