// Package decoder implements the Decoder worker (spec §4.3): it owns the
// single codec context a reader uses, feeds it packets from the
// scheduler's current task, and dispatches decoded frames either straight
// into that task (VideoReader mode) or into every task whose snapshot
// candidate table the frame's PTS matches (SnapshotGenerator mode).
package decoder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// DefaultPendingHWFrameCap bounds the number of outstanding hardware frame
// references before the decoder starts dropping new ones, per spec §5:
// "the decoder stops pulling frames once pending_hw_frame_count exceeds a
// small fixed limit (2-4)".
const DefaultPendingHWFrameCap = 3

// Options configures a Worker.
type Options struct {
	// SSIntervalPTS, when non-zero, switches the worker into snapshot
	// candidate dispatch mode (spec §4.3): decoded frames are matched
	// against every task's ss_candidates map by nearest-PTS-to-ideal
	// instead of being pushed straight into the currently decoding task.
	SSIntervalPTS int64
	// HWAccel reports whether hardware acceleration is enabled, which
	// picks the conditional mutex's concrete implementation when Lock is
	// nil. Nil HWAccel means software-only.
	HWAccel codec.HardwareAccelManager
	// Lock is the conditional mutex shared with this reader's
	// internal/postproc.Worker. If nil, one is built from HWAccel.
	Lock codec.ContextLock
	// PendingHWFrameCap overrides DefaultPendingHWFrameCap.
	PendingHWFrameCap int64
	Loop              worker.Loop
	Log               *slog.Logger
}

func (o Options) pendingCap() int64 {
	if o.PendingHWFrameCap > 0 {
		return o.PendingHWFrameCap
	}
	return DefaultPendingHWFrameCap
}

// taskState is decoder-worker-local bookkeeping for one task (spec §9:
// worker-local phase state, distinct from the shared task flags).
type taskState struct {
	nullPacketSent bool
	completedOnce  bool
	hasLastPTS     bool
	lastPTS        int64
}

// Worker drives a single codec.CodecContext on behalf of a Scheduler.
type Worker struct {
	ctx   codec.CodecContext
	sched *scheduler.Scheduler
	opts  Options
	log   *slog.Logger
	lock  codec.ContextLock
	hwSem *semaphore.Weighted

	currentTask *gop.Task

	stateMu sync.Mutex
	state   map[*gop.Task]*taskState
}

// New creates a Worker around ctx. The conditional mutex engages only if
// opts.HWAccel reports hardware acceleration enabled.
func New(ctx codec.CodecContext, sched *scheduler.Scheduler, opts Options) *Worker {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	lock := opts.Lock
	if lock == nil {
		lock = codec.NewContextLock(opts.HWAccel)
	}
	return &Worker{
		ctx:   ctx,
		sched: sched,
		opts:  opts,
		log:   log.With("component", "decoder"),
		lock:  lock,
		hwSem: semaphore.NewWeighted(opts.pendingCap()),
		state: make(map[*gop.Task]*taskState),
	}
}

// Run drives the worker's poll loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.opts.Loop.Run(ctx, w.tick)
}

func (w *Worker) tick(ctx context.Context) error {
	// FindNextDecodeTask skips cancelled tasks, so a cancel of the task
	// currently being decoded is picked up here.
	if w.currentTask != nil && w.currentTask.Cancelled() {
		w.handleCancel(w.currentTask)
	}

	task := w.sched.FindNextDecodeTask()
	if task == nil {
		w.opts.Loop.Sleep(ctx)
		return nil
	}

	if task.Cancelled() {
		w.handleCancel(task)
		return nil
	}

	st := w.stateFor(task)

	switch {
	case st.completedOnce && !task.DecoderEOF():
		// redo_decoding resumption: the demuxer has already restored the
		// packet queue (internal/demuxer services the redo_decoding flag
		// directly); the decoder's share of the reset is to flush the
		// codec and rewind this task's candidate bookkeeping (spec §4.3).
		w.lock.Lock()
		w.ctx.FlushBuffers()
		w.lock.Unlock()
		task.ResetCandidates()
		*st = taskState{}
	case w.currentTask != task:
		w.handleTaskSwitch(task)
	}

	w.currentTask = task
	task.SetDecoding(true)

	w.decodeOne(ctx, task, st)
	return nil
}

// handleTaskSwitch either flushes the codec context or sends a single
// null packet, depending on whether the new task is contiguous with the
// previous one (spec §4.3).
func (w *Worker) handleTaskSwitch(task *gop.Task) {
	contiguous := w.currentTask != nil && w.currentTask.SeekPTSSecond == task.SeekPTSFirst

	w.lock.Lock()
	if contiguous {
		w.ctx.SendPacket(context.Background(), codec.Packet{Null: true})
	} else {
		w.ctx.FlushBuffers()
	}
	w.lock.Unlock()
}

// handleCancel implements the cancel reset rule: abandon any in-flight
// frame, flush the codec, and drop this task's worker-local state so the
// scheduler moves on to the next one.
func (w *Worker) handleCancel(task *gop.Task) {
	w.lock.Lock()
	w.ctx.FlushBuffers()
	w.lock.Unlock()
	task.SetDecoding(false)
	w.forgetState(task)
	if w.currentTask == task {
		w.currentTask = nil
	}
}

// decodeOne feeds at most one packet (or, once the task is exhausted, the
// draining null packet) to the codec context and dispatches whatever
// frames come back.
func (w *Worker) decodeOne(ctx context.Context, task *gop.Task, st *taskState) {
	if task.Decoded.Full() {
		w.opts.Loop.Sleep(ctx)
		return
	}
	if p, ok := task.Packets.Pop(); ok {
		w.lock.Lock()
		err := w.ctx.SendPacket(ctx, p)
		w.lock.Unlock()
		if err != nil {
			w.log.Warn("send_packet failed, dropping packet", "pts", p.PTS, "error", err)
			return
		}
		w.receiveFrames(ctx, task, st)
		return
	}

	if !task.DemuxerEOF() {
		w.opts.Loop.Sleep(ctx)
		return
	}

	if !st.nullPacketSent {
		w.lock.Lock()
		w.ctx.SendPacket(ctx, codec.Packet{Null: true})
		w.lock.Unlock()
		st.nullPacketSent = true
	}

	n := w.receiveFrames(ctx, task, st)
	if n > 0 {
		return
	}

	if !task.DecoderEOF() {
		task.SetDecoderEOF(true)
	}
	task.SetDecoding(false)
	st.completedOnce = true
	st.nullPacketSent = false
	if task.Snapshot {
		task.AbandonRemainingCandidates()
		task.RecomputeAllCandidatesDecoded()
	}
}

// receiveFrames drains every frame currently available from the codec
// context, dispatching each one, until EAGAIN, EOF, or another error.
// Returns the count of frames dispatched.
func (w *Worker) receiveFrames(ctx context.Context, task *gop.Task, st *taskState) int {
	count := 0
	for {
		w.lock.Lock()
		f, err := w.ctx.ReceiveFrame(ctx)
		w.lock.Unlock()

		if errors.Is(err, codec.ErrAgain) {
			return count
		}
		if errors.Is(err, io.EOF) {
			task.SetDecoderEOF(true)
			return count
		}
		if err != nil {
			w.log.Warn("receive_frame failed", "error", err)
			return count
		}

		if st.hasLastPTS && f.PTS == st.lastPTS {
			w.log.Warn("dropping duplicate-pts frame", "pts", f.PTS)
			if f.Handle != nil {
				f.Handle.Release()
			}
			continue
		}
		st.lastPTS = f.PTS
		st.hasLastPTS = true

		w.dispatchFrame(task, f)
		count++
	}
}

// dispatchFrame applies the pending-hardware-frame cap, then routes the
// frame either into the current task (plain decode) or into every task
// whose snapshot candidate table it improves (snapshot mode).
func (w *Worker) dispatchFrame(task *gop.Task, f codec.Frame) {
	if f.Handle != nil && f.Handle.Kind() == media.KindHardware {
		if !w.hwSem.TryAcquire(1) {
			w.log.Warn("pending hardware frame cap reached, dropping frame", "pts", f.PTS)
			f.Handle.Release()
			return
		}
		inner := f.Handle
		sem := w.hwSem
		f.Handle = codec.NewHandle(media.KindHardware, inner, func() {
			inner.Release()
			sem.Release(1)
		})
	}

	if w.opts.SSIntervalPTS > 0 {
		w.dispatchSnapshotCandidate(f)
		return
	}

	task.Decoded.Push(f)
}

// dispatchSnapshotCandidate implements spec §4.3's frame dispatch rule for
// snapshot mode: compute ss_index and bias, then update every task whose
// candidate table covers that index, keeping whichever frame is closest
// to ideal.
func (w *Worker) dispatchSnapshotCandidate(f codec.Frame) {
	interval := w.opts.SSIntervalPTS
	ssIndex := int32(roundDiv(f.PTS, interval))

	dispatched := false
	for _, t := range w.sched.Tasks() {
		if !t.Snapshot || ssIndex < t.SSIndexFirst || ssIndex >= t.SSIndexSecond {
			continue
		}
		if t.ConsiderCandidate(ssIndex, f.PTS) {
			t.Decoded.Push(f)
			t.MarkCandidateEnqueued(ssIndex)
			t.RecomputeAllCandidatesDecoded()
			dispatched = true
		}
	}
	if !dispatched && f.Handle != nil {
		f.Handle.Release()
	}
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

func (w *Worker) stateFor(task *gop.Task) *taskState {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	st, ok := w.state[task]
	if !ok {
		st = &taskState{}
		w.state[task] = st
	}
	return st
}

func (w *Worker) forgetState(task *gop.Task) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	delete(w.state, task)
}
