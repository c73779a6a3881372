// Package demuxer implements the Demuxer worker (spec §4.2): for the
// scheduler's current task it seeks to the task's first seek point (unless
// already positioned there), then reads packets for the selected stream
// until the task's end is reached, feeding them into the task's packet
// queue for the decoder worker to consume.
package demuxer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/seekpoint"
	"github.com/zsiec/mediacore/internal/worker"
)

// DefaultBackwardPTSSafetyCount is the number of packets with PTS at or
// past the read pointer the demuxer insists on reading after a backward
// seek, so the decoder never starves at the playback edge. Matches
// original_source/VideoReader.cpp's m_minGreaterPtsCountThanReadPos{2}
// (spec.md Open Questions: exposed here as a tunable rather than a
// hard-coded constant).
const DefaultBackwardPTSSafetyCount = 2

// Options configures a Worker.
type Options struct {
	// StreamIndex selects which demuxed stream this worker feeds.
	StreamIndex int
	// Forward reports the reader's current playback direction; consulted
	// on every tick since direction can change mid-task.
	Forward func() bool
	// ReadPosition reports the reader's current read-pointer PTS, used by
	// the backward pts-safety check.
	ReadPosition func() int64
	// BackwardPTSSafetyCount overrides DefaultBackwardPTSSafetyCount.
	BackwardPTSSafetyCount int
	Loop                   worker.Loop
	Log                    *slog.Logger
}

func (o Options) safetyCount() int {
	if o.BackwardPTSSafetyCount > 0 {
		return o.BackwardPTSSafetyCount
	}
	return DefaultBackwardPTSSafetyCount
}

// taskState is demuxer-worker-local bookkeeping for one task: whether the
// initial seek has been issued, whether the first-packet monotonicity
// check has run, and the backward pts-safety counter. Per spec §9 this
// lives with the worker, not on the shared task, since no other worker
// needs to see it.
type taskState struct {
	started         bool
	firstPacketSeen bool
	safetyCount     int
}

// Worker drives a single codec.DemuxSource on behalf of a Scheduler,
// reading packets into whichever task FindNextDemuxTask returns.
type Worker struct {
	src        codec.DemuxSource
	seekPoints *seekpoint.Table
	sched      *scheduler.Scheduler
	opts       Options
	log        *slog.Logger

	stateMu sync.Mutex
	state   map[*gop.Task]*taskState
}

// New creates a Worker reading stream opts.StreamIndex from src, feeding
// tasks from sched, and extending seekPoints when it observes an imprecise
// seek point.
func New(src codec.DemuxSource, seekPoints *seekpoint.Table, sched *scheduler.Scheduler, opts Options) *Worker {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		src:        src,
		seekPoints: seekPoints,
		sched:      sched,
		opts:       opts,
		log:        log.With("component", "demuxer"),
		state:      make(map[*gop.Task]*taskState),
	}
}

// Run drives the worker's poll loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.opts.Loop.Run(ctx, w.tick)
}

func (w *Worker) tick(ctx context.Context) error {
	w.pruneState()
	w.serviceRedoRequests()

	task := w.sched.FindNextDemuxTask()
	if task == nil {
		w.opts.Loop.Sleep(ctx)
		return nil
	}
	if task.Packets.Full() {
		w.opts.Loop.Sleep(ctx)
		return nil
	}

	st := w.stateFor(task)
	if !st.started {
		w.startTask(task, st)
		task.SetDemuxing(true)
	}

	w.readOnePacket(task, st)
	return nil
}

// serviceRedoRequests replays backup packets for any task the decoder has
// marked redo_decoding (spec §4.2: "the decoder may also mark a task as
// redo_decoding, which wakes the demuxer to replay backup packets"). This
// never touches the container — the task's packets were already read —
// so it runs against every task the scheduler knows about, not just the
// one FindNextDemuxTask would currently pick.
func (w *Worker) serviceRedoRequests() {
	for _, t := range w.sched.Tasks() {
		if t.RedoRequested() {
			w.log.Info("redo_decoding observed, replaying backup packets", "seek_first", t.SeekPTSFirst)
			t.AcknowledgeRedo()
		}
	}
}

// startTask performs the seek-skip decision: the seek is issued only when
// the source isn't already positioned inside the task's span.
func (w *Worker) startTask(task *gop.Task, st *taskState) {
	target := task.SeekPTSFirst
	if cur, ok := w.src.CurrentPTS(); ok && cur >= target && cur < task.SeekPTSSecond {
		st.started = true
		return
	}
	if err := w.src.SeekTo(target); err != nil {
		w.log.Warn("seek failed", "target", target, "error", err)
	}
	st.started = true
}

func (w *Worker) readOnePacket(task *gop.Task, st *taskState) {
	p, err := w.src.ReadPacket()
	if errors.Is(err, io.EOF) {
		w.finishTask(task, st)
		return
	}
	if err != nil {
		w.log.Warn("packet read failed, skipping", "error", err)
		return
	}
	if p.StreamIndex != w.opts.StreamIndex {
		return
	}

	if !st.firstPacketSeen {
		st.firstPacketSeen = true
		if p.PTS > task.SeekPTSFirst {
			w.log.Warn("seek point imprecise, extending seek-point table",
				"target", task.SeekPTSFirst, "observed", p.PTS)
			w.seekPoints.Append(p.PTS)
		}
	}

	if !task.Packets.Push(p) {
		w.log.Debug("packet queue reached capacity", "seek_first", task.SeekPTSFirst)
	}

	if task.AllCandidatesDecoded() {
		// short-circuit per spec §4.2: the decoder already has every
		// candidate this task can offer, no need to keep reading.
		w.finishTask(task, st)
		return
	}

	if w.reachedEnd(task, st, p) {
		w.finishTask(task, st)
	}
}

// reachedEnd applies the direction-aware pre-read and pts-safety rules: in
// backward mode, the demuxer keeps reading past the task's nominal end PTS
// until it has seen at least opts.safetyCount() packets at or past the
// read pointer, so the decoder has material to work with behind the
// current position.
func (w *Worker) reachedEnd(task *gop.Task, st *taskState, p codec.Packet) bool {
	atOrPastEnd := p.PTS >= task.SeekPTSSecond
	if w.opts.Forward == nil || w.opts.Forward() {
		return atOrPastEnd
	}

	readPos := int64(0)
	if w.opts.ReadPosition != nil {
		readPos = w.opts.ReadPosition()
	}
	if p.PTS >= readPos {
		st.safetyCount++
	}
	if atOrPastEnd && st.safetyCount < w.opts.safetyCount() {
		return false
	}
	return atOrPastEnd
}

// finishTask marks task's demuxing as complete. When end of stream is hit
// before this task has read a single packet of its own (st.firstPacketSeen
// still false), the task's first seek point was already past the media end,
// and spec.md:89's failure semantics apply: this task and every later one in
// seek-point order are unreachable and get cancelled in the same pass.
func (w *Worker) finishTask(task *gop.Task, st *taskState) {
	task.SetDemuxerEOF(true)
	task.SetDemuxing(false)
	if !st.firstPacketSeen {
		w.log.Warn("seek point past media end, cancelling task and everything past it",
			"seek_first", task.SeekPTSFirst)
		w.sched.CancelFromMediaEnd(task)
	}
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

// pruneState drops bookkeeping for tasks that have finished or been
// cancelled, so the map doesn't grow across a long reader session.
func (w *Worker) pruneState() {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	for t := range w.state {
		if t.Cancelled() || t.DemuxerEOF() {
			delete(w.state, t)
		}
	}
}
