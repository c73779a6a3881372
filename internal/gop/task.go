// Package gop holds the decode-ahead unit of work: a GOP-sized span between
// two seek points, the packet/frame queues that carry it through the
// demux/decode/post-process pipeline, and the lifecycle flags workers use to
// hand it off to one another without a condition variable (spec §3, §9).
package gop

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/media"
)

// PacketQueue buffers demuxed packets for a single task. Pushed packets are
// retained in backup even after Pop drains them from live, so a task can be
// redone (redo_decoding) by replaying the same packets without re-demuxing.
type PacketQueue struct {
	mu     sync.Mutex
	live   []codec.Packet
	backup []codec.Packet
	cap    int
}

// NewPacketQueue creates a queue that reports Full once live holds capacity
// packets; capacity is advisory backpressure, not a hard limit.
func NewPacketQueue(capacity int) *PacketQueue {
	return &PacketQueue{cap: capacity}
}

// Push appends p to both live and backup. It returns false when live was
// already at capacity before the push, the demuxer's cue to stall.
func (q *PacketQueue) Push(p codec.Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	full := len(q.live) >= q.cap
	q.live = append(q.live, p)
	q.backup = append(q.backup, p)
	return !full
}

// Pop removes and returns the oldest unconsumed packet.
func (q *PacketQueue) Pop() (codec.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.live) == 0 {
		return codec.Packet{}, false
	}
	p := q.live[0]
	q.live = q.live[1:]
	return p, true
}

// Len reports the number of unconsumed packets.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

// Full reports whether the queue has reached its advisory capacity.
func (q *PacketQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live) >= q.cap
}

// RestoreBackup replaces live with a fresh copy of everything ever pushed,
// in original order. The demuxer worker calls this via Task.AcknowledgeRedo
// when redo_decoding fires, so the same GOP can be redecoded without asking
// the demuxer to re-read the container.
func (q *PacketQueue) RestoreBackup() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.live = append([]codec.Packet(nil), q.backup...)
}

// DecodedQueue buffers codec-decoded frames awaiting post-processing.
type DecodedQueue struct {
	mu    sync.Mutex
	items []codec.Frame
	cap   int
}

// NewDecodedQueue creates a queue that reports Full once it holds capacity
// frames, the decoder worker's cue to stop feeding the codec for that task.
func NewDecodedQueue(capacity int) *DecodedQueue {
	return &DecodedQueue{cap: capacity}
}

func (q *DecodedQueue) Push(f codec.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	full := len(q.items) >= q.cap
	q.items = append(q.items, f)
	return !full
}

func (q *DecodedQueue) Pop() (codec.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return codec.Frame{}, false
	}
	f := q.items[0]
	q.items = q.items[1:]
	return f, true
}

func (q *DecodedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *DecodedQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.cap
}

// FrameList is the PTS-ordered list of finished frames a task exposes to
// readers and to eviction. PTS must strictly increase across Append calls;
// that invariant is enforced by the post-processor, which is the only
// writer, so a violation here is a programming error, not a runtime
// condition worth a recoverable error.
type FrameList struct {
	mu    sync.RWMutex
	items []*media.Frame
}

// Append adds f to the end of the list. f.PTS must be strictly greater than
// the last item's PTS.
func (l *FrameList) Append(f *media.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.items); n > 0 && f.PTS <= l.items[n-1].PTS {
		panic("gop: FrameList.Append received a non-increasing PTS")
	}
	l.items = append(l.items, f)
}

// Snapshot returns a copy of the current list, safe to iterate without
// holding the lock. Unlike seekpoint.Table, items can be removed by
// eviction as well as appended, so a capacity-capped slice isn't enough
// here; callers get an actual copy.
func (l *FrameList) Snapshot() []*media.Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*media.Frame, len(l.items))
	copy(out, l.items)
	return out
}

// Len reports the number of finished frames.
func (l *FrameList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// First returns the earliest finished frame.
func (l *FrameList) First() (*media.Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.items) == 0 {
		return nil, false
	}
	return l.items[0], true
}

// Last returns the most recently finished frame.
func (l *FrameList) Last() (*media.Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.items) == 0 {
		return nil, false
	}
	return l.items[len(l.items)-1], true
}

// FindContaining returns the frame whose [PTS, PTS+DurationPTS) span covers
// pts, if any.
func (l *FrameList) FindContaining(pts int64) (*media.Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, f := range l.items {
		if f.Contains(pts) {
			return f, true
		}
	}
	return nil, false
}

// EvictOutsideRange drops and returns every frame whose PTS falls outside
// [lo, hi], optionally preserving the very first and/or last frame in the
// list regardless of range — the head/tail retention the post-processor
// needs so a reader sitting exactly at a cache edge never loses its current
// frame out from under it.
func (l *FrameList) EvictOutsideRange(lo, hi int64, keepHead, keepTail bool) []*media.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	kept := l.items[:0:0]
	var evicted []*media.Frame
	last := len(l.items) - 1
	for i, f := range l.items {
		inRange := f.PTS >= lo && f.PTS <= hi
		preserved := (keepHead && i == 0) || (keepTail && i == last)
		if inRange || preserved {
			kept = append(kept, f)
			continue
		}
		evicted = append(evicted, f)
	}
	l.items = kept
	return evicted
}

// SnapCandidate tracks the best decoded-frame candidate seen so far for one
// snapshot index: the frame whose PTS is closest to that index's ideal
// position, per original_source/Snapshot.cpp's ssCandidates/bias bookkeeping.
type SnapCandidate struct {
	IdealPTS      int64
	BestPTSSeen   int64
	Bias          uint64
	HasCandidate  bool
	FrameEnqueued bool
}

// Consider compares a newly decoded frame's PTS against the current best
// candidate for this index and keeps whichever is closer to IdealPTS.
// Returns true if pts became the new best.
func (c *SnapCandidate) Consider(pts int64) bool {
	bias := absInt64(pts - c.IdealPTS)
	if c.HasCandidate && uint64(bias) >= c.Bias {
		return false
	}
	c.BestPTSSeen = pts
	c.Bias = uint64(bias)
	c.HasCandidate = true
	return true
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Task is one decode-ahead unit: the span of the stream between two seek
// points (or, in snapshot mode, between two snapshot indices), the
// packet/frame queues carrying it through the pipeline, and the monotonic
// lifecycle flags workers use to coordinate without a condition variable.
type Task struct {
	SeekPTSFirst, SeekPTSSecond int64
	SSIndexFirst, SSIndexSecond int32
	Snapshot                    bool

	Packets  *PacketQueue
	Decoded  *DecodedQueue
	Finished *FrameList

	candMu     sync.Mutex
	candidates map[int32]*SnapCandidate

	demuxing             atomic.Bool
	demuxerEOF           atomic.Bool
	decoding             atomic.Bool
	decoderEOF           atomic.Bool
	allCandidatesDecoded atomic.Bool
	cancel               atomic.Bool
	mediaBegin           atomic.Bool
	mediaEnd             atomic.Bool
	redoDecoding         atomic.Bool
}

// New creates a plain (non-snapshot) decode-ahead task spanning
// [seekFirst, seekSecond).
func New(seekFirst, seekSecond int64, packetQueueSize, decodedQueueSize int) *Task {
	return &Task{
		SeekPTSFirst:  seekFirst,
		SeekPTSSecond: seekSecond,
		Packets:       NewPacketQueue(packetQueueSize),
		Decoded:       NewDecodedQueue(decodedQueueSize),
		Finished:      &FrameList{},
	}
}

// NewSnapshot creates a snapshot-mode task spanning seek points
// [seekFirst, seekSecond) and covering snapshot indices [ssFirst, ssSecond).
// idealPTS computes the ideal decode target PTS for a given index
// (round(i * ss_interval_pts) per original_source/Snapshot.cpp).
func NewSnapshot(seekFirst, seekSecond int64, ssFirst, ssSecond int32, idealPTS func(i int32) int64, packetQueueSize, decodedQueueSize int) *Task {
	t := New(seekFirst, seekSecond, packetQueueSize, decodedQueueSize)
	t.Snapshot = true
	t.SSIndexFirst = ssFirst
	t.SSIndexSecond = ssSecond
	t.candidates = make(map[int32]*SnapCandidate, ssSecond-ssFirst)
	for i := ssFirst; i < ssSecond; i++ {
		t.candidates[i] = &SnapCandidate{IdealPTS: idealPTS(i)}
	}
	return t
}

// ConsiderCandidate updates the snapshot candidate for ssIndex with a newly
// decoded frame's PTS. It is a no-op if ssIndex isn't covered by this task.
func (t *Task) ConsiderCandidate(ssIndex int32, pts int64) bool {
	t.candMu.Lock()
	defer t.candMu.Unlock()
	c, ok := t.candidates[ssIndex]
	if !ok {
		return false
	}
	return c.Consider(pts)
}

// CandidateFor returns a copy of the current candidate state for ssIndex.
func (t *Task) CandidateFor(ssIndex int32) (SnapCandidate, bool) {
	t.candMu.Lock()
	defer t.candMu.Unlock()
	c, ok := t.candidates[ssIndex]
	if !ok {
		return SnapCandidate{}, false
	}
	return *c, true
}

// MarkCandidateEnqueued flags ssIndex's candidate as already handed to the
// post-processor, which is what RecomputeAllCandidatesDecoded counts. It
// does not stop a later, closer frame from replacing the candidate and
// being enqueued as well.
func (t *Task) MarkCandidateEnqueued(ssIndex int32) {
	t.candMu.Lock()
	defer t.candMu.Unlock()
	if c, ok := t.candidates[ssIndex]; ok {
		c.FrameEnqueued = true
	}
}

// ResetCandidates clears every candidate's decoded state back to "not yet
// seen", for the redo_decoding reset rule (spec §4.3: "rewind candidate
// status").
func (t *Task) ResetCandidates() {
	t.candMu.Lock()
	defer t.candMu.Unlock()
	for _, c := range t.candidates {
		c.HasCandidate = false
		c.FrameEnqueued = false
		c.BestPTSSeen = 0
		c.Bias = 0
	}
	t.allCandidatesDecoded.Store(false)
}

// AbandonRemainingCandidates marks every candidate that never received a
// matching frame as enqueued anyway, so all_candidates_decoded can still
// become true once decoding ends without every index being matched (spec
// §4.3: "mark those candidates as impossible and move on").
func (t *Task) AbandonRemainingCandidates() {
	t.candMu.Lock()
	defer t.candMu.Unlock()
	for _, c := range t.candidates {
		c.FrameEnqueued = true
	}
}

// RecomputeAllCandidatesDecoded scans every snapshot candidate and, if every
// one has been enqueued, sets the all_candidates_decoded flag. Called by the
// decoder worker after each ConsiderCandidate/MarkCandidateEnqueued pair.
func (t *Task) RecomputeAllCandidatesDecoded() {
	t.candMu.Lock()
	defer t.candMu.Unlock()
	for _, c := range t.candidates {
		if !c.FrameEnqueued {
			return
		}
	}
	t.allCandidatesDecoded.Store(true)
}

func (t *Task) SetDemuxing(v bool)          { t.demuxing.Store(v) }
func (t *Task) Demuxing() bool              { return t.demuxing.Load() }
func (t *Task) SetDemuxerEOF(v bool)        { t.demuxerEOF.Store(v) }
func (t *Task) DemuxerEOF() bool            { return t.demuxerEOF.Load() }
func (t *Task) SetDecoding(v bool)          { t.decoding.Store(v) }
func (t *Task) Decoding() bool              { return t.decoding.Load() }

// TryClaimDecode atomically transitions decoding from false to true,
// returning whether this call won the claim. A single internal/decoder.Worker
// never needs it (it is the only goroutine calling find_next_decode_task),
// but a pool of independent file-decoder workers polling the same scheduler
// does: without this, two workers could both observe a task as the
// highest-priority pending one and decode it twice.
func (t *Task) TryClaimDecode() bool { return t.decoding.CompareAndSwap(false, true) }

// TryClaimRedo atomically transitions redo_decoding from true to false,
// returning whether this call won the claim. Mirrors TryClaimDecode's
// reasoning: internal/demuxer.Worker's serviceRedoRequests doesn't need
// this (it is the only goroutine replaying backup packets), but a pool of
// independent file-decoder workers racing to service the same
// redo_decoding flag does.
func (t *Task) TryClaimRedo() bool { return t.redoDecoding.CompareAndSwap(true, false) }
func (t *Task) SetDecoderEOF(v bool)        { t.decoderEOF.Store(v) }
func (t *Task) DecoderEOF() bool            { return t.decoderEOF.Load() }
func (t *Task) AllCandidatesDecoded() bool  { return t.allCandidatesDecoded.Load() }

// SetMediaBegin and SetMediaEnd are set once at task construction by whichever
// scheduler pump built this task, when its seek range covers the first or
// last known seek point for the stream. They're distinct from demuxer_eof and
// decoder_eof, which just mean this task's own GOP is done reading or
// decoding: internal/postproc.Worker consults MediaBegin/MediaEnd, not those,
// to decide whether a boundary frame is the reader's actual start/EOF frame
// rather than a routine decode-ahead task boundary.
func (t *Task) SetMediaBegin(v bool) { t.mediaBegin.Store(v) }
func (t *Task) MediaBegin() bool     { return t.mediaBegin.Load() }
func (t *Task) SetMediaEnd(v bool)   { t.mediaEnd.Store(v) }
func (t *Task) MediaEnd() bool       { return t.mediaEnd.Load() }

// Cancel marks the task cancelled. Workers observing this flag drop it from
// their task lists on the next poll instead of finishing it.
func (t *Task) Cancel()         { t.cancel.Store(true) }
func (t *Task) Cancelled() bool { return t.cancel.Load() }

// RequestRedo marks the task for redecoding, e.g. after the post-processor
// fails to convert a frame (spec §4.4). The demuxer worker observes this on
// its next poll and calls AcknowledgeRedo to replay the task's packets.
func (t *Task) RequestRedo() { t.redoDecoding.Store(true) }

// RedoRequested reports whether a redo is pending.
func (t *Task) RedoRequested() bool { return t.redoDecoding.Load() }

// AcknowledgeRedo restores the packet queue from backup and clears both
// decoder_eof and redo_decoding, so the decoder worker resumes feeding the
// codec context from the start of this task's packets.
func (t *Task) AcknowledgeRedo() {
	t.Packets.RestoreBackup()
	t.decoderEOF.Store(false)
	t.redoDecoding.Store(false)
}

// Contains reports whether pts falls within this task's seek-point span.
func (t *Task) Contains(pts int64) bool {
	return pts >= t.SeekPTSFirst && pts < t.SeekPTSSecond
}
