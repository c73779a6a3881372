package gop

import (
	"testing"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/media"
)

func newTestFrame(pts int64) *media.Frame {
	return media.NewFrame(pts, pts, 10)
}

func TestPacketQueuePushPopBackpressure(t *testing.T) {
	t.Parallel()
	q := NewPacketQueue(2)

	if !q.Push(codec.Packet{PTS: 1}) {
		t.Fatal("first push into an empty queue should report room remaining")
	}
	if !q.Push(codec.Packet{PTS: 2}) {
		t.Fatal("push into a queue still below capacity should report it had room")
	}
	if !q.Full() {
		t.Fatal("queue should report full at capacity")
	}

	p, ok := q.Pop()
	if !ok || p.PTS != 1 {
		t.Fatalf("Pop() = (%+v, %v), want (PTS:1, true)", p, ok)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}

func TestPacketQueueRestoreBackup(t *testing.T) {
	t.Parallel()
	q := NewPacketQueue(10)
	q.Push(codec.Packet{PTS: 1})
	q.Push(codec.Packet{PTS: 2})
	q.Push(codec.Packet{PTS: 3})

	q.Pop()
	q.Pop()
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after draining two", q.Len())
	}

	q.RestoreBackup()
	if q.Len() != 3 {
		t.Fatalf("Len() after RestoreBackup = %d, want 3", q.Len())
	}
	p, _ := q.Pop()
	if p.PTS != 1 {
		t.Fatalf("first packet after restore = %d, want 1 (original order)", p.PTS)
	}
}

func TestFrameListAppendRejectsNonIncreasing(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-increasing PTS append")
		}
	}()
	l := &FrameList{}
	l.Append(newTestFrame(100))
	l.Append(newTestFrame(100))
}

func TestFrameListSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	l := &FrameList{}
	l.Append(newTestFrame(0))
	l.Append(newTestFrame(10))

	snap := l.Snapshot()
	l.Append(newTestFrame(20))

	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2 (unaffected by later append)", len(snap))
	}
}

func TestFrameListEvictOutsideRangePreservesHeadTail(t *testing.T) {
	t.Parallel()
	l := &FrameList{}
	for _, pts := range []int64{0, 10, 20, 30, 40} {
		l.Append(newTestFrame(pts))
	}

	evicted := l.EvictOutsideRange(15, 25, true, true)

	// 0 and 40 are kept as head/tail even though outside [15,25]; 10 and 30
	// fall outside range and aren't head/tail, so they're evicted.
	if len(evicted) != 2 {
		t.Fatalf("evicted count = %d, want 2", len(evicted))
	}
	remaining := l.Snapshot()
	wantPTS := []int64{0, 20, 40}
	if len(remaining) != len(wantPTS) {
		t.Fatalf("remaining count = %d, want %d", len(remaining), len(wantPTS))
	}
	for i, f := range remaining {
		if f.PTS != wantPTS[i] {
			t.Errorf("remaining[%d].PTS = %d, want %d", i, f.PTS, wantPTS[i])
		}
	}
}

func TestSnapCandidateConsidersClosestBias(t *testing.T) {
	t.Parallel()
	c := &SnapCandidate{IdealPTS: 1000}

	if !c.Consider(1200) {
		t.Fatal("first candidate should always be accepted")
	}
	if c.Bias != 200 {
		t.Fatalf("bias = %d, want 200", c.Bias)
	}
	if c.Consider(1500) {
		t.Fatal("a worse (farther) candidate should not replace the best")
	}
	if !c.Consider(1050) {
		t.Fatal("a closer candidate should replace the best")
	}
	if c.BestPTSSeen != 1050 || c.Bias != 50 {
		t.Fatalf("best = %d bias = %d, want 1050 / 50", c.BestPTSSeen, c.Bias)
	}
}

func TestNewSnapshotTaskAllCandidatesDecoded(t *testing.T) {
	t.Parallel()
	ideal := func(i int32) int64 { return int64(i) * 1000 }
	task := NewSnapshot(0, 10000, 0, 3, ideal, 8, 8)

	if task.AllCandidatesDecoded() {
		t.Fatal("should not be all-decoded before any candidate is enqueued")
	}

	for i := int32(0); i < 3; i++ {
		task.ConsiderCandidate(i, int64(i)*1000+10)
		task.MarkCandidateEnqueued(i)
		task.RecomputeAllCandidatesDecoded()
	}

	if !task.AllCandidatesDecoded() {
		t.Fatal("expected all_candidates_decoded once every index is enqueued")
	}
}

func TestTaskRedoLifecycle(t *testing.T) {
	t.Parallel()
	task := New(0, 1000, 8, 8)
	task.Packets.Push(codec.Packet{PTS: 1})
	task.Packets.Push(codec.Packet{PTS: 2})
	task.Packets.Pop()
	task.SetDecoderEOF(true)

	task.RequestRedo()
	if !task.RedoRequested() {
		t.Fatal("expected redo_decoding to be set")
	}

	task.AcknowledgeRedo()
	if task.RedoRequested() {
		t.Fatal("AcknowledgeRedo should clear redo_decoding")
	}
	if task.DecoderEOF() {
		t.Fatal("AcknowledgeRedo should clear decoder_eof")
	}
	if task.Packets.Len() != 2 {
		t.Fatalf("packet queue length after restore = %d, want 2", task.Packets.Len())
	}
}

func TestTaskContains(t *testing.T) {
	t.Parallel()
	task := New(1000, 2000, 8, 8)
	cases := []struct {
		pts  int64
		want bool
	}{
		{999, false},
		{1000, true},
		{1999, true},
		{2000, false},
	}
	for _, c := range cases {
		if got := task.Contains(c.pts); got != c.want {
			t.Errorf("Contains(%d) = %v, want %v", c.pts, got, c.want)
		}
	}
}
