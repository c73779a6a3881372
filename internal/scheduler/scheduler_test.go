package scheduler

import (
	"testing"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/gop"
)

func newTask(first, second int64) *gop.Task {
	return gop.New(first, second, 8, 8)
}

func TestUpdateCacheWindowDirtyOnChange(t *testing.T) {
	t.Parallel()
	s := New()

	if !s.UpdateCacheWindow(SnapWindow{ReadPos: 0}, false) {
		t.Fatal("first window update should always be dirty")
	}
	if s.UpdateCacheWindow(SnapWindow{ReadPos: 0}, false) {
		t.Fatal("identical window should not be dirty")
	}
	if !s.UpdateCacheWindow(SnapWindow{ReadPos: 1000}, false) {
		t.Fatal("changed window should be dirty")
	}
	if !s.UpdateCacheWindow(SnapWindow{ReadPos: 1000}, true) {
		t.Fatal("force should always report dirty")
	}
}

func TestReconcileBySeekRangeKeepsCancelsCreates(t *testing.T) {
	t.Parallel()
	s := New()
	priority := func(t *gop.Task) Priority { return Priority{InView: true, Distance: t.SeekPTSFirst} }

	first := s.ReconcileBySeekRange(
		[]SeekRange{{0, 1000}, {1000, 2000}},
		func(r SeekRange) *gop.Task { return newTask(r.First, r.Second) },
		priority,
	)
	if len(first) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(first))
	}
	kept := first[0]

	second := s.ReconcileBySeekRange(
		[]SeekRange{{0, 1000}, {2000, 3000}},
		func(r SeekRange) *gop.Task { return newTask(r.First, r.Second) },
		priority,
	)
	if len(second) != 2 {
		t.Fatalf("expected 2 tasks after reconcile, got %d", len(second))
	}
	if second[0] != kept {
		t.Fatal("task covering an unchanged range should be the same instance, not recreated")
	}
	if !first[1].Cancelled() {
		t.Fatal("task covering a dropped range should be cancelled")
	}
}

func TestFindNextDemuxTaskSkipsDoneAndCancelled(t *testing.T) {
	t.Parallel()
	s := New()
	priority := func(t *gop.Task) Priority { return Priority{InView: true, Distance: t.SeekPTSFirst} }

	tasks := s.ReconcileBySeekRange(
		[]SeekRange{{0, 1000}, {1000, 2000}, {2000, 3000}},
		func(r SeekRange) *gop.Task { return newTask(r.First, r.Second) },
		priority,
	)
	tasks[0].SetDemuxerEOF(true)
	tasks[1].Cancel()

	next := s.FindNextDemuxTask()
	if next != tasks[2] {
		t.Fatalf("expected task 2 (only one neither done nor cancelled), got %+v", next)
	}
}

func TestFindNextPostprocessTaskRequiresDecodedFrames(t *testing.T) {
	t.Parallel()
	s := New()
	priority := func(t *gop.Task) Priority { return Priority{InView: true} }

	tasks := s.ReconcileBySeekRange(
		[]SeekRange{{0, 1000}, {1000, 2000}},
		func(r SeekRange) *gop.Task { return newTask(r.First, r.Second) },
		priority,
	)

	if got := s.FindNextPostprocessTask(); got != nil {
		t.Fatalf("expected no postprocess task with nothing decoded yet, got %+v", got)
	}

	tasks[1].Decoded.Push(codec.Frame{PTS: 100})
	if got := s.FindNextPostprocessTask(); got != tasks[1] {
		t.Fatalf("expected task 1 once it has a decoded frame, got %+v", got)
	}
}

func TestCancelFromMediaEndCancelsSubsequentTasks(t *testing.T) {
	t.Parallel()
	s := New()
	priority := func(t *gop.Task) Priority { return Priority{InView: true, Distance: t.SeekPTSFirst} }

	tasks := s.ReconcileBySeekRange(
		[]SeekRange{{0, 1000}, {1000, 2000}, {2000, 3000}},
		func(r SeekRange) *gop.Task { return newTask(r.First, r.Second) },
		priority,
	)

	s.CancelFromMediaEnd(tasks[1])

	if tasks[0].Cancelled() {
		t.Fatal("task before the failed one should not be cancelled")
	}
	if !tasks[1].Cancelled() || !tasks[2].Cancelled() {
		t.Fatal("the failed task and everything after it should be cancelled")
	}
}

func TestAggregateRangesMergesSameInView(t *testing.T) {
	t.Parallel()
	got := AggregateRanges([]WeightedRange{
		{First: 0, Second: 10, InView: true},
		{First: 5, Second: 15, InView: true},
	})
	want := []WeightedRange{{First: 0, Second: 15, InView: true}}
	assertRangesEqual(t, got, want)
}

func TestAggregateRangesInViewDominatesOverlap(t *testing.T) {
	t.Parallel()
	got := AggregateRanges([]WeightedRange{
		{First: 0, Second: 20, InView: false},
		{First: 5, Second: 10, InView: true},
	})
	want := []WeightedRange{
		{First: 0, Second: 5, InView: false},
		{First: 5, Second: 10, InView: true},
		{First: 10, Second: 20, InView: false},
	}
	assertRangesEqual(t, got, want)
}

func TestAggregateRangesCoalescesAdjacent(t *testing.T) {
	t.Parallel()
	got := AggregateRanges([]WeightedRange{
		{First: 0, Second: 10, InView: false},
		{First: 10, Second: 20, InView: false},
	})
	want := []WeightedRange{{First: 0, Second: 20, InView: false}}
	assertRangesEqual(t, got, want)
}

func assertRangesEqual(t *testing.T, got, want []WeightedRange) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d ranges, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("range[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
