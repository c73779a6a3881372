package demuxer

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/seekpoint"
	"github.com/zsiec/mediacore/internal/worker"
)

// fakeSource is a codec.DemuxSource backed by a fixed in-memory packet
// timeline, used instead of a real container so tests stay deterministic
// and fast.
type fakeSource struct {
	mu      sync.Mutex
	packets []codec.Packet
	cursor  int
	pos     int64
	havePos bool
	seeks   []int64
}

func newFakeSource(ptsValues ...int64) *fakeSource {
	packets := make([]codec.Packet, len(ptsValues))
	for i, pts := range ptsValues {
		packets[i] = codec.Packet{StreamIndex: 0, PTS: pts}
	}
	return &fakeSource{packets: packets}
}

func (s *fakeSource) SeekTo(target int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, target)
	for i, p := range s.packets {
		if p.PTS >= target {
			s.cursor = i
			return nil
		}
	}
	s.cursor = len(s.packets)
	return nil
}

func (s *fakeSource) ReadPacket() (codec.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.packets) {
		return codec.Packet{}, io.EOF
	}
	p := s.packets[s.cursor]
	s.cursor++
	s.pos = p.PTS
	s.havePos = true
	return p, nil
}

func (s *fakeSource) CurrentPTS() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.havePos
}

func runTicks(t *testing.T, w *Worker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		w.tick(context.Background())
	}
}

func TestWorkerReadsPacketsUntilTaskEnd(t *testing.T) {
	t.Parallel()
	src := newFakeSource(0, 10, 20, 30, 40, 50)
	sched := scheduler.New()
	seekPoints := seekpoint.New([]int64{0})
	w := New(src, seekPoints, sched, Options{
		StreamIndex: 0,
		Forward:     func() bool { return true },
		Loop:        worker.Loop{Interval: time.Millisecond},
	})

	task := gop.New(0, 30, 16, 16)
	sched.ReconcileBySeekRange(
		[]scheduler.SeekRange{{0, 30}},
		func(scheduler.SeekRange) *gop.Task { return task },
		func(*gop.Task) scheduler.Priority { return scheduler.Priority{InView: true} },
	)

	runTicks(t, w, 10)

	if !task.DemuxerEOF() {
		t.Fatal("expected demuxer_eof once a packet at or past the task end is read")
	}
	if task.Packets.Len() == 0 {
		t.Fatal("expected packets to have been pushed into the task's queue")
	}
}

func TestWorkerSkipsSeekWhenAlreadyPositioned(t *testing.T) {
	t.Parallel()
	src := newFakeSource(0, 10, 20, 30)
	// prime the source's cursor position without going through SeekTo
	src.ReadPacket()
	src.cursor = 0 // rewind so the next read still returns pts 0, but CurrentPTS reports pos 0

	sched := scheduler.New()
	seekPoints := seekpoint.New([]int64{0})
	w := New(src, seekPoints, sched, Options{
		StreamIndex: 0,
		Forward:     func() bool { return true },
		Loop:        worker.Loop{Interval: time.Millisecond},
	})

	task := gop.New(0, 30, 16, 16)
	sched.ReconcileBySeekRange(
		[]scheduler.SeekRange{{0, 30}},
		func(scheduler.SeekRange) *gop.Task { return task },
		func(*gop.Task) scheduler.Priority { return scheduler.Priority{InView: true} },
	)

	w.tick(context.Background())

	if len(src.seeks) != 0 {
		t.Fatalf("expected no seek when source already positioned inside the task span, got %v", src.seeks)
	}
}

func TestWorkerExtendsSeekPointTableOnImpreciseSeek(t *testing.T) {
	t.Parallel()
	// The source lands on pts 15 for a seek targeting pts 10 (no exact
	// packet at 10), simulating an imprecise seek-point table.
	src := newFakeSource(15, 25, 35)
	sched := scheduler.New()
	seekPoints := seekpoint.New([]int64{0})
	w := New(src, seekPoints, sched, Options{
		StreamIndex: 0,
		Forward:     func() bool { return true },
		Loop:        worker.Loop{Interval: time.Millisecond},
	})

	task := gop.New(10, 40, 16, 16)
	sched.ReconcileBySeekRange(
		[]scheduler.SeekRange{{10, 40}},
		func(scheduler.SeekRange) *gop.Task { return task },
		func(*gop.Task) scheduler.Priority { return scheduler.Priority{InView: true} },
	)

	w.tick(context.Background())

	snap := seekPoints.Snapshot()
	if snap[len(snap)-1] != 15 {
		t.Fatalf("expected the observed pts 15 to be appended to the seek-point table, got %v", snap)
	}
}

func TestWorkerBackwardSafetyCountDelaysEnd(t *testing.T) {
	t.Parallel()
	src := newFakeSource(0, 10, 20, 30, 40, 50)
	sched := scheduler.New()
	seekPoints := seekpoint.New([]int64{0})
	readPos := int64(20)
	w := New(src, seekPoints, sched, Options{
		StreamIndex:             0,
		Forward:                 func() bool { return false },
		ReadPosition:            func() int64 { return readPos },
		BackwardPTSSafetyCount:  2,
		Loop:                    worker.Loop{Interval: time.Millisecond},
	})

	// task nominally ends at pts 20, but backward safety should force
	// reading at least 2 packets with pts >= readPos (20) before stopping.
	task := gop.New(0, 20, 16, 16)
	sched.ReconcileBySeekRange(
		[]scheduler.SeekRange{{0, 20}},
		func(scheduler.SeekRange) *gop.Task { return task },
		func(*gop.Task) scheduler.Priority { return scheduler.Priority{InView: true} },
	)

	runTicks(t, w, 3)
	if task.DemuxerEOF() {
		t.Fatal("task should not be done yet: only one packet (pts 20) at or past read pos seen")
	}

	runTicks(t, w, 1)
	if !task.DemuxerEOF() {
		t.Fatal("task should be done once the safety count (2 packets at/past read pos) is satisfied")
	}
}

func TestWorkerCancelsFromMediaEndOnFirstPacketEOF(t *testing.T) {
	t.Parallel()
	// The source has nothing at or past pts 1000, so a task seeking there
	// hits EOF before reading a single packet of its own.
	src := newFakeSource(0, 10, 20)
	sched := scheduler.New()
	seekPoints := seekpoint.New([]int64{0, 1000, 2000})
	w := New(src, seekPoints, sched, Options{
		StreamIndex: 0,
		Forward:     func() bool { return true },
		Loop:        worker.Loop{Interval: time.Millisecond},
	})

	pastEnd := gop.New(1000, 2000, 16, 16)
	laterStill := gop.New(2000, 3000, 16, 16)
	sched.ReconcileBySeekRange(
		[]scheduler.SeekRange{{1000, 2000}, {2000, 3000}},
		func(rng scheduler.SeekRange) *gop.Task {
			if rng.First == 1000 {
				return pastEnd
			}
			return laterStill
		},
		func(*gop.Task) scheduler.Priority { return scheduler.Priority{InView: true} },
	)

	runTicks(t, w, 1)

	if !pastEnd.Cancelled() {
		t.Fatal("expected the task whose first seek point is past media end to be cancelled")
	}
	if !laterStill.Cancelled() {
		t.Fatal("expected every later task in seek-point order to be cancelled in the same pass")
	}
}
