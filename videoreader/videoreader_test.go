package videoreader

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/gop"
	"github.com/zsiec/mediacore/internal/scheduler"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// fakeHandle is a media.FrameHandle + media.RawPixelHandle backed by a
// fixed 1x1 RGBA pixel, small enough that StdConverter's passthrough path
// (native size, no resize) runs on every test frame.
type fakeHandle struct {
	kind media.FrameKind
}

func (h *fakeHandle) Kind() media.FrameKind { return h.kind }
func (h *fakeHandle) Release()              {}
func (h *fakeHandle) Width() int            { return 1 }
func (h *fakeHandle) Height() int           { return 1 }
func (h *fakeHandle) Stride() int           { return 4 }
func (h *fakeHandle) Pix() []byte           { return []byte{1, 2, 3, 255} }
func (h *fakeHandle) Layout() media.RawLayout { return media.RawLayoutRGBA }

// fakeSource is a codec.DemuxSource over a fixed in-memory PTS timeline,
// the same shape internal/demuxer's worker_test.go fakeSource uses.
type fakeSource struct {
	mu      sync.Mutex
	packets []codec.Packet
	cursor  int
	pos     int64
	havePos bool
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
	s.pos, s.havePos = p.PTS, true
	return p, nil
}

func (s *fakeSource) CurrentPTS() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.havePos
}

// fakeCodecContext echoes back exactly one frame per packet sent, at the
// packet's own PTS, mirroring internal/decoder/worker_test.go's fake.
type fakeCodecContext struct {
	mu      sync.Mutex
	pending []int64
	drained bool
}

func (c *fakeCodecContext) SendPacket(ctx context.Context, p codec.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Null {
		c.drained = true
		return nil
	}
	c.pending = append(c.pending, p.PTS)
	return nil
}

func (c *fakeCodecContext) ReceiveFrame(ctx context.Context) (codec.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		if c.drained {
			return codec.Frame{}, io.EOF
		}
		return codec.Frame{}, codec.ErrAgain
	}
	pts := c.pending[0]
	c.pending = c.pending[1:]
	return codec.Frame{PTS: pts, Handle: &fakeHandle{kind: media.KindSoftware}}, nil
}

func (c *fakeCodecContext) FlushBuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.drained = false
}

func (c *fakeCodecContext) GetFormat(formats []codec.PixelFormat, hwEnabled bool, hwFormat codec.PixelFormat) codec.PixelFormat {
	if len(formats) == 0 {
		return 0
	}
	return formats[0]
}

func newTestReader(t *testing.T, ptsValues []int64, seekPoints []int64) *Reader {
	t.Helper()
	src := newFakeSource(ptsValues...)
	ctx := &fakeCodecContext{}
	r := newReader(src, ctx, media.TimeCodec{Base: media.TimeBase{Num: 1, Den: 1000}}, Options{
		SeekPoints:          seekPoints,
		FrameDurationPTS:    10,
		ForwardCacheFrames:  20,
		BackwardCacheFrames: 5,
		Loop:                worker.Loop{Interval: time.Millisecond},
	})
	return r
}

func TestReaderForwardSequentialRead(t *testing.T) {
	t.Parallel()
	// A single seek point means gopRanges produces exactly one task
	// covering the whole stream, sidestepping the packet-level boundary
	// overlap between adjacent tasks (the end-of-task packet is pushed
	// into the ending task before the task-end check fires, so two
	// adjacent GOPs would otherwise both decode a frame at the shared
	// boundary PTS) and keeping this test's pts sequence simple.
	pts := []int64{0, 10, 20, 30, 40, 50}
	r := newTestReader(t, pts, []int64{0})

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Start(runCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()

	f, eof, err := r.ReadVideoFrame(runCtx, 0, true)
	if err != nil {
		t.Fatalf("ReadVideoFrame(0): %v", err)
	}
	if f.PTS != 0 {
		t.Fatalf("first frame pts = %d, want 0", f.PTS)
	}
	if eof {
		t.Fatal("first frame should not be eof")
	}
	f.Close()

	var last *media.Frame
	var lastEOF bool
	for i := 1; i < len(pts); i++ {
		nf, e, err := r.ReadNextVideoFrame(runCtx, true)
		if err != nil {
			t.Fatalf("ReadNextVideoFrame #%d: %v", i, err)
		}
		if nf == nil {
			t.Fatalf("ReadNextVideoFrame #%d: got nil frame, eof=%v", i, e)
		}
		if last != nil && nf.PTS <= last.PTS {
			t.Fatalf("pts not increasing: %d -> %d", last.PTS, nf.PTS)
		}
		last, lastEOF = nf, e
		nf.Close()
	}
	if !lastEOF {
		t.Fatal("expected the final frame in the sequence to be the eof frame")
	}
}

func TestReaderReadBeforeStartErrors(t *testing.T) {
	t.Parallel()
	r := newTestReader(t, []int64{0, 10}, []int64{0})
	_, _, err := r.ReadVideoFrame(context.Background(), 0, false)
	if err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestReaderEnableHWAccelAfterStartErrors(t *testing.T) {
	t.Parallel()
	r := newTestReader(t, []int64{0, 10}, []int64{0})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()

	if err := r.EnableHWAccel(true); err != ErrHWAccelAfterStart {
		t.Fatalf("err = %v, want ErrHWAccelAfterStart", err)
	}
}

func TestReaderDoubleStartErrors(t *testing.T) {
	t.Parallel()
	r := newTestReader(t, []int64{0, 10}, []int64{0})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer r.Close()
	if err := r.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("err = %v, want ErrAlreadyStarted", err)
	}
}

func TestReaderOpenRejectsEmptySeekPoints(t *testing.T) {
	t.Parallel()
	_, err := Open("does-not-matter.mp4", Options{})
	var pe *ParseError
	if err == nil {
		t.Fatal("expected an error for empty SeekPoints")
	}
	if !isParseError(err, &pe) {
		t.Fatalf("err = %v (%T), want *ParseError", err, err)
	}
}

func isParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func TestGopRangesCoversWindow(t *testing.T) {
	t.Parallel()
	points := []int64{0, 30, 60, 90}
	ranges := gopRanges(points, 25, 65)
	want := []scheduler.SeekRange{{First: 0, Second: 30}, {First: 30, Second: 60}, {First: 60, Second: 90}}
	if len(ranges) != len(want) {
		t.Fatalf("ranges = %v, want %v", ranges, want)
	}
	for i, r := range ranges {
		if r != want[i] {
			t.Fatalf("ranges[%d] = %v, want %v", i, r, want[i])
		}
	}
}

func TestPriorityForPenalizesWrongDirection(t *testing.T) {
	t.Parallel()
	priority := priorityFor(0, 100, 50, true)
	ahead := gop.New(60, 70, 1, 1)
	behind := gop.New(10, 20, 1, 1)

	pAhead := priority(ahead)
	pBehind := priority(behind)
	if !pAhead.Less(pBehind) {
		t.Fatalf("expected the forward task (ahead of the read pointer) to outrank the behind one: ahead=%+v behind=%+v", pAhead, pBehind)
	}
}

func TestPriorityForInViewAlwaysOutranksOutOfView(t *testing.T) {
	t.Parallel()
	priority := priorityFor(0, 50, 10, true)
	inView := gop.New(0, 50, 1, 1)
	outOfView := gop.New(50, 60, 1, 1)

	pIn := priority(inView)
	pOut := priority(outOfView)
	if !pIn.Less(pOut) {
		t.Fatalf("expected in-view task to outrank out-of-view regardless of distance: in=%+v out=%+v", pIn, pOut)
	}
}
