package snapshot

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/internal/worker"
	"github.com/zsiec/mediacore/media"
)

// fakeHandle mirrors videoreader's test fake: a 1x1 RGBA pixel so
// StdConverter's passthrough path runs on every test frame.
type fakeHandle struct {
	kind media.FrameKind
}

func (h *fakeHandle) Kind() media.FrameKind   { return h.kind }
func (h *fakeHandle) Release()                {}
func (h *fakeHandle) Width() int              { return 1 }
func (h *fakeHandle) Height() int             { return 1 }
func (h *fakeHandle) Stride() int             { return 4 }
func (h *fakeHandle) Pix() []byte             { return []byte{1, 2, 3, 255} }
func (h *fakeHandle) Layout() media.RawLayout { return media.RawLayoutRGBA }

// fakeSource is a codec.DemuxSource over a fixed in-memory PTS timeline,
// the same shape internal/demuxer's and videoreader's test fakes use.
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

func newTestGenerator(t *testing.T, ptsValues []int64, seekPoints []int64, opts Options) *Generator {
	t.Helper()
	src := newFakeSource(ptsValues...)
	ctx := &fakeCodecContext{}
	opts.SeekPoints = seekPoints
	if opts.SnapIntervalPTS == 0 {
		opts.SnapIntervalPTS = 10
	}
	if opts.Loop.Interval == 0 {
		opts.Loop = worker.Loop{Interval: time.Millisecond}
	}
	if opts.Converter == nil {
		conv := testConverter{}
		opts.Converter = conv
	}
	g := newGenerator(src, ctx, media.TimeCodec{Base: media.TimeBase{Num: 1, Den: 1000}}, opts)
	return g
}

// testConverter is a no-op codec.PixelConverter: it returns the input
// handle unchanged, since these tests only need a value to flow through
// the Mat-updater's chain, not a real pixel transform.
type testConverter struct{}

func (testConverter) SetOutSize(w, h int)                              {}
func (testConverter) SetOutColorFormat(f codec.PixelFormat)            {}
func (testConverter) SetOutDataType(d codec.DataType)                  {}
func (testConverter) SetResizeInterpolation(m codec.InterpolationMode) {}
func (testConverter) Convert(in media.FrameHandle, pts int64) (media.FrameHandle, error) {
	return in, nil
}

func TestGeneratorGetSnapshotsPopulatesWindow(t *testing.T) {
	t.Parallel()
	// Ten snapshot indices at interval 10: pts values land exactly on each
	// ideal index so every candidate wins on its first frame.
	pts := []int64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}
	g := newTestGenerator(t, pts, []int64{0}, Options{WindowSnapCount: 5})

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Start(runCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Close()

	snaps, err := g.GetSnapshots(runCtx, "viewer-1", 0, true)
	if err != nil {
		t.Fatalf("GetSnapshots: %v", err)
	}
	if len(snaps) != 5 {
		t.Fatalf("len(snaps) = %d, want 5", len(snaps))
	}
	for i, s := range snaps {
		if s.Index != int32(i) {
			t.Fatalf("snaps[%d].Index = %d, want %d", i, s.Index, i)
		}
		if s.Source != SourceDecoded {
			t.Fatalf("snaps[%d].Source = %v, want SourceDecoded", i, s.Source)
		}
		if s.Frame == nil {
			t.Fatalf("snaps[%d].Frame is nil", i)
		}
	}
}

func TestGeneratorGetSnapshotsBeforeStartErrors(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, []int64{0, 10}, []int64{0}, Options{})
	_, err := g.GetSnapshots(context.Background(), "viewer-1", 0, false)
	if err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestGeneratorStoreServesPreviouslyDecodedWindow(t *testing.T) {
	t.Parallel()
	pts := []int64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}
	g := newTestGenerator(t, pts, []int64{0}, Options{WindowSnapCount: 3})

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.Start(runCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Close()

	if _, err := g.GetSnapshots(runCtx, "viewer-1", 0, true); err != nil {
		t.Fatalf("GetSnapshots(0): %v", err)
	}
	// Move the window forward, then back: the first window's snapshots
	// must still be servable straight from the Store with no new decode.
	// Nothing exists near 500ms in this 0-90 timeline, so the forward read
	// does not wait (with wait=true it would block until runCtx expires).
	if _, err := g.GetSnapshots(runCtx, "viewer-1", 500, false); err != nil {
		t.Fatalf("GetSnapshots(500): %v", err)
	}

	g.SetWindow("viewer-1", 0)
	snaps2, complete2 := g.resolveWindow("viewer-1")
	if !complete2 {
		t.Fatal("expected the original window to resolve instantly from Store")
	}
	for _, s := range snaps2 {
		if s.Source != SourceDecoded {
			t.Fatalf("snap %d source = %v, want SourceDecoded (served from Store)", s.Index, s.Source)
		}
	}
}

func TestGeneratorOpenRejectsMissingSeekPoints(t *testing.T) {
	t.Parallel()
	_, err := Open("does-not-matter.mp4", Options{SnapIntervalPTS: 10})
	var pe *ParseError
	if err == nil {
		t.Fatal("expected an error for empty SeekPoints")
	}
	if !isParseError(err, &pe) || pe.Field != "SeekPoints" {
		t.Fatalf("err = %v (%T), want *ParseError{Field: SeekPoints}", err, err)
	}
}

func TestGeneratorOpenRejectsMissingSnapInterval(t *testing.T) {
	t.Parallel()
	_, err := Open("does-not-matter.mp4", Options{SeekPoints: []int64{0}})
	var pe *ParseError
	if err == nil {
		t.Fatal("expected an error for zero SnapIntervalPTS")
	}
	if !isParseError(err, &pe) || pe.Field != "SnapIntervalPTS" {
		t.Fatalf("err = %v (%T), want *ParseError{Field: SnapIntervalPTS}", err, err)
	}
}

func isParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func TestGeneratorDoubleStartErrors(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, []int64{0, 10}, []int64{0}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := g.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer g.Close()
	if err := g.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("err = %v, want ErrAlreadyStarted", err)
	}
}

func TestGeneratorRemoveViewerDropsItsRanges(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, []int64{0, 10, 20}, []int64{0}, Options{WindowSnapCount: 2})
	g.SetWindow("viewer-1", 0)
	if _, ok := g.viewers.get("viewer-1"); !ok {
		t.Fatal("expected viewer-1 to be registered after SetWindow")
	}
	g.RemoveViewer("viewer-1")
	if _, ok := g.viewers.get("viewer-1"); ok {
		t.Fatal("expected viewer-1 to be gone after RemoveViewer")
	}
}

