package imageseq

import (
	"context"
	"io"
	"log/slog"
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
// fixed 1x1 RGBA pixel, mirroring videoreader_test.go's fake.
type fakeHandle struct{ kind media.FrameKind }

func (h *fakeHandle) Kind() media.FrameKind    { return h.kind }
func (h *fakeHandle) Release()                 {}
func (h *fakeHandle) Width() int               { return 1 }
func (h *fakeHandle) Height() int              { return 1 }
func (h *fakeHandle) Stride() int              { return 4 }
func (h *fakeHandle) Pix() []byte              { return []byte{1, 2, 3, 255} }
func (h *fakeHandle) Layout() media.RawLayout  { return media.RawLayoutRGBA }

// fakeDemuxSource hands out exactly one packet at a fixed PTS, the shape a
// one-frame image file demuxes to.
type fakeDemuxSource struct {
	pts     int64
	readErr error

	mu   sync.Mutex
	read bool
}

func (s *fakeDemuxSource) SeekTo(int64) error { return nil }

func (s *fakeDemuxSource) ReadPacket() (codec.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return codec.Packet{}, s.readErr
	}
	if s.read {
		return codec.Packet{}, io.EOF
	}
	s.read = true
	return codec.Packet{StreamIndex: 0, PTS: s.pts}, nil
}

func (s *fakeDemuxSource) CurrentPTS() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pts, s.read
}

// fakeCodecContext echoes back one frame per non-null SendPacket call,
// mirroring videoreader_test.go's fake.
type fakeCodecContext struct {
	mu      sync.Mutex
	pending []int64
	drained bool
}

func (c *fakeCodecContext) SendPacket(_ context.Context, p codec.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Null {
		c.drained = true
		return nil
	}
	c.pending = append(c.pending, p.PTS)
	return nil
}

func (c *fakeCodecContext) ReceiveFrame(context.Context) (codec.Frame, error) {
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

// fakeOpener builds a FileOpener over an in-memory file list, where file
// index i decodes to a single frame at PTS i — the same mapping
// imageRanges/priorityFor assume frame index doubles as PTS.
func fakeOpener(files []string) (FileOpener, *int32) {
	var opens int32
	index := make(map[string]int64, len(files))
	for i, f := range files {
		index[f] = int64(i)
	}
	opener := func(path string) (OpenedFile, error) {
		opens++
		idx := index[path]
		return OpenedFile{
			Demux:  &fakeDemuxSource{pts: idx},
			Codec:  &fakeCodecContext{},
			Width:  16,
			Height: 16,
			Close:  func() error { return nil },
		}, nil
	}
	return opener, &opens
}

func newTestReader(t *testing.T, files []string) *Reader {
	t.Helper()
	opener, _ := fakeOpener(files)
	r := newReader(Options{
		Files:               files,
		FrameRate:           codec.Rational{Num: 25, Den: 1},
		ForwardCacheFrames:  20,
		BackwardCacheFrames: 5,
		FileOpener:          opener,
		PoolSize:            2,
		WorkerIdleTimeout:   time.Hour,
		Loop:                worker.Loop{Interval: time.Millisecond},
	})
	return r
}

func TestReaderForwardSequentialRead(t *testing.T) {
	t.Parallel()
	files := []string{"0.png", "1.png", "2.png", "3.png", "4.png"}
	r := newTestReader(t, files)

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
	for i := 1; i < len(files); i++ {
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
	r := newTestReader(t, []string{"0.png", "1.png"})
	_, _, err := r.ReadVideoFrame(context.Background(), 0, false)
	if err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestReaderDoubleStartErrors(t *testing.T) {
	t.Parallel()
	r := newTestReader(t, []string{"0.png", "1.png"})
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

func TestOpenRejectsEmptyFiles(t *testing.T) {
	t.Parallel()
	_, err := Open(Options{FrameRate: codec.Rational{Num: 25, Den: 1}})
	var pe *ParseError
	if !isParseError(err, &pe) || pe.Field != "Files" {
		t.Fatalf("err = %v, want a *ParseError on Files", err)
	}
}

func TestOpenRejectsInvalidFrameRate(t *testing.T) {
	t.Parallel()
	_, err := Open(Options{Files: []string{"0.png"}})
	var pe *ParseError
	if !isParseError(err, &pe) || pe.Field != "FrameRate" {
		t.Fatalf("err = %v, want a *ParseError on FrameRate", err)
	}
}

func isParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func TestImageRangesCoversWindow(t *testing.T) {
	t.Parallel()
	ranges := imageRanges(3, 6)
	want := []scheduler.SeekRange{{First: 3, Second: 4}, {First: 4, Second: 5}, {First: 5, Second: 6}, {First: 6, Second: 7}}
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
	ahead := gop.New(60, 61, 1, 1)
	behind := gop.New(10, 11, 1, 1)

	pAhead := priority(ahead)
	pBehind := priority(behind)
	if !pAhead.Less(pBehind) {
		t.Fatalf("expected the forward task to outrank the behind one: ahead=%+v behind=%+v", pAhead, pBehind)
	}
}

func TestPriorityForInViewAlwaysOutranksOutOfView(t *testing.T) {
	t.Parallel()
	// cacheHi is inclusive: the window covers indices 0..49.
	priority := priorityFor(0, 49, 10, true)
	inView := gop.New(0, 50, 1, 1)
	outOfView := gop.New(50, 60, 1, 1)

	pIn := priority(inView)
	pOut := priority(outOfView)
	if !pIn.Less(pOut) {
		t.Fatalf("expected in-view task to outrank out-of-view regardless of distance: in=%+v out=%+v", pIn, pOut)
	}
}

func TestFileWorkerEnsureOpenReopensOnIndexChange(t *testing.T) {
	t.Parallel()
	files := []string{"0.png", "1.png"}
	opener, opens := fakeOpener(files)
	sched := scheduler.New()
	fw := newFileWorker(0, files, sched, opener, time.Hour, worker.Loop{Interval: time.Millisecond}, slog.Default())

	if _, err := fw.ensureOpen(0); err != nil {
		t.Fatalf("ensureOpen(0): %v", err)
	}
	if _, err := fw.ensureOpen(0); err != nil {
		t.Fatalf("ensureOpen(0) again: %v", err)
	}
	if *opens != 1 {
		t.Fatalf("opens = %d, want 1 (second call should reuse the session)", *opens)
	}

	if _, err := fw.ensureOpen(1); err != nil {
		t.Fatalf("ensureOpen(1): %v", err)
	}
	if *opens != 2 {
		t.Fatalf("opens = %d, want 2 (index change should reopen)", *opens)
	}
}

func TestFileWorkerIdleReleaseClosesSession(t *testing.T) {
	t.Parallel()
	files := []string{"0.png"}
	var closed bool
	opener := func(path string) (OpenedFile, error) {
		return OpenedFile{
			Demux:  &fakeDemuxSource{pts: 0},
			Codec:  &fakeCodecContext{},
			Width:  16,
			Height: 16,
			Close:  func() error { closed = true; return nil },
		}, nil
	}
	sched := scheduler.New()
	fw := newFileWorker(0, files, sched, opener, time.Millisecond, worker.Loop{Interval: time.Millisecond}, slog.Default())

	if _, err := fw.ensureOpen(0); err != nil {
		t.Fatalf("ensureOpen: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	fw.checkIdle()
	if !closed {
		t.Fatal("expected idle release to close the open session")
	}
}
