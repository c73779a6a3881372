package postproc

import (
	"testing"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/media"
)

func solidRGBA(w, h int, r, g, b, a byte) []byte {
	pix := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		pix[i*4+0] = r
		pix[i*4+1] = g
		pix[i*4+2] = b
		pix[i*4+3] = a
	}
	return pix
}

func TestStdConverterPassthroughAtNativeSize(t *testing.T) {
	t.Parallel()
	c := NewStdConverter()
	in := newRawHandle(media.KindSoftware, 4, 2, solidRGBA(4, 2, 10, 20, 30, 255))

	out, err := c.Convert(in, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	raw := out.(media.RawPixelHandle)
	if raw.Width() != 4 || raw.Height() != 2 {
		t.Fatalf("size = %dx%d, want 4x2", raw.Width(), raw.Height())
	}
	if raw.Kind() != media.KindMatrix {
		t.Fatalf("Kind() = %v, want KindMatrix", raw.Kind())
	}
	p := raw.Pix()
	if p[0] != 10 || p[1] != 20 || p[2] != 30 || p[3] != 255 {
		t.Fatalf("pixel = %v, want [10 20 30 255]", p[:4])
	}
}

func TestStdConverterResizesNearest(t *testing.T) {
	t.Parallel()
	c := NewStdConverter()
	c.SetOutSize(2, 2)
	c.SetResizeInterpolation(codec.InterpolationNearest)
	in := newRawHandle(media.KindSoftware, 4, 4, solidRGBA(4, 4, 5, 6, 7, 255))

	out, err := c.Convert(in, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	raw := out.(media.RawPixelHandle)
	if raw.Width() != 2 || raw.Height() != 2 {
		t.Fatalf("size = %dx%d, want 2x2", raw.Width(), raw.Height())
	}
	if len(raw.Pix()) != 2*2*4 {
		t.Fatalf("pix len = %d, want %d", len(raw.Pix()), 2*2*4)
	}
}

func TestStdConverterReleasesSource(t *testing.T) {
	t.Parallel()
	c := NewStdConverter()
	released := false
	in := &releaseTrackingHandle{rawHandle: *newRawHandle(media.KindSoftware, 2, 2, solidRGBA(2, 2, 1, 2, 3, 255)), onRelease: func() { released = true }}

	if _, err := c.Convert(in, 0); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !released {
		t.Fatal("expected source handle to be released")
	}
}

type releaseTrackingHandle struct {
	rawHandle
	onRelease func()
}

func (h *releaseTrackingHandle) Release() {
	h.onRelease()
	h.rawHandle.Release()
}
