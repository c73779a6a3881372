package postproc

import (
	"fmt"
	"strings"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/media"
)

// StdFilterGraph is the stdlib-backed default codec.FilterGraph: it
// interprets RotationDescriptor's filter strings ("transpose=cclock",
// "transpose=clock", "hflip,vflip") directly as a small sequence of
// manual pixel-reindexing passes (pixelops.go) rather than invoking a
// real ffmpeg filter graph — there is exactly one caller
// (internal/postproc.Worker.rotate) and exactly three descriptors it will
// ever pass in, so a tiny interpreter covers the whole surface this
// module needs.
type StdFilterGraph struct {
	ops     []string
	pending media.FrameHandle
}

// NewStdFilterGraph creates an uninitialized StdFilterGraph; Initialize
// must be called before SendFrame.
func NewStdFilterGraph() *StdFilterGraph {
	return &StdFilterGraph{}
}

// Initialize parses descriptor into its comma-separated ops. frameRate and
// nativeKind are accepted for interface compatibility with a real
// ffmpeg-style filter graph but unused: none of the three rotation
// descriptors need either to execute.
func (g *StdFilterGraph) Initialize(descriptor string, frameRate codec.Rational, nativeKind codec.PixelFormat) error {
	g.ops = nil
	for _, op := range strings.Split(descriptor, ",") {
		op = strings.TrimSpace(op)
		if op == "" {
			continue
		}
		switch op {
		case "transpose=cclock", "transpose=clock", "hflip", "vflip":
			g.ops = append(g.ops, op)
		default:
			return fmt.Errorf("postproc: StdFilterGraph: unsupported filter op %q", op)
		}
	}
	return nil
}

// SendFrame runs f through every parsed op in order and stages the result
// for ReceiveFrame. Consumes f (released once its pixels are copied out).
func (g *StdFilterGraph) SendFrame(f media.FrameHandle) error {
	raw, ok := f.(media.RawPixelHandle)
	if !ok {
		return fmt.Errorf("postproc: StdFilterGraph needs a media.RawPixelHandle, got %T", f)
	}
	defer raw.Release()
	if raw.Layout() != media.RawLayoutRGBA {
		return fmt.Errorf("postproc: StdFilterGraph only supports RawLayoutRGBA, got %v", raw.Layout())
	}

	pix, stride, w, h := raw.Pix(), raw.Stride(), raw.Width(), raw.Height()
	for _, op := range g.ops {
		switch op {
		case "transpose=cclock":
			pix, w, h = transposeCCW(pix, stride, w, h)
			stride = w * 4
		case "transpose=clock":
			pix, w, h = transposeCW(pix, stride, w, h)
			stride = w * 4
		case "hflip":
			pix = flipH(pix, stride, w, h)
			stride = w * 4
		case "vflip":
			pix = flipV(pix, stride, w, h)
			stride = w * 4
		}
	}

	g.pending = newRawHandle(media.KindSoftware, w, h, pix)
	return nil
}

// ReceiveFrame returns the frame staged by the last SendFrame call, or
// codec.ErrAgain if none is pending.
func (g *StdFilterGraph) ReceiveFrame() (media.FrameHandle, error) {
	if g.pending == nil {
		return nil, codec.ErrAgain
	}
	f := g.pending
	g.pending = nil
	return f, nil
}
