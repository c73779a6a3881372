package postproc

import "github.com/zsiec/mediacore/media"

// rawHandle is the media.FrameHandle/media.RawPixelHandle produced by
// StdFilterGraph and StdConverter: a tightly-packed (stride == width*4)
// RGBA buffer tagged with whichever FrameKind its producer occupies in
// the hardware->software->matrix pipeline.
type rawHandle struct {
	kind          media.FrameKind
	width, height int
	pix           []byte
}

func newRawHandle(kind media.FrameKind, width, height int, pix []byte) *rawHandle {
	return &rawHandle{kind: kind, width: width, height: height, pix: pix}
}

func (h *rawHandle) Kind() media.FrameKind { return h.kind }
func (h *rawHandle) Release()              { h.pix = nil }
func (h *rawHandle) Width() int            { return h.width }
func (h *rawHandle) Height() int           { return h.height }
func (h *rawHandle) Stride() int           { return h.width * 4 }
func (h *rawHandle) Pix() []byte           { return h.pix }
func (h *rawHandle) Layout() media.RawLayout { return media.RawLayoutRGBA }
