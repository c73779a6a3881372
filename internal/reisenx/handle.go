package reisenx

import "github.com/zsiec/mediacore/media"

// softwareFrame is the FrameHandle every reisenx-decoded frame carries:
// reisen decodes straight to an RGBA byte buffer (erparts-go-avebi's
// player.go feeds frame.Data() directly into an ebiten image), so there is
// no hardware tier in this adapter — every frame starts life at
// media.KindSoftware. It implements media.RawPixelHandle so
// internal/postproc's stdlib-backed PixelConverter and FilterGraph can
// operate on it without depending on this package.
type softwareFrame struct {
	width, height int
	pix           []byte
}

func newSoftwareFrame(width, height int, pix []byte) *softwareFrame {
	return &softwareFrame{width: width, height: height, pix: pix}
}

func (f *softwareFrame) Kind() media.FrameKind { return media.KindSoftware }

// Release drops the reference to the pixel buffer. reisen's Data() already
// hands back a fresh copy per frame, so there is no pool to return it to.
func (f *softwareFrame) Release() { f.pix = nil }

func (f *softwareFrame) Width() int  { return f.width }
func (f *softwareFrame) Height() int { return f.height }
func (f *softwareFrame) Stride() int { return f.width * 4 }
func (f *softwareFrame) Pix() []byte { return f.pix }
func (f *softwareFrame) Layout() media.RawLayout { return media.RawLayoutRGBA }
