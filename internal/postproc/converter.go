package postproc

import (
	"fmt"
	"sync"

	"github.com/zsiec/mediacore/internal/codec"
	"github.com/zsiec/mediacore/media"
)

// StdConverter is the stdlib-backed default codec.PixelConverter
// internal/codec.PixelConverter's doc comment promises: resize via manual
// nearest/bilinear pixel reindexing (pixelops.go), no colorspace
// conversion beyond the RGBA every internal/reisenx frame already arrives
// in. It is the leaf of the pipeline's dependency order (spec §2: "Pixel
// Converter -> PostProcessor -> ..."), operating only against
// media.RawPixelHandle so it works with any codec adapter that produces
// one, not just reisenx.
//
// A reader's public API (videoreader.ChangeVideoOutputSize) can reconfigure
// the output size from its own goroutine while the post-processor worker
// is mid-Convert on another, so every setter and Convert itself take mu.
type StdConverter struct {
	mu sync.Mutex

	outW, outH int
	format     codec.PixelFormat
	dataType   codec.DataType
	interp     codec.InterpolationMode
}

// NewStdConverter creates a StdConverter defaulting to RGBA/packed-8-bit
// output at the source frame's native size until SetOutSize narrows it.
func NewStdConverter() *StdConverter {
	return &StdConverter{format: codec.PixelFormatRGBA, dataType: codec.DataTypePacked8}
}

func (c *StdConverter) SetOutSize(w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outW, c.outH = w, h
}

func (c *StdConverter) SetOutColorFormat(f codec.PixelFormat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.format = f
}

func (c *StdConverter) SetOutDataType(t codec.DataType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataType = t
}

func (c *StdConverter) SetResizeInterpolation(m codec.InterpolationMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interp = m
}

// Convert resizes src into the configured output size, releasing src.
// Anything but PixelFormatRGBA/DataTypePacked8 is rejected: those are the
// only formats this stdlib default (and every frame internal/reisenx
// produces) speaks; a real colorspace-converting library would replace
// this type wholesale rather than extend it.
func (c *StdConverter) Convert(src media.FrameHandle, timestamp int64) (media.FrameHandle, error) {
	raw, ok := src.(media.RawPixelHandle)
	if !ok {
		return nil, fmt.Errorf("postproc: StdConverter needs a media.RawPixelHandle, got %T", src)
	}
	defer raw.Release()

	if raw.Layout() != media.RawLayoutRGBA {
		return nil, fmt.Errorf("postproc: StdConverter only supports RawLayoutRGBA, got %v", raw.Layout())
	}

	c.mu.Lock()
	format, dataType, interp, outW, outH := c.format, c.dataType, c.interp, c.outW, c.outH
	c.mu.Unlock()

	if format != codec.PixelFormatUnknown && format != codec.PixelFormatRGBA {
		return nil, fmt.Errorf("postproc: StdConverter only supports PixelFormatRGBA, got %v", format)
	}
	if dataType != codec.DataTypeUnknown && dataType != codec.DataTypePacked8 {
		return nil, fmt.Errorf("postproc: StdConverter only supports DataTypePacked8, got %v", dataType)
	}

	if outW <= 0 {
		outW = raw.Width()
	}
	if outH <= 0 {
		outH = raw.Height()
	}

	var out []byte
	if outW == raw.Width() && outH == raw.Height() && raw.Stride() == raw.Width()*4 {
		out = append([]byte(nil), raw.Pix()...)
	} else if interp == codec.InterpolationBilinear {
		out = resizeBilinear(raw.Pix(), raw.Stride(), raw.Width(), raw.Height(), outW, outH)
	} else {
		out = resizeNearest(raw.Pix(), raw.Stride(), raw.Width(), raw.Height(), outW, outH)
	}

	return newRawHandle(media.KindMatrix, outW, outH, out), nil
}
