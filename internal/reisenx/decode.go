package reisenx

import (
	"context"
	"io"
	"sync"

	"github.com/erparts/reisen"

	"github.com/zsiec/mediacore/internal/codec"
)

// CodecContext adapts a Container to internal/codec.CodecContext. Because
// reisen's DemuxSource already decoded every frame it hands out (package
// doc), this is a thin one-slot pass-through rather than a real second
// decode step: SendPacket unwraps the *reisen.VideoFrame a DemuxSource
// stashed on codec.Packet.Native and queues a ready codec.Frame;
// ReceiveFrame just drains that queue. No reisen call happens here, so
// CodecContext needs no lock shared with DemuxSource — internal/decoder
// and internal/demuxer each only ever touch their own half.
type CodecContext struct {
	c             *Container
	width, height int

	mu         sync.Mutex
	pending    []codec.Frame
	eofPending bool
}

// NewCodecContext creates a CodecContext sized to c's selected stream.
func NewCodecContext(c *Container) *CodecContext {
	return &CodecContext{c: c, width: c.Width(), height: c.Height()}
}

// SendPacket unwraps p.Native (set by DemuxSource.ReadPacket) into a ready
// frame, or, for a null/flush packet, marks the pending queue as draining
// so the next empty ReceiveFrame reports EOF instead of ErrAgain — the Go
// expression of spec §4.3's "send a single null packet... to drain
// preserved frames at a GOP boundary" for a library with no real internal
// frame buffering to drain.
func (c *CodecContext) SendPacket(_ context.Context, p codec.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Null {
		c.eofPending = true
		return nil
	}
	frame, ok := p.Native.(*reisen.VideoFrame)
	if !ok || frame == nil {
		return nil
	}
	c.pending = append(c.pending, codec.Frame{
		PTS:    p.PTS,
		Handle: newSoftwareFrame(c.width, c.height, frame.Data()),
	})
	return nil
}

// ReceiveFrame pops the next ready frame, codec.ErrAgain if none is ready
// yet but more packets are still expected, or io.EOF once a null packet
// has been sent and the queue has drained.
func (c *CodecContext) ReceiveFrame(_ context.Context) (codec.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) > 0 {
		f := c.pending[0]
		c.pending = c.pending[1:]
		return f, nil
	}
	if c.eofPending {
		return codec.Frame{}, io.EOF
	}
	return codec.Frame{}, codec.ErrAgain
}

// FlushBuffers discards any queued frame and clears the drain flag,
// matching avcodec_flush_buffers' reset-on-seek/task-switch semantics.
func (c *CodecContext) FlushBuffers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.eofPending = false
}

// GetFormat returns hwFormat when hardware acceleration is enabled;
// otherwise it returns the first listed format, or 0 when formats is empty.
func (c *CodecContext) GetFormat(formats []codec.PixelFormat, hwAccelEnabled bool, hwFormat codec.PixelFormat) codec.PixelFormat {
	if hwAccelEnabled {
		return hwFormat
	}
	if len(formats) > 0 {
		return formats[0]
	}
	return 0
}
