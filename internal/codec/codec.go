// Package codec defines the external-library boundary this module assumes
// but does not implement: a demuxer/decoder pair shaped like an FFmpeg
// binding (send_packet/receive_frame, flush_buffers, get_format), plus the
// pixel-conversion and rotation-filter primitives the post-processor drives.
// Per spec §6 these are all external collaborators; internal/reisenx
// supplies the one concrete adapter this module ships, built over the real
// github.com/erparts/reisen library.
package codec

import (
	"context"
	"errors"
	"sync"

	"github.com/zsiec/mediacore/media"
)

// ErrAgain is returned by CodecContext.ReceiveFrame when no frame is ready
// yet but the codec has not reached EOF — a transient condition a decoder
// worker retries on its next poll, never a failure (spec §7).
var ErrAgain = errors.New("codec: resource temporarily unavailable")

// PixelFormat mirrors a codec library's pixel-format enum (e.g. FFmpeg's
// AVPixelFormat) closely enough that GetFormat and a HardwareAccelManager
// can negotiate a shared hardware format.
type PixelFormat int32

// DataType identifies the sample layout of a converted output matrix
// (e.g. 8-bit packed RGBA vs. planar 16-bit).
type DataType int32

// InterpolationMode selects the resampling filter used when a
// PixelConverter resizes a frame.
type InterpolationMode int32

const (
	InterpolationNearest InterpolationMode = iota
	InterpolationBilinear
)

const (
	PixelFormatUnknown PixelFormat = iota
	// PixelFormatRGBA is the only format internal/reisenx's decoded frames
	// and internal/postproc's stdlib-backed PixelConverter speak: packed
	// 8-bit RGBA, row-major.
	PixelFormatRGBA
)

const (
	DataTypeUnknown DataType = iota
	// DataTypePacked8 is 8-bit-per-channel packed samples (the only data
	// type internal/postproc's stdlib-backed PixelConverter produces).
	DataTypePacked8
)

// Rational is a numerator/denominator pair, used for frame rates handed to
// a FilterGraph.
type Rational struct {
	Num int32
	Den int32
}

// Packet is one demuxed, still-encoded access unit for a single stream.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Data        []byte
	// Null marks a null/flush packet — the Go expression of FFmpeg's
	// avcodec_send_packet(ctx, nullptr) drain request, sent at a task
	// boundary to flush frames the codec is still holding (spec §4.3).
	Null bool
	// Native optionally carries an already-decoded payload from a
	// DemuxSource whose underlying library doesn't split demux from
	// decode (internal/reisenx: reisen couples packet-read with frame-
	// decode in one call). A CodecContext built over such a source reads
	// this field back in SendPacket instead of decoding Data itself; a
	// CodecContext built over a true demux/decode-split library ignores
	// it. Named Any rather than a concrete type because this module's own
	// boundary type is free to carry adapter-specific payloads across the
	// DemuxSource/CodecContext seam without widening the shared interfaces
	// themselves.
	Native any
}

// DemuxSource is the external demuxer's surface, as consumed by
// internal/demuxer. Out of scope for this module per spec §1; concrete
// instances are adapters (internal/reisenx) or test fakes.
type DemuxSource interface {
	// SeekTo repositions the read cursor so the next ReadPacket call
	// returns a packet at or before targetPTS, using targetPTS as both
	// the minimum and target position (spec §4.2).
	SeekTo(targetPTS int64) error
	// ReadPacket returns the next packet for any stream, or io.EOF once
	// the container is exhausted.
	ReadPacket() (Packet, error)
	// CurrentPTS reports the PTS the read cursor is logically positioned
	// at (ok is false before the first read), used to decide whether a
	// seek can be skipped because the cursor already satisfies the task
	// start (spec §4.2).
	CurrentPTS() (pts int64, ok bool)
}

// Frame is a decoded frame as handed up from CodecContext, before the
// post-processor has transferred, rotated, or converted it.
type Frame struct {
	PTS    int64
	Handle media.FrameHandle
	// Context, when non-nil, is the decode context that produced Handle —
	// set only for hardware-decoded frames, so the post-processor can ask
	// it to transfer the payload to software via media.FrameContext.
	Context media.FrameContext
}

// CodecContext is the external codec library's decode surface (spec §6): a
// blocking send_packet/receive_frame protocol with EAGAIN/EOF signalling,
// a flush for post-seek cleanup, and a get_format callback that can prefer
// a hardware pixel format.
type CodecContext interface {
	SendPacket(ctx context.Context, p Packet) error
	ReceiveFrame(ctx context.Context) (Frame, error)
	FlushBuffers()
	GetFormat(formats []PixelFormat, hwAccelEnabled bool, hwFormat PixelFormat) PixelFormat
}

// PixelConverter performs pixel-format/size/colorspace conversion into an
// output matrix (spec §6). The real conversion primitive is out of scope
// for this module; internal/postproc ships a stdlib-backed default.
type PixelConverter interface {
	SetOutSize(w, h int)
	SetOutColorFormat(f PixelFormat)
	SetOutDataType(t DataType)
	SetResizeInterpolation(m InterpolationMode)
	Convert(src media.FrameHandle, timestamp int64) (media.FrameHandle, error)
}

// FilterGraph applies a filter chain to a decoded frame — used here
// exclusively for display-matrix rotation (spec §4.4, §6).
type FilterGraph interface {
	Initialize(descriptor string, frameRate Rational, nativeKind PixelFormat) error
	SendFrame(f media.FrameHandle) error
	ReceiveFrame() (media.FrameHandle, error)
}

// HardwareAccelManager owns hardware device context creation and reference
// counting; out of scope for this module (spec §1). Consumers only need to
// know whether hardware acceleration is enabled and which pixel format it
// prefers.
type HardwareAccelManager interface {
	Enabled() bool
	PreferredFormat() PixelFormat
}

// NoHardwareAccel is a HardwareAccelManager that always reports software
// decoding, the default when a reader is opened without EnableHWAccel.
type NoHardwareAccel struct{}

func (NoHardwareAccel) Enabled() bool               { return false }
func (NoHardwareAccel) PreferredFormat() PixelFormat { return 0 }

// ContextLock is the conditional mutex from spec §5/§9: a real mutex when
// hardware acceleration is enabled, a no-op otherwise, so the common
// all-software path never pays for a critical section it doesn't need. The
// decoder and post-processor workers for one reader share a single
// ContextLock instance (built once via NewContextLock) because both touch
// the same codec context and hardware frame pool: the decoder while
// send/receive-ing packets, the post-processor while transferring a
// hardware frame to software.
type ContextLock interface {
	Lock()
	Unlock()
}

type noopContextLock struct{}

func (noopContextLock) Lock()   {}
func (noopContextLock) Unlock() {}

// NewContextLock picks ContextLock's concrete implementation once, at
// construction, rather than branching on hw.Enabled() inside every
// Lock/Unlock call (spec §9's "prefer two monomorphic code paths" note).
func NewContextLock(hw HardwareAccelManager) ContextLock {
	if hw != nil && hw.Enabled() {
		return &sync.Mutex{}
	}
	return noopContextLock{}
}
