package media

import "sync/atomic"

// Buffer sizes for the packet/frame queues shared by every pipeline
// (demuxer -> decoder -> post-processor). Sized generously relative to a
// single GOP so a worker stalls on backpressure rather than allocating
// without bound; see internal/worker for the polling loop that blocks on
// these being full or empty.
const (
	PacketQueueSize  = 256
	DecodedQueueSize = 64
	FinishedListSize = 128
)

// FrameKind identifies which payload a Frame currently holds. The payload
// transitions monotonically Hardware -> Software -> Matrix as the
// post-processor does its work; FrameKind's integer order matches that
// direction so callers can compare kinds with plain <.
type FrameKind uint8

const (
	KindNone FrameKind = iota
	KindHardware
	KindSoftware
	KindMatrix
)

// FrameHandle is an opaque decoded-frame payload. Concrete implementations
// are supplied by internal/codec adapters (a hardware frame still resident
// on a device, a software frame in normal memory, or a converted image
// matrix). Frame never interprets the payload itself — it only enforces
// that transitions move forward through FrameKind and that only one goroutine
// touches the payload at a time.
type FrameHandle interface {
	Kind() FrameKind
	Release()
}

// FrameContext is implemented by whatever decode context produced a Frame.
// A Frame holds a strong reference to its context so the post-processor can
// reach it to request a hardware-to-software transfer; the context must
// never hold a strong reference back to the Frame, or the two would keep
// each other alive forever. Frame.Close calls Forget exactly once, letting
// the context drop whatever bookkeeping (e.g. a raw pointer in a candidate
// map) it was keeping for this frame — this is how the cyclic-ownership
// problem described for Frame<->DecodeContext is broken without weak
// pointers.
type FrameContext interface {
	TransferToSoftware(h FrameHandle) (FrameHandle, error)
	Forget(f *Frame)
}

// Frame is the post-decode unit delivered to clients: a specific timestamp
// identity plus a payload that (possibly) hasn't finished its HW->SW->matrix
// pipeline yet. Frame is reference-counted because it is shared between the
// task's finished-frame list and any client that received a handle to it.
type Frame struct {
	PTS         int64
	PosMS       int64
	DurationPTS int64

	IsStartFrame bool
	IsEOFFrame   bool

	decodeStarted atomic.Bool
	decodeFailed  atomic.Bool
	discarded     atomic.Bool

	// inUse is the frame_ptr_in_use spin-flag: set while a goroutine is
	// actively reading or replacing the payload, so a concurrent
	// HW->SW transfer and a client read can never observe a half-written
	// payload without adding a second mutex to the hot read path.
	inUse atomic.Bool

	payload FrameHandle
	ctx     FrameContext

	refs int32 // guarded by atomic ops only; see Retain/Close
}

// NewFrame constructs a Frame identity. The payload is attached later via
// SetPayload as the pipeline produces it.
func NewFrame(pts, posMS, durationPTS int64) *Frame {
	return &Frame{PTS: pts, PosMS: posMS, DurationPTS: durationPTS, refs: 1}
}

// DecodeStarted reports whether decoding for this frame has begun.
func (f *Frame) DecodeStarted() bool { return f.decodeStarted.Load() }

// MarkDecodeStarted flips DecodeStarted to true. Monotonic: never reset.
func (f *Frame) MarkDecodeStarted() { f.decodeStarted.Store(true) }

// DecodeFailed reports whether decoding this frame failed unrecoverably.
func (f *Frame) DecodeFailed() bool { return f.decodeFailed.Load() }

// MarkDecodeFailed flips DecodeFailed to true. Monotonic: never reset.
func (f *Frame) MarkDecodeFailed() { f.decodeFailed.Store(true) }

// Discarded reports whether the post-processor evicted this frame from the
// cache range.
func (f *Frame) Discarded() bool { return f.discarded.Load() }

// MarkDiscarded flips Discarded to true. Monotonic: never reset.
func (f *Frame) MarkDiscarded() { f.discarded.Store(true) }

// SetContext attaches the decode context that produced this frame. Called
// once by the decoder worker immediately after construction.
func (f *Frame) SetContext(ctx FrameContext) {
	f.lock()
	f.ctx = ctx
	f.unlock()
}

// SetPayload installs a new payload, enforcing the monotonic
// hardware->software->matrix transition. Installing a payload whose Kind is
// not strictly greater than the current one is a no-op rather than a panic:
// a duplicate/late transfer racing a cancel is a normal occurrence, not a
// programming error.
func (f *Frame) SetPayload(h FrameHandle) {
	f.lock()
	defer f.unlock()
	if f.payload != nil && h.Kind() <= f.payload.Kind() {
		return
	}
	old := f.payload
	f.payload = h
	if old != nil {
		old.Release()
	}
}

// TransferToSoftware asks this frame's decode context to copy its hardware
// payload into software memory and installs the result. A no-op if the
// frame has no context attached or its current payload isn't Kind hardware
// (already transferred, or never was), so calling it on a software-decoded
// frame is harmless.
func (f *Frame) TransferToSoftware() error {
	f.lock()
	payload, ctx := f.payload, f.ctx
	if payload == nil || payload.Kind() != KindHardware || ctx == nil {
		f.unlock()
		return nil
	}
	// Detach before calling out to ctx, which owns payload for the duration
	// of the call and releases it whether the transfer succeeds or fails:
	// SetPayload below must never see a stale "old" reference to release a
	// second time.
	f.payload = nil
	f.unlock()

	sw, err := ctx.TransferToSoftware(payload)
	if err != nil {
		return err
	}
	f.SetPayload(sw)
	return nil
}

// TakePayload detaches and returns the current payload and its kind,
// clearing the frame's own reference without releasing it: ownership
// passes to the caller, who must eventually reinstall a replacement via
// SetPayload or release the handle itself. The post-processor uses this to
// run a payload through a transform (rotation) that stays within the same
// FrameKind tier as what's currently installed, which SetPayload's
// monotonic guard would otherwise refuse to replace.
func (f *Frame) TakePayload() (FrameHandle, FrameKind) {
	f.lock()
	defer f.unlock()
	h := f.payload
	f.payload = nil
	if h == nil {
		return nil, KindNone
	}
	return h, h.Kind()
}

// Payload returns the current payload and its kind.
func (f *Frame) Payload() (FrameHandle, FrameKind) {
	f.lock()
	defer f.unlock()
	if f.payload == nil {
		return nil, KindNone
	}
	return f.payload, f.payload.Kind()
}

// lock/unlock implement the frame_ptr_in_use spin-loop: a compare-and-swap
// spin rather than a mutex, since payload swaps are rare and quick and this
// sits on the hot read path for every client frame access.
func (f *Frame) lock() {
	for !f.inUse.CompareAndSwap(false, true) {
	}
}

func (f *Frame) unlock() { f.inUse.Store(false) }

// Retain increments the reference count. Call before handing a *Frame to a
// second owner (a client, a second task bucket during a redo).
func (f *Frame) Retain() { atomic.AddInt32(&f.refs, 1) }

// Close decrements the reference count. Once it reaches zero, the payload
// is released and the owning decode context (if any) is told to forget this
// frame, breaking the Frame<->FrameContext cycle.
func (f *Frame) Close() {
	if atomic.AddInt32(&f.refs, -1) > 0 {
		return
	}
	f.lock()
	payload := f.payload
	f.payload = nil
	ctx := f.ctx
	f.ctx = nil
	f.unlock()
	if payload != nil {
		payload.Release()
	}
	if ctx != nil {
		ctx.Forget(f)
	}
}

// Contains reports whether pts falls within this frame's presentation
// interval [PTS, PTS+DurationPTS).
func (f *Frame) Contains(pts int64) bool {
	return pts >= f.PTS && pts < f.PTS+f.DurationPTS
}
