package codec

import "github.com/zsiec/mediacore/media"

// GenericHandle is a media.FrameHandle backed by an opaque release
// callback, used by adapters (internal/reisenx) and the post-processor's
// stdlib-based converter so they don't each need their own FrameHandle
// type for every payload stage.
type GenericHandle struct {
	kind    media.FrameKind
	onFree  func()
	freed   bool
	payload any // the adapter's underlying native frame/image, opaque here
}

// NewHandle wraps payload at the given kind. onFree, if non-nil, is called
// exactly once when Release is called.
func NewHandle(kind media.FrameKind, payload any, onFree func()) *GenericHandle {
	return &GenericHandle{kind: kind, payload: payload, onFree: onFree}
}

func (h *GenericHandle) Kind() media.FrameKind { return h.kind }

func (h *GenericHandle) Payload() any { return h.payload }

func (h *GenericHandle) Release() {
	if h.freed {
		return
	}
	h.freed = true
	if h.onFree != nil {
		h.onFree()
	}
}
