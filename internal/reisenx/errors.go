package reisenx

import "errors"

// ErrNoVideoStream is returned by Open when the container has no video
// stream, mirroring erparts-go-avebi/player.go's ErrNoVideo.
var ErrNoVideoStream = errors.New("reisenx: container has no video stream")

// ErrNotOpen reports a decode-surface call made before OpenDecode. No
// function in this package returns it.
var ErrNotOpen = errors.New("reisenx: decode not open")

// ErrStreamIndex reports a stream index the container doesn't have. No
// function in this package returns it: NewDemuxSource and NewCodecContext
// take no stream index and do no validation.
var ErrStreamIndex = errors.New("reisenx: stream index out of range")
