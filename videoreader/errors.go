package videoreader

import (
	"errors"
	"fmt"
)

// Sentinel errors for the reader's lifecycle, grouped here the way
// internal/moq/errors.go groups its transport errors and player.go
// (erparts-go-avebi) groups its ErrNoVideo/ErrNilAudioContext block.
var (
	// ErrNotStarted is returned by any read operation called before Start.
	ErrNotStarted = errors.New("videoreader: reader not started")
	// ErrAlreadyStarted is returned by a second Start call without an
	// intervening Stop.
	ErrAlreadyStarted = errors.New("videoreader: reader already started")
	// ErrClosed is returned by any operation on a Reader after Close.
	ErrClosed = errors.New("videoreader: reader closed")
	// ErrHWAccelAfterStart is returned by EnableHWAccel once the reader
	// has been started: the decoder's conditional mutex (internal/codec's
	// ContextLock) is picked once at Start and shared with the
	// post-processor, so flipping hardware mode afterward would leave the
	// two workers disagreeing about whether a lock is in effect.
	ErrHWAccelAfterStart = errors.New("videoreader: EnableHWAccel must be called before Start")
)

// ParseError reports a structural failure validating Options or the
// parser-supplied inputs (seek points, media info) a Reader is opened
// with, mirroring internal/moq.ParseError's Field/Err/Unwrap shape.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("videoreader: invalid %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
