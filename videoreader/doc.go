// Package videoreader implements the VideoReader public interface (spec
// §4.5): open a seekable container and serve PTS-addressed frame reads
// over a demuxer/decoder/post-processor pipeline running as three polling
// worker goroutines plus a fourth that keeps the Task Scheduler's cache
// window in sync with the reader's current position and direction.
//
// Open wires a real github.com/erparts/reisen-backed container
// (internal/reisenx); newReader itself takes the internal/codec boundary
// interfaces directly, so tests can drive the whole pipeline against fakes
// the same way internal/demuxer, internal/decoder, and internal/postproc
// already do.
package videoreader
