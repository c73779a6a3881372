// Package media defines the frame and timestamp types that flow through the
// mediacore decode-ahead pipelines: demuxed packets in, cached VideoFrames
// out, addressed by presentation timestamp.
package media
