package reisenx

import (
	"fmt"
	"io"
	"time"

	"github.com/erparts/reisen"

	"github.com/zsiec/mediacore/internal/codec"
)

// DemuxSource adapts a Container to internal/codec.DemuxSource. Every
// ReadPacket call runs reisen's combined read-packet/decode-frame loop
// (see package doc) and returns a codec.Packet carrying the already
// decoded *reisen.VideoFrame in its Native field; this is the only type in
// the pipeline that ever calls into reisen directly, so no locking is
// needed between it and the CodecContext built over the same Container
// (CodecContext never touches reisen — see decode.go).
type DemuxSource struct {
	c          *Container
	streamIdx  int
	currentPTS int64
	havePTS    bool
}

// NewDemuxSource creates a DemuxSource reading c's selected video stream.
func NewDemuxSource(c *Container) *DemuxSource {
	return &DemuxSource{c: c, streamIdx: c.StreamIndex()}
}

// SeekTo repositions the stream via reisen's Rewind, interpreting
// targetPTS as nanoseconds per Container.TimeBase.
func (s *DemuxSource) SeekTo(targetPTS int64) error {
	if err := s.c.stream.Rewind(time.Duration(targetPTS)); err != nil {
		return fmt.Errorf("reisenx: seek to %d: %w", targetPTS, err)
	}
	s.havePTS = false
	return nil
}

// ReadPacket reads and decodes the next video frame for the selected
// stream, skipping packets belonging to other streams and reisen's
// occasional decode-skip (frame found but nil). Returns io.EOF once
// reisen reports the container exhausted.
func (s *DemuxSource) ReadPacket() (codec.Packet, error) {
	for {
		p, found, err := s.c.media.ReadPacket()
		if err != nil {
			return codec.Packet{}, fmt.Errorf("reisenx: ReadPacket: %w", err)
		}
		if !found {
			return codec.Packet{}, io.EOF
		}
		if p.Type() != reisen.StreamVideo || p.StreamIndex() != s.streamIdx {
			continue
		}

		frame, _, err := s.c.stream.ReadVideoFrame()
		if err != nil {
			return codec.Packet{}, fmt.Errorf("reisenx: ReadVideoFrame: %w", err)
		}
		if frame == nil {
			// a frame skip: reisen consumed the packet without producing a
			// displayable frame (player.go's internalReadVideoFrame treats
			// this the same way — loop to the next packet).
			continue
		}

		pts := int64(frame.PresentationOffset())
		s.currentPTS = pts
		s.havePTS = true
		return codec.Packet{
			StreamIndex: s.streamIdx,
			PTS:         pts,
			Native:      frame,
		}, nil
	}
}

// CurrentPTS reports the PTS of the last frame this source produced.
func (s *DemuxSource) CurrentPTS() (int64, bool) {
	return s.currentPTS, s.havePTS
}
