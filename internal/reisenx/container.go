package reisenx

import (
	"fmt"
	"sync"

	"github.com/erparts/reisen"

	"github.com/zsiec/mediacore/media"
)

// Container opens a media file with reisen and exposes the single video
// stream this module's readers address. Audio streams, if present, are
// left untouched — out of scope per spec §1.
type Container struct {
	mu     sync.Mutex
	media  *reisen.Media
	stream *reisen.VideoStream

	width, height int
	frNum, frDen  int32
}

// Open opens filename and selects its first video stream, matching
// player.go's newPlayer: a multi-video-stream container is accepted with
// the first stream chosen, since picking among them is a parser-layer
// concern this module doesn't own.
func Open(filename string) (*Container, error) {
	m, err := reisen.NewMedia(filename)
	if err != nil {
		return nil, fmt.Errorf("reisenx: open %q: %w", filename, err)
	}
	streams := m.VideoStreams()
	if len(streams) == 0 {
		return nil, ErrNoVideoStream
	}
	stream := streams[0]
	num, den := stream.FrameRate()
	return &Container{
		media:  m,
		stream: stream,
		width:  stream.Width(),
		height: stream.Height(),
		frNum:  num,
		frDen:  den,
	}, nil
}

// OpenDecode starts decode for the container's media and selected stream,
// mirroring controller_no_audio.go's Play: media.OpenDecode then
// stream.Open, in that order.
func (c *Container) OpenDecode() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.media.OpenDecode(); err != nil {
		return fmt.Errorf("reisenx: OpenDecode: %w", err)
	}
	if err := c.stream.Open(); err != nil {
		return fmt.Errorf("reisenx: stream.Open: %w", err)
	}
	return nil
}

// CloseDecode releases the decode session, allowing OpenDecode to be
// called again (used by imageseq's idle-worker watchdog and by a reader's
// Stop/Close path).
func (c *Container) CloseDecode() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media.CloseDecode()
}

// Close releases the container entirely.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media.Close()
}

// Width and Height report the stream's native decoded frame size.
func (c *Container) Width() int  { return c.width }
func (c *Container) Height() int { return c.height }

// FrameRate returns the stream's nominal frame rate as a ratio.
func (c *Container) FrameRate() (num, den int32) { return c.frNum, c.frDen }

// Duration reports the stream's total duration, converted to the
// nanosecond PTS domain via TimeBase.
func (c *Container) Duration() (int64, error) {
	d, err := c.stream.Duration()
	if err != nil {
		return 0, fmt.Errorf("reisenx: Duration: %w", err)
	}
	return int64(d), nil
}

// TimeBase is the PTS tick domain every reisenx adapter uses: nanoseconds,
// since reisen only ever exposes time.Duration presentation offsets (see
// package doc).
func (c *Container) TimeBase() media.TimeBase { return media.TimeBase{Num: 1, Den: 1_000_000_000} }

// StreamIndex is the index demuxed packets for this container's video
// stream carry (codec.Packet.StreamIndex, codec.DemuxSource's contract).
func (c *Container) StreamIndex() int { return c.stream.Index() }
