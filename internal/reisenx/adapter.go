package reisenx

import "github.com/zsiec/mediacore/media"

// Adapter bundles the pieces every reisenx-backed reader needs: the open
// container, a DemuxSource, and a CodecContext sharing it. Readers
// (videoreader, snapshot, imageseq) each own one Adapter per decode
// session; imageseq owns a pool of them, one per file worker.
type Adapter struct {
	Container *Container
	Demux     *DemuxSource
	Codec     *CodecContext
}

// OpenAdapter opens filename and wires a DemuxSource/CodecContext pair over
// it. The caller must call Container.OpenDecode before reading packets and
// Container.Close (via Adapter.Close) when done.
func OpenAdapter(filename string) (*Adapter, error) {
	c, err := Open(filename)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		Container: c,
		Demux:     NewDemuxSource(c),
		Codec:     NewCodecContext(c),
	}, nil
}

// TimeCodec returns the PTS<->MTS conversion pair for this adapter's
// container, anchored at stream start (PTS 0, since reisen's
// PresentationOffset is already relative to the stream's own start).
func (a *Adapter) TimeCodec() media.TimeCodec {
	return media.TimeCodec{Base: a.Container.TimeBase(), Start: 0}
}

// Close releases the codec context's queued frames and the container.
func (a *Adapter) Close() error {
	a.Codec.FlushBuffers()
	if err := a.Container.CloseDecode(); err != nil {
		a.Container.Close()
		return err
	}
	return a.Container.Close()
}
