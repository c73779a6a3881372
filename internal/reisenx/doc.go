// Package reisenx adapts github.com/erparts/reisen to the internal/codec
// boundary interfaces (DemuxSource, CodecContext) this module assumes but
// does not implement (spec §6). It is the one concrete codec adapter the
// module ships, grounded on the read/decode loop in
// erparts-go-avebi's controller_no_audio.go and player.go.
//
// reisen does not expose the send_packet/receive_frame split spec §6
// describes, nor a raw integer PTS accessor on packets: Media.ReadPacket
// identifies which stream a packet belongs to, and decoding a video frame
// is a second, separate call (VideoStream.ReadVideoFrame) that happens to
// already return a fully decoded RGBA frame with its presentation time as
// a time.Duration. Demux and decode are effectively one step in this
// library. This package bridges that mismatch rather than hides it:
// DemuxSource.ReadPacket does reisen's combined packet-read-then-frame-
// decode loop and stashes the already-decoded *reisen.VideoFrame on
// codec.Packet's Native field (a field this module's own boundary type
// carries for exactly this purpose — see internal/codec.Packet);
// CodecContext.SendPacket/ReceiveFrame then becomes a thin one-entry
// pass-through instead of driving a real second decode step.
//
// PTS ticks are nanoseconds (time.Duration's unit), since reisen never
// hands back a codec-native integer timestamp: media.TimeBase{Num: 1,
// Den: 1e9} is the time base every reisenx-backed reader uses.
package reisenx
