// Package synthetic generates deterministic, in-memory audio/video/
// subtitle fixtures with known PTS sequences, for driving the
// sync-correction and end-to-end scenario tests elsewhere in this module
// without depending on a real container or codec library. It plays the
// role the teacher's test/tools/gen-streams plays for its own suite:
// a single, reproducible generator every test can build fixtures from,
// rather than each test hand-rolling byte slices.
package synthetic

import (
	"fmt"
	"io"
	"time"

	"github.com/arvetica/avcore/codec"
)

// PacketSpec describes one packet a synthetic demuxer should emit.
type PacketSpec struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Data        []byte
}

// Demuxer emits a fixed, caller-supplied sequence of packets across one
// or more synthetic streams, then io.EOF. Useful for constructing exact
// reproductions of the scenarios in spec.md §8 (e.g. "audio packet N
// arrives 120ms ahead of the presentation clock").
type Demuxer struct {
	streams  []codec.StreamInfo
	packets  []PacketSpec
	timebase time.Duration
	pos      int
}

// NewDemuxer builds a synthetic container with the given stream table and
// packet sequence. timebase is shared by every emitted packet (real
// containers may vary this per-stream; tests needing that can run
// multiple Demuxers behind separate demux.Worker routes instead).
func NewDemuxer(streams []codec.StreamInfo, packets []PacketSpec, timebase time.Duration) *Demuxer {
	return &Demuxer{streams: streams, packets: packets, timebase: timebase}
}

// StreamCount returns the number of declared synthetic streams.
func (d *Demuxer) StreamCount() int { return len(d.streams) }

// Stream returns the declared stream metadata at index.
func (d *Demuxer) Stream(index int) (codec.StreamInfo, error) {
	if index < 0 || index >= len(d.streams) {
		return codec.StreamInfo{}, fmt.Errorf("synthetic: stream index %d out of range", index)
	}
	return d.streams[index], nil
}

// ReadPacket returns the next packet in the fixed sequence, or io.EOF once
// exhausted.
func (d *Demuxer) ReadPacket() (codec.Packet, error) {
	if d.pos >= len(d.packets) {
		return codec.Packet{}, io.EOF
	}
	p := d.packets[d.pos]
	d.pos++
	return codec.Packet{
		StreamIndex: p.StreamIndex,
		Data:        p.Data,
		PTS:         p.PTS,
		DTS:         p.DTS,
		Timebase:    d.timebase,
	}, nil
}

// Close is a no-op: Demuxer holds no resources beyond its fixture slices.
func (d *Demuxer) Close() error { return nil }

// PassthroughCodec is a codec.CodecContext that treats every SendPacket's
// bytes as an already-decoded frame, one frame per packet — the decode
// math is irrelevant to the tests this package serves; only the PTS
// plumbing and queue/sync behavior are under test.
type PassthroughCodec struct {
	NameStr      string
	Rate         int
	ChannelCount int
	pending      *codec.Frame
}

// Name returns the codec's configured display name.
func (c *PassthroughCodec) Name() string { return c.NameStr }

// SampleRate returns the configured source sample rate.
func (c *PassthroughCodec) SampleRate() int { return c.Rate }

// Channels returns the configured source channel count.
func (c *PassthroughCodec) Channels() int { return c.ChannelCount }

// SendPacket stores data as the next frame to be returned by
// ReceiveFrame. An empty packet (end-of-stream flush) clears any pending
// frame without producing one.
func (c *PassthroughCodec) SendPacket(data []byte) error {
	if len(data) == 0 {
		c.pending = nil
		return nil
	}
	c.pending = &codec.Frame{Planes: [][]byte{data}, NumSamples: len(data)}
	return nil
}

// ReceiveFrame returns the frame queued by the most recent SendPacket, or
// io.EOF if none is pending.
func (c *PassthroughCodec) ReceiveFrame() (codec.Frame, error) {
	if c.pending == nil {
		return codec.Frame{}, io.EOF
	}
	f := *c.pending
	c.pending = nil
	return f, nil
}

// Close is a no-op.
func (c *PassthroughCodec) Close() error { return nil }

// IdentitySampleConverter returns its input frame's sole plane unchanged,
// ignoring every rate/channel/format argument — deterministic fixture
// data in, identical bytes out.
type IdentitySampleConverter struct{}

// Convert returns the frame's first plane verbatim.
func (IdentitySampleConverter) Convert(src codec.Frame, _, _, _, _ int, _ codec.SampleFormat) ([]byte, error) {
	if len(src.Planes) == 0 {
		return nil, nil
	}
	return src.Planes[0], nil
}

// IdentityPixelConverter returns its input frame's sole plane unchanged
// and always selects PixelYV12, matching the fixed dimensions tests
// configure their synthetic video streams with.
type IdentityPixelConverter struct{}

// Convert returns the frame's first plane verbatim.
func (IdentityPixelConverter) Convert(src codec.Frame, _ codec.PixelFormat, _, _ int) ([]byte, error) {
	if len(src.Planes) == 0 {
		return nil, nil
	}
	return src.Planes[0], nil
}

// ChooseFormat always selects PixelYV12, regardless of sourceDescription.
func (IdentityPixelConverter) ChooseFormat(string) codec.PixelFormat { return codec.PixelYV12 }
