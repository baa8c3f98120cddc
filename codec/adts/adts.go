// Package adts parses raw ADTS-framed AAC elementary streams (the
// container-free ".aac" file format) and adapts them to
// codec.ContainerDemuxer, so a bare AAC file can drive the same audio
// decoder worker path as any other source.
package adts

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/arvetica/avcore/codec"
)

// ErrInvalidADTS is returned when an ADTS header carries an out-of-range
// sampling-frequency index.
var ErrInvalidADTS = errors.New("adts: invalid header")

// Sample rate table indexed by the ADTS sampling_frequency_index field,
// per ISO/IEC 14496-3.
var sampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// Frame is a single AAC access unit parsed from an ADTS byte stream.
type Frame struct {
	Data       []byte // complete ADTS frame, header and payload
	SampleRate int
	Channels   int
}

// ParseFrames splits an ADTS byte stream into individual frames, skipping
// bytes until the next 0xFFF sync word. A header with an out-of-range
// sampling-frequency index stops parsing with ErrInvalidADTS and the frames
// parsed before it. A frame whose declared length is shorter than its
// header or runs past the end of data stops parsing without an error, so
// truncated trailing data is silently dropped.
func ParseFrames(data []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0

	for offset < len(data) {
		if len(data)-offset < 7 {
			break
		}

		if data[offset] != 0xFF || (data[offset+1]&0xF0) != 0xF0 {
			offset++
			continue
		}

		hasCRC := (data[offset+1] & 0x01) == 0
		headerSize := 7
		if hasCRC {
			headerSize = 9
		}

		sampleRateIdx := (data[offset+2] >> 2) & 0x0F
		if int(sampleRateIdx) >= len(sampleRates) {
			return frames, ErrInvalidADTS
		}

		channelCfg := ((data[offset+2] & 0x01) << 2) | ((data[offset+3] >> 6) & 0x03)

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)

		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}

		frames = append(frames, Frame{
			Data:       data[offset : offset+frameLen],
			SampleRate: sampleRates[sampleRateIdx],
			Channels:   int(channelCfg),
		})

		offset += frameLen
	}

	return frames, nil
}

// Demuxer adapts a parsed ADTS stream into a codec.ContainerDemuxer: every
// frame becomes one codec.Packet on stream index 0, timestamped by its
// ordinal position at the stream's sample rate (1024 samples/frame, the
// fixed AAC frame size).
type Demuxer struct {
	frames []Frame
	pos    int
	info   codec.StreamInfo
}

const samplesPerAACFrame = 1024

// Open parses data as an ADTS stream and prepares it for sequential
// reading via ReadPacket.
func Open(data []byte) (*Demuxer, error) {
	frames, err := ParseFrames(data)
	if err != nil {
		return nil, fmt.Errorf("adts: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("adts: no ADTS frames found")
	}
	return &Demuxer{
		frames: frames,
		info:   codec.StreamInfo{Index: 0, Kind: codec.KindAudio, CodecName: "aac"},
	}, nil
}

// StreamCount always returns 1.
func (d *Demuxer) StreamCount() int { return 1 }

// Stream returns the single audio stream's metadata.
func (d *Demuxer) Stream(index int) (codec.StreamInfo, error) {
	if index != 0 {
		return codec.StreamInfo{}, fmt.Errorf("adts: stream index %d out of range", index)
	}
	return d.info, nil
}

// ReadPacket returns the next AAC frame as a codec.Packet, or io.EOF once
// every parsed frame has been returned.
func (d *Demuxer) ReadPacket() (codec.Packet, error) {
	if d.pos >= len(d.frames) {
		return codec.Packet{}, io.EOF
	}
	f := d.frames[d.pos]
	ts := int64(d.pos) * samplesPerAACFrame
	d.pos++
	return codec.Packet{
		StreamIndex: 0,
		Data:        f.Data,
		PTS:         ts,
		DTS:         ts,
		Timebase:    time.Second / time.Duration(f.SampleRate),
	}, nil
}

// Close is a no-op: Demuxer holds no resources beyond its in-memory frame
// slice.
func (d *Demuxer) Close() error { return nil }
