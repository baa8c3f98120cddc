// Package refaudio provides reference codec.ContainerDemuxer/CodecContext
// pairs backed by real third-party decode libraries, for hosts that want a
// working audio path without writing their own adapter. MP3, WAV, FLAC, and
// Ogg Vorbis decode libraries in the Go ecosystem expose a whole-stream
// io.Reader of PCM rather than a packet-level send/receive API, so each
// adapter here does the decode work inside ReadPacket and pairs it with
// pcmPassthrough, a CodecContext that only ever echoes back the PCM bytes
// it was handed.
package refaudio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"

	wavdec "github.com/go-audio/wav"

	"github.com/arvetica/avcore/codec"
)

// pullChunkSamples bounds how many sample-frames a single ReadPacket call
// decodes at once, for the formats (MP3, WAV, Ogg Vorbis) whose underlying
// library streams raw PCM rather than handing back one frame at a time.
const pullChunkSamples = 4096

// pcmPassthrough is a codec.CodecContext that treats SendPacket's bytes as
// already-decoded interleaved 16-bit PCM and hands them back verbatim on
// the next ReceiveFrame — the decode math already ran inside the paired
// demuxer's ReadPacket.
type pcmPassthrough struct {
	name     string
	rate     int
	channels int
	pending  *codec.Frame
}

func (c *pcmPassthrough) Name() string    { return c.name }
func (c *pcmPassthrough) SampleRate() int { return c.rate }
func (c *pcmPassthrough) Channels() int   { return c.channels }
func (c *pcmPassthrough) Close() error    { return nil }

func (c *pcmPassthrough) SendPacket(data []byte) error {
	if len(data) == 0 {
		c.pending = nil
		return nil
	}
	frameBytes := 2 * c.channels
	numSamples := 0
	if frameBytes > 0 {
		numSamples = len(data) / frameBytes
	}
	c.pending = &codec.Frame{Planes: [][]byte{data}, NumSamples: numSamples}
	return nil
}

func (c *pcmPassthrough) ReceiveFrame() (codec.Frame, error) {
	if c.pending == nil {
		return codec.Frame{}, io.EOF
	}
	f := *c.pending
	c.pending = nil
	return f, nil
}

// clampS16 saturates an int sample to the 16-bit signed range.
func clampS16(sample int) int16 {
	if sample > 32767 {
		return 32767
	}
	if sample < -32768 {
		return -32768
	}
	return int16(sample)
}

// --- MP3 ---

// mp3Demuxer wraps a go-mp3.Decoder, which always decodes to 16-bit stereo
// PCM regardless of the source's channel layout.
type mp3Demuxer struct {
	dec     *mp3.Decoder
	samples int64 // cumulative samples delivered, for PTS
}

// OpenMP3 opens f as an MP3 stream, returning a ContainerDemuxer that
// decodes it to 16-bit stereo PCM packets and the pcmPassthrough
// CodecContext that pairs with it.
func OpenMP3(f *os.File) (codec.ContainerDemuxer, codec.CodecContext, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, nil, fmt.Errorf("refaudio: open mp3: %w", err)
	}
	d := &mp3Demuxer{dec: dec}
	cc := &pcmPassthrough{name: "mp3", rate: dec.SampleRate(), channels: 2}
	return d, cc, nil
}

func (d *mp3Demuxer) StreamCount() int { return 1 }

func (d *mp3Demuxer) Stream(index int) (codec.StreamInfo, error) {
	if index != 0 {
		return codec.StreamInfo{}, fmt.Errorf("refaudio: mp3 has no stream %d", index)
	}
	return codec.StreamInfo{Index: 0, Kind: codec.KindAudio, CodecName: "mp3"}, nil
}

func (d *mp3Demuxer) ReadPacket() (codec.Packet, error) {
	buf := make([]byte, pullChunkSamples*4) // 16-bit stereo frames
	n, err := d.dec.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return codec.Packet{}, err
	}
	buf = buf[:n]
	pts := d.samples
	d.samples += int64(n / 4)
	return codec.Packet{
		StreamIndex: 0,
		Data:        buf,
		PTS:         pts,
		DTS:         pts,
		Timebase:    timebaseFor(d.dec.SampleRate()),
	}, nil
}

func (d *mp3Demuxer) Close() error { return nil }

// --- WAV ---

type wavDemuxer struct {
	file        *os.File
	channels    int
	bitDepth    int
	samples     int64
	sampleRate  int
}

// OpenWAV opens f as a WAV stream, decoding to 16-bit PCM at the source's
// native sample rate and channel count.
func OpenWAV(f *os.File) (codec.ContainerDemuxer, codec.CodecContext, error) {
	dec := wavdec.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, nil, fmt.Errorf("refaudio: invalid WAV file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, nil, fmt.Errorf("refaudio: seek to WAV PCM data: %w", err)
	}
	d := &wavDemuxer{
		file:       f,
		channels:   int(dec.NumChans),
		bitDepth:   int(dec.BitDepth),
		sampleRate: int(dec.SampleRate),
	}
	cc := &pcmPassthrough{name: "pcm", rate: d.sampleRate, channels: d.channels}
	return d, cc, nil
}

func (d *wavDemuxer) StreamCount() int { return 1 }

func (d *wavDemuxer) Stream(index int) (codec.StreamInfo, error) {
	if index != 0 {
		return codec.StreamInfo{}, fmt.Errorf("refaudio: wav has no stream %d", index)
	}
	return codec.StreamInfo{Index: 0, Kind: codec.KindAudio, CodecName: "pcm"}, nil
}

func (d *wavDemuxer) ReadPacket() (codec.Packet, error) {
	srcBytesPerSample := d.bitDepth / 8
	srcBytes := make([]byte, pullChunkSamples*d.channels*srcBytesPerSample)
	n, err := io.ReadFull(d.file, srcBytes)
	if n == 0 {
		if err != nil && err != io.EOF {
			return codec.Packet{}, err
		}
		return codec.Packet{}, io.EOF
	}
	frameBytes := d.channels * srcBytesPerSample
	frames := n / frameBytes
	if frames == 0 {
		return codec.Packet{}, io.EOF
	}

	out := make([]byte, frames*d.channels*2)
	for i := 0; i < frames*d.channels; i++ {
		off := i * srcBytesPerSample
		var sample int
		switch d.bitDepth {
		case 8:
			sample = (int(srcBytes[off]) - 128) << 8
		case 16:
			sample = int(int16(binary.LittleEndian.Uint16(srcBytes[off:])))
		case 24:
			s := int32(srcBytes[off]) | int32(srcBytes[off+1])<<8 | int32(srcBytes[off+2])<<16
			if s&0x800000 != 0 {
				s |= ^0xFFFFFF
			}
			sample = int(s >> 8)
		case 32:
			sample = int(int32(binary.LittleEndian.Uint32(srcBytes[off:])) >> 16)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampS16(sample)))
	}

	pts := d.samples
	d.samples += int64(frames)
	return codec.Packet{
		StreamIndex: 0,
		Data:        out,
		PTS:         pts,
		DTS:         pts,
		Timebase:    timebaseFor(d.sampleRate),
	}, nil
}

func (d *wavDemuxer) Close() error { return d.file.Close() }

// --- FLAC ---

type flacDemuxer struct {
	stream     *flac.Stream
	channels   int
	bps        int
	sampleRate int
	samples    int64
}

// OpenFLAC opens f as a FLAC stream. Each ReadPacket call decodes exactly
// one native FLAC frame, since the underlying library already hands back
// one frame at a time.
func OpenFLAC(f *os.File) (codec.ContainerDemuxer, codec.CodecContext, error) {
	stream, err := flac.NewSeek(f)
	if err != nil {
		return nil, nil, fmt.Errorf("refaudio: open flac: %w", err)
	}
	d := &flacDemuxer{
		stream:     stream,
		channels:   int(stream.Info.NChannels),
		bps:        int(stream.Info.BitsPerSample),
		sampleRate: int(stream.Info.SampleRate),
	}
	cc := &pcmPassthrough{name: "flac", rate: d.sampleRate, channels: d.channels}
	return d, cc, nil
}

func (d *flacDemuxer) StreamCount() int { return 1 }

func (d *flacDemuxer) Stream(index int) (codec.StreamInfo, error) {
	if index != 0 {
		return codec.StreamInfo{}, fmt.Errorf("refaudio: flac has no stream %d", index)
	}
	return codec.StreamInfo{Index: 0, Kind: codec.KindAudio, CodecName: "flac"}, nil
}

func (d *flacDemuxer) ReadPacket() (codec.Packet, error) {
	frame, err := d.stream.ParseNext()
	if err != nil {
		return codec.Packet{}, err
	}

	nSamples := int(frame.Subframes[0].NSamples)
	raw := make([]byte, nSamples*d.channels*2)
	for i := 0; i < nSamples; i++ {
		for ch := 0; ch < d.channels; ch++ {
			sample := int(frame.Subframes[ch].Samples[i])
			switch {
			case d.bps > 16:
				sample >>= (d.bps - 16)
			case d.bps < 16:
				sample <<= (16 - d.bps)
			}
			binary.LittleEndian.PutUint16(raw[(i*d.channels+ch)*2:], uint16(clampS16(sample)))
		}
	}

	pts := d.samples
	d.samples += int64(nSamples)
	return codec.Packet{
		StreamIndex: 0,
		Data:        raw,
		PTS:         pts,
		DTS:         pts,
		Timebase:    timebaseFor(d.sampleRate),
	}, nil
}

func (d *flacDemuxer) Close() error { return d.stream.Close() }

// --- Ogg Vorbis ---

type oggDemuxer struct {
	reader     *oggvorbis.Reader
	channels   int
	sampleRate int
	samples    int64
}

// OpenOggVorbis opens f as an Ogg Vorbis stream, decoding to 16-bit PCM.
func OpenOggVorbis(f *os.File) (codec.ContainerDemuxer, codec.CodecContext, error) {
	reader, err := oggvorbis.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("refaudio: open ogg vorbis: %w", err)
	}
	d := &oggDemuxer{
		reader:     reader,
		channels:   reader.Channels(),
		sampleRate: reader.SampleRate(),
	}
	cc := &pcmPassthrough{name: "vorbis", rate: d.sampleRate, channels: d.channels}
	return d, cc, nil
}

func (d *oggDemuxer) StreamCount() int { return 1 }

func (d *oggDemuxer) Stream(index int) (codec.StreamInfo, error) {
	if index != 0 {
		return codec.StreamInfo{}, fmt.Errorf("refaudio: ogg vorbis has no stream %d", index)
	}
	return codec.StreamInfo{Index: 0, Kind: codec.KindAudio, CodecName: "vorbis"}, nil
}

func (d *oggDemuxer) ReadPacket() (codec.Packet, error) {
	samples := make([]float32, pullChunkSamples*d.channels)
	n, err := d.reader.Read(samples)
	if n == 0 {
		if err != nil {
			return codec.Packet{}, err
		}
		return codec.Packet{}, io.EOF
	}
	samples = samples[:n]

	raw := make([]byte, n*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(int16(s*32767)))
	}

	frames := n / d.channels
	pts := d.samples
	d.samples += int64(frames)
	if err == io.EOF {
		err = nil
	}
	return codec.Packet{
		StreamIndex: 0,
		Data:        raw,
		PTS:         pts,
		DTS:         pts,
		Timebase:    timebaseFor(d.sampleRate),
	}, err
}

func (d *oggDemuxer) Close() error { return nil }

// timebaseFor returns the tick duration of one sample at rate, so a
// packet's PTS (a running sample count) converts to seconds the same way
// any other stream's does via codec.Packet.Seconds.
func timebaseFor(rate int) time.Duration {
	if rate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(rate)
}
