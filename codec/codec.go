// Package codec defines the external-collaborator seams the pipeline core
// decodes through: container demuxing, codec-level decode, and
// pixel/sample conversion. None of the math behind these interfaces is
// implemented here — per the core's scope, that belongs to codec libraries
// and conversion routines supplied by the host application. Reference
// adapters backed by real third-party decoders live in codec/refaudio.
package codec

import "time"

// Packet is a single compressed access unit read from a container, tagged
// with the stream it belongs to and its decode/presentation timestamps in
// the stream's native timebase.
type Packet struct {
	StreamIndex int
	Data        []byte
	PTS         int64 // in Timebase units, best-effort (may equal DTS)
	DTS         int64
	Timebase    time.Duration // duration of one timebase tick, e.g. 1/90000s
}

// Seconds converts a PTS/DTS value expressed in the packet's timebase to
// seconds, matching the original "best-effort timestamp × stream timebase"
// computation every decoder specialization performs.
func (p Packet) Seconds(ts int64) float64 {
	return float64(ts) * p.Timebase.Seconds()
}

// StreamKind classifies an elementary stream within a container.
type StreamKind int

// Recognized stream kinds.
const (
	KindUnknown StreamKind = iota
	KindVideo
	KindAudio
	KindData
	KindSubtitle
	KindAttachment
)

// StreamInfo describes one elementary stream discovered in a container.
type StreamInfo struct {
	Index     int
	Kind      StreamKind
	CodecName string
}

// ContainerDemuxer is the external collaborator that knows how to parse a
// specific container format. The core only ever calls ReadPacket in a
// loop; all container-specific framing lives behind this interface.
type ContainerDemuxer interface {
	// StreamCount returns the number of elementary streams in the container.
	StreamCount() int
	// Stream returns metadata for the stream at index, or an error if the
	// index is out of range.
	Stream(index int) (StreamInfo, error)
	// ReadPacket returns the next compressed packet from any stream, or
	// io.EOF once the container is exhausted.
	ReadPacket() (Packet, error)
	// Close releases the underlying container resources.
	Close() error
}

// Frame is a single decoded, uncompressed access unit handed from a
// CodecContext to a decoder specialization for conversion.
type Frame struct {
	// Planes holds interleaved PCM samples for audio frames, one slice
	// per channel for planar formats, or raw plane data for video frames,
	// at the discretion of the CodecContext implementation and its paired
	// SampleConverter/PixelConverter.
	Planes     [][]byte
	NumSamples int  // audio: samples per channel in this frame
	Width      int  // video: frame width in the source format
	Height     int  // video: frame height in the source format
	KeyFrame   bool

	// StartDisplayTime and EndDisplayTime bound a subtitle frame's validity
	// window as milliseconds relative to its packet's PTS. They are zero
	// for audio/video frames. EndDisplayTime of NoEndDisplayTime means the
	// rect stays valid until the next subtitle event replaces it.
	StartDisplayTime uint32
	EndDisplayTime   uint32
}

// NoEndDisplayTime marks a subtitle Frame with no fixed expiry: it stays
// on screen until the next event arrives, mirroring the original's
// saturated (UINT_MAX) end_display_time convention.
const NoEndDisplayTime = ^uint32(0)

// CodecContext is the external collaborator wrapping one codec's decode
// state for a single stream. It follows the modern send-packet/
// receive-frame shape: a single SendPacket may unblock zero, one, or many
// ReceiveFrame calls, and end of stream is signaled by sending a nil
// packet's Data.
type CodecContext interface {
	// Name returns the codec's human-readable name, e.g. "aac", "h264".
	Name() string
	// SampleRate returns the source sample rate (audio) or 0 (video).
	SampleRate() int
	// Channels returns the source channel count (audio) or 0 (video).
	Channels() int
	// SendPacket submits compressed bytes for decoding. A nil/empty byte
	// slice signals end of stream and flushes any buffered frames.
	SendPacket(data []byte) error
	// ReceiveFrame returns the next decoded frame produced by the most
	// recent SendPacket calls, or io.EOF if none is currently available.
	ReceiveFrame() (Frame, error)
	// Close releases codec resources.
	Close() error
}

// SampleFormat identifies a host-native PCM sample encoding.
type SampleFormat int

// Supported host sample formats.
const (
	SampleU8 SampleFormat = iota
	SampleS16
	SampleS32
)

// BytesPerSample returns the width in bytes of one sample in format f.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleU8:
		return 1
	case SampleS32:
		return 4
	default:
		return 2
	}
}

// SampleConverter resamples and reformats decoded audio frames into the
// host's target sample rate, channel count, and sample format.
type SampleConverter interface {
	// Convert resamples src (at srcRate, srcChannels) into dstFormat at
	// dstRate/dstChannels, returning interleaved bytes.
	Convert(src Frame, srcRate, srcChannels int, dstRate, dstChannels int, dstFormat SampleFormat) ([]byte, error)
}

// PixelFormat identifies a host-native pixel layout.
type PixelFormat int

// Supported host pixel formats.
const (
	PixelYV12 PixelFormat = iota // planar YUV 4:2:0
	PixelYUY2                    // packed YUV 4:2:2
	PixelUYVY                    // packed YUV 4:2:2
	PixelABGR8888                // packed RGBA, byte order A,B,G,R
)

// PixelConverter scales and reformats decoded video frames into the
// host's chosen pixel format.
type PixelConverter interface {
	// Convert scales/reformats src into the given pixel format and
	// dimensions.
	Convert(src Frame, dstFormat PixelFormat, dstW, dstH int) ([]byte, error)
	// ChooseFormat selects the host pixel format for a given source
	// description, per the YUV420P→YV12 / YUYV422→YUY2 / UYVY422→UYVY /
	// else→ABGR8888 mapping.
	ChooseFormat(sourceDescription string) PixelFormat
}

// SubtitleRect is one rasterized or styled-text region decoded from a
// subtitle stream, before time-bounding is applied by the subtitle
// specialization.
type SubtitleRect struct {
	X, Y, W, H int
	RGBA       []byte
	IsStyled   bool
}

// SubtitleStyler is the external collaborator that rasterizes styled-text
// subtitle rectangles into RGBA images. Bitmap rectangles need no styler.
type SubtitleStyler interface {
	// Render produces RGBA images and positions for every currently
	// active styled-text event at time tSeconds.
	Render(tSeconds float64) ([]SubtitleRect, error)
	// Close releases styler resources.
	Close() error
}
