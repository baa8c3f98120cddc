// Package audio specializes the generic decoder worker for audio streams:
// it converts decoded PCM into the host's target sample rate, channel
// count, and sample format, timestamps each converted chunk, and exposes
// the pull-side API an audio-device callback thread polls for bytes —
// applying the audio half of audio/video synchronization along the way.
package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/arvetica/avcore/codec"
	"github.com/arvetica/avcore/lasterror"
	"github.com/arvetica/avcore/worker"
)

// SyncThreshold is the tolerance, in seconds, within which a packet's PTS
// is considered "on time" against the media clock. Looser than video
// because short audio glitches are more audible than brief pacing errors,
// and because the host's own audio buffer already smooths jitter.
const SyncThreshold = 0.05

// Format is the read-only snapshot of the host audio format, populated
// once at worker creation.
type Format struct {
	SampleRate  int
	Channels    int
	SampleFmt   codec.SampleFormat
	StreamIndex int
	Enabled     bool
}

// BytesPerSample returns the per-channel sample width in bytes.
func (f Format) BytesPerSample() int { return f.SampleFmt.BytesPerSample() }

// FrameBytes returns the number of bytes occupied by one interleaved
// sample frame (all channels).
func (f Format) FrameBytes() int { return f.BytesPerSample() * f.Channels }

// BytesPerSecond returns the host format's data rate.
func (f Format) BytesPerSecond() float64 {
	return float64(f.SampleRate * f.FrameBytes())
}

// Packet is one chunk of already-converted PCM bytes with a
// monotonically-advancing (within a segment) presentation timestamp.
type Packet struct {
	PTS          float64
	OriginalSize int
	buf          []byte // remaining, not-yet-delivered bytes; drains front-to-back
}

// Len returns the number of undelivered bytes left in this packet.
func (p *Packet) Len() int { return len(p.buf) }

type local struct {
	format    Format
	converter codec.SampleConverter
	now       func() time.Time
}

// Decoder is a worker.Decoder specialized for one audio stream.
type Decoder = worker.Decoder[*codec.Packet, *Packet]

// New creates an audio decoder worker for streamIndex, reading compressed
// packets via cc and converting decoded frames with conv. Input queue
// capacity is 3 packets, output queue capacity is 64 — deep enough to
// smooth resampling jitter without holding more than a couple of seconds
// of audio.
func New(log *slog.Logger, cc codec.CodecContext, streamIndex int, conv codec.SampleConverter) (*Decoder, error) {
	if log == nil {
		log = slog.Default()
	}
	channels := cc.Channels()
	if channels > 2 {
		channels = 2 // host downmixes to stereo
	}
	if channels < 1 {
		channels = 1
	}

	l := &local{
		format: Format{
			SampleRate:  cc.SampleRate(),
			Channels:    channels,
			SampleFmt:   targetSampleFormat(cc),
			StreamIndex: streamIndex,
			Enabled:     true,
		},
		converter: conv,
		now:       time.Now,
	}

	return worker.New(nil, worker.Config[*codec.Packet, *Packet]{
		Log:            log,
		CodecCtx:       cc,
		InputCapacity:  3,
		OutputCapacity: 64,
		FreeInput:      func(*codec.Packet) {},
		FreeOutput:     func(*Packet) {},
		Handle:         handle,
		PTSOf:          func(p *Packet) float64 { return p.PTS },
		FreeLocal:      func(any) {},
		Local:          l,
	})
}

// targetSampleFormat returns the host sample format for cc's stream. It
// always returns signed 16-bit: u8 and s32 sources are not kept at their
// native width, since cc does not report its source sample format.
func targetSampleFormat(cc codec.CodecContext) codec.SampleFormat {
	// CodecContext does not expose its native sample format directly in
	// this core (that detail lives with the concrete adapter); adapters
	// that want u8/s32 output implement codec.SampleConverter accordingly
	// and the worker's target format tracks whatever the converter
	// produces. s16 is the sane, universally-supported default.
	return codec.SampleS16
}

// GetFormat returns the host audio format snapshot for this decoder.
func GetFormat(d *Decoder) Format {
	return localOf(d).format
}

func localOf(d *Decoder) *local {
	return d.Local().(*local)
}

// handle pulls one compressed packet, decodes and converts every frame it
// yields, and pushes one audio.Packet per converted chunk to the output
// queue. It drains SendPacket/ReceiveFrame fully (a single input packet
// may legitimately produce zero, one, or many frames) before returning.
func handle(w *Decoder, localAny any) error {
	l := localAny.(*local)
	pkt, ok := w.Input().Read()
	if !ok {
		return nil
	}

	if err := w.CodecContext().SendPacket(pkt.Data); err != nil {
		lasterror.Set("audio: send packet: %v", err)
		return fmt.Errorf("audio: send packet: %w", err)
	}

	for {
		frame, err := w.CodecContext().ReceiveFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			lasterror.Set("audio: receive frame: %v", err)
			return fmt.Errorf("audio: receive frame: %w", err)
		}

		raw, err := l.converter.Convert(frame, w.CodecContext().SampleRate(), w.CodecContext().Channels(),
			l.format.SampleRate, l.format.Channels, l.format.SampleFmt)
		if err != nil {
			lasterror.Set("audio: convert: %v", err)
			return fmt.Errorf("audio: convert: %w", err)
		}

		pts := pkt.Seconds(pkt.DTS)
		out := &Packet{PTS: pts, OriginalSize: len(raw), buf: raw}
		w.Output().Write(out)
	}
	return nil
}

// GetData implements the audio half of the presentation-clock
// synchronizer: it peeks the head output packet, compares its PTS to the
// current audio media time, and either pads with silence (audio too
// early), skips ahead (audio too late), or copies bytes into buf. curBufLen
// is the number of bytes of already-queued-but-not-yet-played audio in the
// host's own output buffer, used to estimate the true playback position.
func GetData(d *Decoder, clockSync time.Time, buf []byte, curBufLen int) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	l := localOf(d)
	pkt, ok := d.Output().Peek()
	if !ok {
		return 0, nil
	}

	bytesPerSample := l.format.FrameBytes()
	bps := l.format.BytesPerSecond()
	curAudioTS := l.now().Sub(clockSync).Seconds() + float64(curBufLen)/bps

	if pkt.PTS > curAudioTS+SyncThreshold {
		// Audio is ahead of the clock: pad with silence, retaining the
		// packet so the next call re-evaluates against the advanced clock.
		diffSamples := int((pkt.PTS - curAudioTS) * float64(l.format.SampleRate))
		maxFromBuf := len(buf) / bytesPerSample
		n := diffSamples
		if maxFromBuf < n {
			n = maxFromBuf
		}
		nBytes := n * bytesPerSample
		silence(buf[:nBytes], l.format.SampleFmt)
		return nBytes, nil
	}

	if pkt.PTS < curAudioTS-SyncThreshold {
		// Audio is lagging: drop packets until one is within tolerance or
		// the queue runs dry.
		for {
			d.Output().Advance()
			next, ok := d.Output().Peek()
			if !ok {
				return 0, nil
			}
			pkt = next
			if pkt.PTS > curAudioTS-SyncThreshold {
				break
			}
		}
	}

	n := copy(buf, pkt.buf)
	pkt.buf = pkt.buf[n:]
	if pkt.Len() == 0 {
		d.Output().Advance()
	} else {
		pkt.PTS += float64(n) / bps
	}
	return n, nil
}

// silence fills buf with the host format's representation of digital
// silence: the zero value for signed formats, the mid-point for unsigned.
func silence(buf []byte, format codec.SampleFormat) {
	if format != codec.SampleU8 {
		for i := range buf {
			buf[i] = 0
		}
		return
	}
	for i := range buf {
		buf[i] = 0x80
	}
}
