// Package video specializes the generic decoder worker for video streams:
// it scales/reformats decoded frames into the host's chosen pixel format
// and exposes the pull-side API a render-thread polls once per displayed
// frame, applying the video half of audio/video synchronization.
package video

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

// SyncThreshold is the tolerance, in seconds, within which a frame's PTS is
// considered "on time" against the media clock. Tighter than audio's
// because a late or early video frame is immediately visible, where a
// comparable audio skew is masked by the host's output buffer.
const SyncThreshold = 0.01

// Format is the read-only snapshot of the decoded video's dimensions and
// host pixel format, populated once at worker creation.
type Format struct {
	Width       int
	Height      int
	PixelFmt    codec.PixelFormat
	StreamIndex int
	Enabled     bool
}

// Packet is one converted video frame with a presentation timestamp.
type Packet struct {
	PTS  float64
	Data []byte // pixel data in Format.PixelFmt layout, Format.Width x Format.Height
}

// Texture is the host's render target for one displayed frame. Planar
// formats (YV12) receive three plane writes; packed formats receive one.
type Texture interface {
	// UpdatePlanar writes three separate planes (Y, U, V) with their
	// respective strides, for PixelYV12.
	UpdatePlanar(y, u, v []byte, yStride, uStride, vStride int) error
	// UpdatePacked writes one interleaved buffer with a single stride, for
	// PixelYUY2, PixelUYVY, and PixelABGR8888.
	UpdatePacked(data []byte, stride int) error
}

type local struct {
	format    Format
	converter codec.PixelConverter
	now       func() time.Time
}

// Decoder is a worker.Decoder specialized for one video stream.
type Decoder = worker.Decoder[*codec.Packet, *Packet]

// New creates a video decoder worker for streamIndex. sourceDescription is
// passed to conv.ChooseFormat to pick the host pixel format (e.g.
// "yuv420p" selects PixelYV12). Input queue capacity is 2 packets, output
// queue capacity is 2 frames — video frames are large, and a few frames of
// slack is enough to absorb scheduling jitter without ballooning memory.
func New(log *slog.Logger, cc codec.CodecContext, streamIndex, width, height int, sourceDescription string, conv codec.PixelConverter) (*Decoder, error) {
	if log == nil {
		log = slog.Default()
	}

	l := &local{
		format: Format{
			Width:       width,
			Height:      height,
			PixelFmt:    conv.ChooseFormat(sourceDescription),
			StreamIndex: streamIndex,
			Enabled:     true,
		},
		converter: conv,
		now:       time.Now,
	}

	return worker.New(nil, worker.Config[*codec.Packet, *Packet]{
		Log:            log,
		CodecCtx:       cc,
		InputCapacity:  2,
		OutputCapacity: 2,
		FreeInput:      func(*codec.Packet) {},
		FreeOutput:     func(*Packet) {},
		Handle:         handle,
		PTSOf:          func(p *Packet) float64 { return p.PTS },
		FreeLocal:      func(any) {},
		Local:          l,
	})
}

// GetFormat returns the video format snapshot for this decoder.
func GetFormat(d *Decoder) Format {
	return localOf(d).format
}

func localOf(d *Decoder) *local {
	return d.Local().(*local)
}

// handle pulls one compressed packet, decodes and converts every frame it
// yields, and pushes one video.Packet per converted frame to the output
// queue.
func handle(w *Decoder, localAny any) error {
	l := localAny.(*local)
	pkt, ok := w.Input().Read()
	if !ok {
		return nil
	}

	if err := w.CodecContext().SendPacket(pkt.Data); err != nil {
		lasterror.Set("video: send packet: %v", err)
		return fmt.Errorf("video: send packet: %w", err)
	}

	for {
		frame, err := w.CodecContext().ReceiveFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			lasterror.Set("video: receive frame: %v", err)
			return fmt.Errorf("video: receive frame: %w", err)
		}

		data, err := l.converter.Convert(frame, l.format.PixelFmt, l.format.Width, l.format.Height)
		if err != nil {
			lasterror.Set("video: convert: %v", err)
			return fmt.Errorf("video: convert: %w", err)
		}

		pts := pkt.Seconds(pkt.DTS)
		w.Output().Write(&Packet{PTS: pts, Data: data})
	}
	return nil
}

// GetData implements the video half of the presentation-clock
// synchronizer: it peeks the head output frame, compares its PTS to the
// current video media time, and either holds it back (video too early),
// skips ahead (video too late), or uploads it to tex and reports true.
func GetData(d *Decoder, clockSync time.Time, tex Texture) (bool, error) {
	l := localOf(d)
	pkt, ok := d.Output().Peek()
	if !ok {
		return false, nil
	}

	curVideoTS := l.now().Sub(clockSync).Seconds()

	if pkt.PTS > curVideoTS+SyncThreshold {
		// Video is ahead of the clock: hold the frame for a later call.
		return false, nil
	}

	if pkt.PTS < curVideoTS-SyncThreshold {
		// Video is lagging: drop frames until one is within tolerance, or
		// the queue runs dry, to catch back up to the clock.
		for {
			d.Output().Advance()
			next, ok := d.Output().Peek()
			if !ok {
				return false, nil
			}
			pkt = next
			if pkt.PTS > curVideoTS-SyncThreshold {
				break
			}
		}
	}

	d.Output().Advance()

	stride := l.format.Width
	switch l.format.PixelFmt {
	case codec.PixelYV12:
		ySize := l.format.Width * l.format.Height
		cSize := (l.format.Width / 2) * (l.format.Height / 2)
		if len(pkt.Data) < ySize+2*cSize {
			err := fmt.Errorf("video: short planar frame: got %d bytes, want %d", len(pkt.Data), ySize+2*cSize)
			lasterror.Set("%v", err)
			return false, err
		}
		y := pkt.Data[:ySize]
		u := pkt.Data[ySize : ySize+cSize]
		v := pkt.Data[ySize+cSize : ySize+2*cSize]
		if err := tex.UpdatePlanar(y, u, v, stride, stride/2, stride/2); err != nil {
			lasterror.Set("video: upload planar texture: %v", err)
			return false, fmt.Errorf("video: upload planar texture: %w", err)
		}
	case codec.PixelYUY2, codec.PixelUYVY:
		if err := tex.UpdatePacked(pkt.Data, stride*2); err != nil {
			lasterror.Set("video: upload packed texture: %v", err)
			return false, fmt.Errorf("video: upload packed texture: %w", err)
		}
	default: // PixelABGR8888
		if err := tex.UpdatePacked(pkt.Data, stride*4); err != nil {
			lasterror.Set("video: upload packed texture: %v", err)
			return false, fmt.Errorf("video: upload packed texture: %w", err)
		}
	}
	return true, nil
}
