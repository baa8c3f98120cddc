package annexb

import (
	"fmt"
	"io"
	"time"

	"github.com/arvetica/avcore/codec"
)

// Codec identifies which NAL type table a Demuxer's bitstream uses.
type Codec int

// Supported Annex B bitstream codecs.
const (
	CodecH264 Codec = iota
	CodecHEVC
)

// Demuxer adapts a raw, single-stream Annex B elementary video file (no
// container, just NAL units back to back) into a codec.ContainerDemuxer:
// every slice NAL unit becomes one codec.Packet on stream index 0, tagged
// with a presentation timestamp computed from frameRate, and the first
// SPS encountered determines the reported codec name. Slices are not
// grouped into access units, and the SPS resolution is not reported.
type Demuxer struct {
	codec     Codec
	frameRate float64
	units     []NALUnit
	pos       int
	frameNo   int64
	info      codec.StreamInfo
}

// Open scans data into NAL units and locates the first SPS to populate
// stream metadata. frameRate is used to synthesize presentation timestamps
// since Annex B elementary streams carry no container-level timing.
func Open(data []byte, c Codec, frameRate float64) (*Demuxer, error) {
	if frameRate <= 0 {
		return nil, fmt.Errorf("annexb: frame rate must be positive, got %v", frameRate)
	}

	var units []NALUnit
	name := "h264"
	if c == CodecHEVC {
		units = ParseAnnexBHEVC(data)
		name = "hevc"
	} else {
		units = ParseAnnexB(data)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("annexb: no NAL units found in stream")
	}

	d := &Demuxer{
		codec:     c,
		frameRate: frameRate,
		units:     units,
		info:      codec.StreamInfo{Index: 0, Kind: codec.KindVideo, CodecName: name},
	}

	for _, u := range units {
		if c == CodecHEVC && IsHEVCSPS(u.Type) {
			if sps, err := ParseHEVCSPS(u.Data); err == nil {
				d.info.CodecName = sps.CodecString()
			}
			break
		}
		if c == CodecH264 && IsSPS(u.Type) {
			if sps, err := ParseSPS(u.Data); err == nil {
				d.info.CodecName = sps.CodecString()
			}
			break
		}
	}

	return d, nil
}

// StreamCount always returns 1: Annex B elementary streams carry exactly
// one video stream and no others.
func (d *Demuxer) StreamCount() int { return 1 }

// Stream returns the single video stream's metadata.
func (d *Demuxer) Stream(index int) (codec.StreamInfo, error) {
	if index != 0 {
		return codec.StreamInfo{}, fmt.Errorf("annexb: stream index %d out of range", index)
	}
	return d.info, nil
}

// ReadPacket returns the next slice NAL unit (without its start code) as a
// codec.Packet, skipping non-slice NAL units (parameter sets, AUD, filler)
// that carry no independent presentation time. A picture coded as several
// slices yields one packet per slice, each with the next frame number.
// PTS/DTS are synthesized from frameNo and frameRate in a 1/frameRate
// timebase.
func (d *Demuxer) ReadPacket() (codec.Packet, error) {
	for d.pos < len(d.units) {
		u := d.units[d.pos]
		d.pos++

		if !d.isSliceNAL(u.Type) {
			continue
		}

		pkt := codec.Packet{
			StreamIndex: 0,
			Data:        u.Data,
			PTS:         d.frameNo,
			DTS:         d.frameNo,
			Timebase:    time.Duration(float64(time.Second) / d.frameRate),
		}
		d.frameNo++
		return pkt, nil
	}
	return codec.Packet{}, io.EOF
}

func (d *Demuxer) isSliceNAL(nalType byte) bool {
	if d.codec == CodecHEVC {
		return nalType < HEVCNALVPS
	}
	return nalType == NALTypeSlice || nalType == NALTypeIDR
}

// Close is a no-op: the Demuxer holds no resources beyond the in-memory
// NAL unit slice it was opened with.
func (d *Demuxer) Close() error { return nil }
