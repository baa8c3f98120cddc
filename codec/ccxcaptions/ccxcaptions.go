// Package ccxcaptions extracts CEA-608/708 closed captions embedded as SEI
// NAL units in an H.264 access unit, alongside the video stream itself. It
// is grounded on zsiec-prism's internal/demux/mpegts.go caption handling
// (handleCaptionSEI/drainDTVCC) and github.com/zsiec/ccx, the library that
// does the CEA-608/708 bit-level decode.
//
// This is a companion to codec/annexb, not a codec.CodecContext: caption
// SEI payloads ride inside the same NAL units the video codec decodes, so
// a Decoder is fed the same access units a video codec.CodecContext
// consumes (codec/annexb.ParseAnnexB output) and emits text independently,
// on its own channel, rather than through codec.SubtitleStyler — captions
// don't need rasterizing, and the host consumes Text directly the same way
// it would consume the teacher's Demuxer.Captions().
package ccxcaptions

import (
	"github.com/zsiec/ccx"

	"github.com/arvetica/avcore/codec/annexb"
)

// Decoder tracks CEA-608/708 decode state across the access units of one
// video stream. 608 lines 1-4 and 708 services 1-6 (channels 7-12) are
// tracked in parallel, same split as the teacher's per-channel decoder/
// service maps.
type Decoder struct {
	cea608    map[int]*ccx.CEA608Decoder
	cea708    map[int]*ccx.CEA708Service
	dtvccBuf  []byte
	out       chan *ccx.CaptionFrame
	lastCtrl  map[int][2]byte
	lastWasCC map[int]bool
}

// NewDecoder creates a caption decoder with capacity buffered output
// slots — enough to absorb a caption burst without blocking the video
// pipeline that feeds Feed.
func NewDecoder(capacity int) *Decoder {
	d := &Decoder{
		cea608:    make(map[int]*ccx.CEA608Decoder, 4),
		cea708:    make(map[int]*ccx.CEA708Service, 6),
		out:       make(chan *ccx.CaptionFrame, capacity),
		lastCtrl:  make(map[int][2]byte, 2),
		lastWasCC: make(map[int]bool, 2),
	}
	for ch := 1; ch <= 4; ch++ {
		d.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		d.cea708[svc] = ccx.NewCEA708Service()
	}
	return d
}

// Captions returns the channel decoded caption text arrives on. The
// channel is closed by Close.
func (d *Decoder) Captions() <-chan *ccx.CaptionFrame { return d.out }

// Feed scans one access unit's NAL units for SEI payloads and decodes any
// captions found, non-blocking: if out is full, the frame is dropped
// rather than stalling the caller's video pipeline.
func (d *Decoder) Feed(accessUnit []byte, pts int64) {
	for _, nalu := range annexb.ParseAnnexB(accessUnit) {
		if nalu.Type != annexb.NALTypeSEI {
			continue
		}
		d.handleSEI(nalu.Data, pts)
	}
}

func (d *Decoder) handleSEI(seiData []byte, pts int64) {
	cd := ccx.ExtractCaptions(seiData)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		if d.isRepeatedControlCode(pair.Field, cc1, cc2) {
			continue
		}

		dec := d.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(cc1, cc2)
		if text == "" {
			continue
		}
		frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel}
		frame.Regions = dec.StyledRegions()
		d.emit(frame)
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			d.drainDTVCC(pts)
			d.dtvccBuf = d.dtvccBuf[:0]
		}
		d.dtvccBuf = append(d.dtvccBuf, t.Data[0], t.Data[1])
	}
}

// isRepeatedControlCode filters the CEA-608 quirk where a control code
// pair is transmitted twice in a row for noise resilience: the repeat must
// be dropped, not redecoded as a second keypress.
func (d *Decoder) isRepeatedControlCode(field int, cc1, cc2 byte) bool {
	isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
	if !isCtrl {
		d.lastWasCC[field] = false
		return false
	}
	cp := [2]byte{cc1, cc2}
	repeat := d.lastWasCC[field] && d.lastCtrl[field] == cp
	d.lastCtrl[field] = cp
	d.lastWasCC[field] = true
	return repeat
}

func (d *Decoder) drainDTVCC(pts int64) {
	if len(d.dtvccBuf) < 1 {
		return
	}
	packetSize := ccx.DTVCCPacketSize(d.dtvccBuf[0])
	if len(d.dtvccBuf) < packetSize {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(d.dtvccBuf[:packetSize]) {
		svc := d.cea708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		text := svc.DisplayText()
		if text == "" {
			continue
		}
		frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: block.ServiceNum + 6}
		frame.Regions = svc.StyledRegions()
		d.emit(frame)
	}
}

func (d *Decoder) emit(frame *ccx.CaptionFrame) {
	select {
	case d.out <- frame:
	default:
	}
}

// Close releases the output channel. Feed must not be called after Close.
func (d *Decoder) Close() {
	close(d.out)
}
