// Package refmpegts is a codec.ContainerDemuxer for MPEG transport streams:
// enough of ISO/IEC 13818-1 to find a program's elementary streams from its
// PAT/PMT and reassemble their PES units into codec.Packet. It performs no
// codec-level decode — elementary stream bytes (ADTS AAC, Annex B
// H.264/H.265, ...) are handed to the caller's codec.CodecContext exactly
// as PES delivered them, same as any other container adapter in this
// module. Unlike a general-purpose broadcast demultiplexer, this one
// tracks a single program (the scope source.Handle already assumes) and
// does not attempt continuity-counter gap recovery or duplicate-packet
// filtering: a transport stream damaged enough to need that is a
// broadcast-ingest concern this embedded playback core does not take on.
package refmpegts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/arvetica/avcore/codec"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
	patPID       = 0x0000
)

// clockTimebase is the MPEG-TS 90kHz system clock, the timebase of every
// PTS/DTS value PES headers carry.
const clockTimebase = time.Second / 90000

// tsHeader is a parsed transport packet header; everything needed to route
// and reassemble its payload.
type tsHeader struct {
	pid           uint16
	pusi          bool
	hasPayload    bool
	hasAdaptation bool
}

// parseTSHeader validates and parses one 188-byte transport packet,
// returning its header and the offset its payload starts at.
func parseTSHeader(buf []byte) (tsHeader, int, error) {
	if len(buf) != tsPacketSize {
		return tsHeader{}, 0, fmt.Errorf("refmpegts: packet size %d, want %d", len(buf), tsPacketSize)
	}
	if buf[0] != tsSyncByte {
		return tsHeader{}, 0, fmt.Errorf("refmpegts: bad sync byte 0x%02X", buf[0])
	}

	h := tsHeader{
		pusi:          buf[1]&0x40 != 0,
		pid:           uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		hasAdaptation: buf[3]&0x20 != 0,
		hasPayload:    buf[3]&0x10 != 0,
	}

	offset := 4
	if h.hasAdaptation {
		if offset >= tsPacketSize {
			return h, tsPacketSize, nil
		}
		afLen := int(buf[offset])
		offset += 1 + afLen
		if offset > tsPacketSize {
			offset = tsPacketSize
		}
	}
	return h, offset, nil
}

// pidAccumulator reassembles the payload-unit-start-indicated units that
// arrive spread across consecutive packets on one PID.
type pidAccumulator struct {
	buf     []byte
	started bool
}

// Demuxer adapts one MPEG-TS elementary program to codec.ContainerDemuxer.
// Streams are only known once the program's PMT has been parsed, so the
// first ReadPacket calls may consume several PAT/PMT-only transport
// packets before the first codec.Packet is produced.
type Demuxer struct {
	ctx    context.Context
	r      io.Reader
	closer io.Closer

	units  map[uint16]*pidAccumulator
	pmtPID uint16 // 0 until the PAT names it

	streams    []codec.StreamInfo
	pidToIndex map[uint16]int

	pending []codec.Packet
	eof     bool
}

// NewDemuxer wraps r as a single-program MPEG-TS stream. ctx bounds how
// long ReadPacket may block on malformed input; pass context.Background()
// for a plain file. If r also implements io.Closer (e.g. an *os.File),
// Close releases it too.
func NewDemuxer(ctx context.Context, r io.Reader) *Demuxer {
	d := &Demuxer{
		ctx:        ctx,
		r:          r,
		units:      make(map[uint16]*pidAccumulator),
		pidToIndex: make(map[uint16]int),
	}
	d.closer, _ = r.(io.Closer)
	return d
}

// StreamCount returns the number of elementary streams discovered so far.
// This can grow as ReadPacket consumes more of the stream; callers that
// need the final count should drain ReadPacket until every expected stream
// has appeared, or until EOF.
func (d *Demuxer) StreamCount() int { return len(d.streams) }

// Stream returns metadata for the stream at index.
func (d *Demuxer) Stream(index int) (codec.StreamInfo, error) {
	if index < 0 || index >= len(d.streams) {
		return codec.StreamInfo{}, fmt.Errorf("refmpegts: stream %d out of range", index)
	}
	return d.streams[index], nil
}

// ReadPacket returns the next codec.Packet from any elementary stream, or
// io.EOF once the transport stream is exhausted. PAT/PMT units and PES
// units for not-yet-assigned PIDs are consumed internally and never
// surfaced as packets.
func (d *Demuxer) ReadPacket() (codec.Packet, error) {
	buf := make([]byte, tsPacketSize)
	for {
		if len(d.pending) > 0 {
			pkt := d.pending[0]
			d.pending = d.pending[1:]
			return pkt, nil
		}
		if d.eof {
			return codec.Packet{}, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return codec.Packet{}, err
		}

		if _, err := io.ReadFull(d.r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.flushPending()
				continue
			}
			return codec.Packet{}, err
		}

		hdr, payloadStart, err := parseTSHeader(buf)
		if err != nil {
			continue // skip corrupt packet, keep scanning for the next sync byte
		}
		if !hdr.hasPayload || payloadStart >= tsPacketSize {
			continue
		}
		d.accumulate(hdr, buf[payloadStart:])
	}
}

// accumulate appends payload to hdr.pid's reassembly buffer. If hdr marks
// the start of a new unit, any previous unit still in the buffer (one
// whose declared length a following PUSI arrived before completing) is
// dispatched first. The buffer is also checked for eager completion after
// every append: most PSI sections and many PES units fit in a single
// transport packet, and waiting for a following PUSI on the same PID (or
// EOF) to notice that would misorder dispatch relative to PIDs carrying
// multi-packet units, e.g. completing a PES packet before its PMT.
func (d *Demuxer) accumulate(hdr tsHeader, payload []byte) {
	u := d.units[hdr.pid]
	if u == nil {
		u = &pidAccumulator{}
		d.units[hdr.pid] = u
	}

	if hdr.pusi {
		if u.started && len(u.buf) > 0 {
			d.completeUnit(hdr.pid, u.buf)
		}
		u.buf = append([]byte(nil), payload...)
		u.started = true
	} else {
		if !u.started {
			return // continuation packet with no unit in progress; drop
		}
		u.buf = append(u.buf, payload...)
	}

	if n := declaredUnitLength(hdr.pid, d.pmtPID, u.buf); n > 0 && len(u.buf) >= n {
		d.completeUnit(hdr.pid, u.buf[:n])
		u.buf = nil
		u.started = false
	}
}

// declaredUnitLength returns the total byte length pid's in-progress unit
// declares itself to have (pointer_field+section_length for PSI,
// PES_packet_length for PES), or 0 if that isn't yet known from the bytes
// accumulated so far, or the unit uses MPEG-TS's "unbounded" PES length
// convention (packetLength 0, the norm for video streams), which can only
// be resolved by a following PUSI or EOF.
func declaredUnitLength(pid, pmtPID uint16, buf []byte) int {
	if pid == patPID || (pmtPID != 0 && pid == pmtPID) {
		if len(buf) < 1 {
			return 0
		}
		headerStart := 1 + int(buf[0])
		if len(buf) < headerStart+3 {
			return 0
		}
		sectionLength := int(buf[headerStart+1]&0x0F)<<8 | int(buf[headerStart+2])
		return headerStart + 3 + sectionLength
	}
	if len(buf) < 6 {
		return 0
	}
	packetLength := int(buf[4])<<8 | int(buf[5])
	if packetLength == 0 {
		return 0
	}
	return 6 + packetLength
}

// flushPending dispatches every PID's in-progress unit once the reader is
// exhausted, so the last PES/PSI unit in the stream isn't lost for want of
// a following PUSI packet.
func (d *Demuxer) flushPending() {
	for pid, u := range d.units {
		if u.started && len(u.buf) > 0 {
			d.completeUnit(pid, u.buf)
		}
	}
}

func (d *Demuxer) completeUnit(pid uint16, data []byte) {
	switch {
	case pid == patPID:
		d.handlePAT(data)
	case d.pmtPID != 0 && pid == d.pmtPID:
		d.handlePMT(data)
	default:
		if index, ok := d.pidToIndex[pid]; ok {
			d.handlePES(index, data)
		}
	}
}

func (d *Demuxer) handlePAT(payload []byte) {
	for _, section := range psiSections(payload) {
		if pmtPID, ok := firstPMTPID(section); ok {
			d.pmtPID = pmtPID
			return
		}
	}
}

func (d *Demuxer) handlePMT(payload []byte) {
	for _, section := range psiSections(payload) {
		streams, err := parsePMTSection(section)
		if err != nil {
			continue
		}
		for _, es := range streams {
			if _, ok := d.pidToIndex[es.pid]; ok {
				continue
			}
			index := len(d.streams)
			d.pidToIndex[es.pid] = index
			d.streams = append(d.streams, codec.StreamInfo{
				Index:     index,
				Kind:      kindOf(es.streamType),
				CodecName: codecNameOf(es.streamType),
			})
		}
	}
}

func (d *Demuxer) handlePES(streamIndex int, data []byte) {
	pts, dts, payload, err := parsePESUnit(data)
	if err != nil {
		return // PES arrived malformed or truncated at EOF; drop it
	}
	d.pending = append(d.pending, codec.Packet{
		StreamIndex: streamIndex,
		Data:        payload,
		PTS:         pts,
		DTS:         dts,
		Timebase:    clockTimebase,
	})
}

// Close releases the underlying reader if it is also an io.Closer.
func (d *Demuxer) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// kindOf maps an MPEG-TS stream_type value (ISO/IEC 13818-1 Table 2-34) to
// a codec.StreamKind.
func kindOf(streamType uint8) codec.StreamKind {
	switch streamType {
	case 0x01, 0x02: // MPEG-1/2 video
		return codec.KindVideo
	case 0x1B: // H.264
		return codec.KindVideo
	case 0x24: // H.265/HEVC
		return codec.KindVideo
	case 0x03, 0x04: // MPEG-1/2 audio
		return codec.KindAudio
	case 0x0F, 0x11: // AAC ADTS / LATM
		return codec.KindAudio
	case 0x81: // AC-3 (ATSC private stream_type)
		return codec.KindAudio
	case 0x06: // PES private data: teletext/DVB subtitles, by convention
		return codec.KindSubtitle
	default:
		return codec.KindData
	}
}

func codecNameOf(streamType uint8) string {
	switch streamType {
	case 0x01:
		return "mpeg1video"
	case 0x02:
		return "mpeg2video"
	case 0x1B:
		return "h264"
	case 0x24:
		return "hevc"
	case 0x03, 0x04:
		return "mp2"
	case 0x0F:
		return "aac"
	case 0x11:
		return "aac-latm"
	case 0x81:
		return "ac3"
	case 0x06:
		return "dvb-subtitle"
	default:
		return "unknown"
	}
}
