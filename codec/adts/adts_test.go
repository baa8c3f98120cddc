package adts

import (
	"io"
	"testing"
)

func buildFrame(frameData []byte) []byte {
	frameLen := 7 + len(frameData)
	header := make([]byte, 7)
	header[0] = 0xFF
	header[1] = 0xF1 // MPEG-4, Layer 0, no CRC protection
	header[2] = (1 << 6) | (3 << 2)                  // profile=AAC-LC, sample rate idx=3 (48kHz)
	header[3] = (2 << 6) | byte((frameLen>>11)&0x03) // channel config = 2 (stereo)
	header[4] = byte((frameLen >> 3) & 0xFF)
	header[5] = byte((frameLen&0x07)<<5) | 0x1F
	header[6] = 0xFC
	return append(header, frameData...)
}

func TestParseFrames(t *testing.T) {
	t.Parallel()
	frameData := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE}
	adtsData := buildFrame(frameData)

	frames, err := ParseFrames(adtsData)
	if err != nil {
		t.Fatalf("ParseFrames failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].SampleRate != 48000 {
		t.Errorf("expected sample rate 48000, got %d", frames[0].SampleRate)
	}
	if frames[0].Channels != 2 {
		t.Errorf("expected 2 channels, got %d", frames[0].Channels)
	}
	if len(frames[0].Data) != 7+len(frameData) {
		t.Errorf("expected frame data length %d, got %d", 7+len(frameData), len(frames[0].Data))
	}
}

func TestParseFramesEmpty(t *testing.T) {
	t.Parallel()
	frames, err := ParseFrames(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected 0 frames for empty input, got %d", len(frames))
	}
}

func TestParseFramesTruncated(t *testing.T) {
	t.Parallel()
	data := []byte{0xFF, 0xF1, 0x50, 0x80, 0x00}
	frames, err := ParseFrames(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected 0 frames for truncated input, got %d", len(frames))
	}
}

func TestOpenAndReadPacketSequence(t *testing.T) {
	t.Parallel()
	data := append(buildFrame([]byte{1, 2, 3}), buildFrame([]byte{4, 5, 6})...)

	d, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.StreamCount() != 1 {
		t.Fatalf("expected 1 stream, got %d", d.StreamCount())
	}

	first, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if first.PTS != 0 {
		t.Fatalf("expected first frame PTS 0, got %d", first.PTS)
	}

	second, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if second.PTS != samplesPerAACFrame {
		t.Fatalf("expected second frame PTS %d, got %d", samplesPerAACFrame, second.PTS)
	}

	if _, err := d.ReadPacket(); err != io.EOF {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

func TestOpenRejectsStreamWithNoFrames(t *testing.T) {
	t.Parallel()
	if _, err := Open(nil); err == nil {
		t.Fatal("expected an error opening an empty stream")
	}
}
