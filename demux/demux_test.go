package demux

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/arvetica/avcore/codec"
)

type fakeSource struct {
	mu     sync.Mutex
	pkts   []codec.Packet
	i      int
	failAt int // -1: never fail
	closed bool
}

func (s *fakeSource) StreamCount() int { return 2 }
func (s *fakeSource) Stream(index int) (codec.StreamInfo, error) {
	return codec.StreamInfo{Index: index}, nil
}
func (s *fakeSource) ReadPacket() (codec.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt >= 0 && s.i == s.failAt {
		return codec.Packet{}, errors.New("corrupt stream")
	}
	if s.i >= len(s.pkts) {
		return codec.Packet{}, io.EOF
	}
	p := s.pkts[s.i]
	s.i++
	return p, nil
}
func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestRoutesPacketsByStreamIndex(t *testing.T) {
	src := &fakeSource{failAt: -1, pkts: []codec.Packet{
		{StreamIndex: 0, DTS: 1},
		{StreamIndex: 1, DTS: 2},
		{StreamIndex: 0, DTS: 3},
	}}

	var mu sync.Mutex
	var streamZero, streamOne []codec.Packet
	routes := map[int]func(codec.Packet){
		0: func(p codec.Packet) { mu.Lock(); streamZero = append(streamZero, p); mu.Unlock() },
		1: func(p codec.Packet) { mu.Lock(); streamOne = append(streamOne, p); mu.Unlock() },
	}

	w, err := New(src, routes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("demuxer did not reach EOF in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(streamZero) != 2 || len(streamOne) != 1 {
		t.Fatalf("expected 2 packets on stream 0 and 1 on stream 1, got %d/%d", len(streamZero), len(streamOne))
	}
	if streamZero[0].DTS != 1 || streamZero[1].DTS != 3 {
		t.Fatalf("expected FIFO order preserved per stream, got %+v", streamZero)
	}
}

func TestUnroutedStreamIndexIsDropped(t *testing.T) {
	src := &fakeSource{failAt: -1, pkts: []codec.Packet{{StreamIndex: 5, DTS: 1}}}
	w, err := New(src, map[int]func(codec.Packet){})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("demuxer did not reach EOF")
	}
	if w.Err() != nil {
		t.Fatalf("expected no error for an unrouted stream index, got %v", w.Err())
	}
}

func TestReadErrorEndsLoopAndRecordsErr(t *testing.T) {
	src := &fakeSource{failAt: 0}
	w, err := New(src, map[int]func(codec.Packet){})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("demuxer did not end after read error")
	}
	if w.Err() == nil {
		t.Fatal("expected Err() to report the read failure")
	}
}

func TestCloseStopsLoopAndClosesSource(t *testing.T) {
	block := make(chan struct{})
	src := &blockingSource{release: block}
	w, err := New(src, map[int]func(codec.Packet){})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	close(block)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !src.closedFlag() {
		t.Fatal("expected source to be closed")
	}
}

// blockingSource returns one packet per ReadPacket call forever until
// release is closed, then reports EOF — used to exercise Close() against a
// demuxer still actively looping.
type blockingSource struct {
	mu      sync.Mutex
	release chan struct{}
	closed  bool
}

func (b *blockingSource) StreamCount() int { return 0 }
func (b *blockingSource) Stream(int) (codec.StreamInfo, error) {
	return codec.StreamInfo{}, errors.New("no streams")
}
func (b *blockingSource) ReadPacket() (codec.Packet, error) {
	select {
	case <-b.release:
		return codec.Packet{}, io.EOF
	default:
		return codec.Packet{StreamIndex: 99}, nil
	}
}
func (b *blockingSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
func (b *blockingSource) closedFlag() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
