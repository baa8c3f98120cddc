package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arvetica/avcore/codec"
)

// stubCodec is a minimal codec.CodecContext for worker tests.
type stubCodec struct {
	closed atomic.Bool
}

func (s *stubCodec) Name() string       { return "stub" }
func (s *stubCodec) SampleRate() int    { return 48000 }
func (s *stubCodec) Channels() int      { return 2 }
func (s *stubCodec) SendPacket([]byte) error { return nil }
func (s *stubCodec) ReceiveFrame() (codec.Frame, error) {
	return codec.Frame{}, io.EOF
}
func (s *stubCodec) Close() error {
	s.closed.Store(true)
	return nil
}

type packet struct{ n int }
type item struct{ n int }

func newTestWorker(t *testing.T, handle Handler[*packet, *item]) (*Decoder[*packet, *item], *stubCodec) {
	t.Helper()
	sc := &stubCodec{}
	d, err := New(context.Background(), Config[*packet, *item]{
		CodecCtx:       sc,
		InputCapacity:  2,
		OutputCapacity: 2,
		FreeLocal:      func(any) {},
		Handle:         handle,
		Local:          struct{}{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, sc
}

func TestHandleNeverConcurrent(t *testing.T) {
	var inHandle atomic.Bool
	var violated atomic.Bool
	d, _ := newTestWorker(t, func(w *Decoder[*packet, *item], local any) error {
		if !inHandle.CompareAndSwap(false, true) {
			violated.Store(true)
		}
		time.Sleep(time.Millisecond)
		inHandle.Store(false)
		if _, ok := w.Input().Read(); !ok {
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	defer d.Close()

	for i := 0; i < 20; i++ {
		d.Input().Write(&packet{n: i})
	}
	time.Sleep(100 * time.Millisecond)
	if violated.Load() {
		t.Fatal("Handle was invoked concurrently with itself")
	}
}

func TestHandlerErrorEndsLoop(t *testing.T) {
	d, _ := newTestWorker(t, func(w *Decoder[*packet, *item], local any) error {
		return errors.New("fatal decode error")
	})
	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("worker loop did not exit after handler error")
	}
	d.Close()
}

func TestFlushClearsQueuesAndReturnsToRunning(t *testing.T) {
	var handled atomic.Int32
	d, _ := newTestWorker(t, func(w *Decoder[*packet, *item], local any) error {
		if _, ok := w.Input().Read(); ok {
			handled.Add(1)
		}
		time.Sleep(time.Millisecond)
		return nil
	})
	defer d.Close()

	d.Input().Write(&packet{n: 1})
	d.Output().Write(&item{n: 1})
	d.RequestFlush()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if d.State() == Running && d.Input().Len() == 0 && d.Output().Len() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("worker did not return to Running with cleared queues after flush")
}

func TestPrepareCloseUnblocksWriterBeforeJoin(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	d, _ := newTestWorker(t, func(w *Decoder[*packet, *item], local any) error {
		once.Do(func() { close(blocked) })
		<-release
		if w.State() != Running {
			return errors.New("closing")
		}
		return nil
	})

	<-blocked

	done := make(chan struct{})
	go func() {
		d.PrepareClose()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PrepareClose blocked")
	}

	close(release)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCloseOnNeverStartedWorkIsClean(t *testing.T) {
	d, sc := newTestWorker(t, func(w *Decoder[*packet, *item], local any) error {
		return errors.New("end immediately")
	})
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sc.closed.Load() {
		t.Fatal("codec context was not closed")
	}
}
