// Package demux implements the demuxer worker: a single goroutine that
// reads packets from a container and fans them out, by stream index, to
// the matching decoder worker's input queue.
package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/arvetica/avcore/codec"
	"github.com/arvetica/avcore/lasterror"
)

// State is the demuxer's lifecycle state. There is no Flushing state — on
// seek, the decoders own flushing their own queues; the demuxer only ever
// runs or closes.
type State int32

// Lifecycle states.
const (
	Running State = iota
	Closing
)

func (s State) String() string {
	if s == Closing {
		return "closing"
	}
	return "running"
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// Worker reads packets from one codec.ContainerDemuxer and routes them to
// registered decoder input queues until the container is exhausted, a read
// error occurs, or it is told to close.
type Worker struct {
	log    *slog.Logger
	src    codec.ContainerDemuxer
	routes map[int]func(codec.Packet)

	state atomic.Int32
	done  chan struct{}
	errCh chan error
}

// New creates a demuxer worker over src. routes maps a stream index to the
// write function of the decoder that should receive its packets; a packet
// whose stream index has no route is silently dropped (the original
// ignores streams the caller never opened a decoder for).
func New(src codec.ContainerDemuxer, routes map[int]func(codec.Packet), opts ...Option) (*Worker, error) {
	if src == nil {
		err := fmt.Errorf("demux: nil container demuxer")
		lasterror.Set("%v", err)
		return nil, err
	}
	w := &Worker{
		log:    slog.Default(),
		src:    src,
		routes: routes,
		done:   make(chan struct{}),
		errCh:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("component", "demux")

	go w.loop()
	return w, nil
}

// State returns the demuxer's current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Done returns a channel closed once the worker's loop has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err returns the error that ended the loop, if any (nil on a clean EOF or
// on a requested close).
func (w *Worker) Err() error {
	select {
	case err := <-w.errCh:
		w.errCh <- err
		return err
	default:
		return nil
	}
}

// loop reads one packet at a time from the container and writes it into
// the matching decoder's input queue. Writing blocks on backpressure: this
// is intentional, it is how the whole pipeline applies flow control
// upstream from the decoders.
func (w *Worker) loop() {
	defer close(w.done)
	for {
		if State(w.state.Load()) == Closing {
			return
		}

		pkt, err := w.src.ReadPacket()
		if errors.Is(err, io.EOF) {
			w.log.Debug("container exhausted")
			return
		}
		if err != nil {
			w.log.Debug("read packet failed, ending demuxer loop", "error", err)
			lasterror.Set("demux: read packet: %v", err)
			select {
			case w.errCh <- fmt.Errorf("demux: read packet: %w", err):
			default:
			}
			return
		}

		write, ok := w.routes[pkt.StreamIndex]
		if !ok {
			continue
		}
		write(pkt) // blocks if the target decoder's input queue is full
	}
}

// Close signals the demuxer to stop after its current packet and waits for
// its goroutine to return. If the loop is currently blocked writing into a
// decoder's full input queue, that write only returns once the queue has
// space or is cleared — so call PrepareClose on every decoder worker
// first. Closing the demuxer before that can deadlock here waiting for a
// write that nothing will ever unblock.
func (w *Worker) Close() error {
	w.state.Store(int32(Closing))
	<-w.done
	return w.src.Close()
}
