// Package worker implements the generic decoder worker: a long-lived
// goroutine dedicated to one elementary stream, driven by a three-function
// contract (Handle/PTSOf/FreeLocal) supplied by a stream-type
// specialization (audio, video, subtitle). Polymorphism is achieved
// through that contract plus an opaque Local state value, not through
// inheritance — the set of specializations is closed.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/arvetica/avcore/codec"
	"github.com/arvetica/avcore/lasterror"
	"github.com/arvetica/avcore/queue"
)

// State is the decoder worker's lifecycle state, observed by the worker
// goroutine and written by the coordinator (player.Player) without
// additional synchronization beyond the atomic itself — state changes do
// not need to race with in-flight Handle calls; the goroutine picks up the
// new state on its next loop iteration.
type State int32

// Lifecycle states. Running is the only state in which Handle is called.
const (
	Running State = iota
	Flushing
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Flushing:
		return "flushing"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler decodes exactly one input packet already popped from the
// worker's input queue, pushing zero or more decoded items to w.Output
// itself. A non-nil error ends the worker's loop (codec failure or clean
// end of stream).
type Handler[In, Out any] func(w *Decoder[In, Out], local any) error

// Decoder owns one codec.CodecContext, an input queue of In and an output
// queue of Out, and runs a single dedicated goroutine that alternates
// between servicing Handle and honoring Flushing/Closing requests.
type Decoder[In, Out any] struct {
	log       *slog.Logger
	ctx       context.Context
	codecCtx  codec.CodecContext
	input     *queue.Queue[In]
	output    *queue.Queue[Out]
	handle    Handler[In, Out]
	ptsOf     func(Out) float64
	freeLocal func(any)
	local     any

	state State32
	done  chan struct{}
}

// State32 is an atomic wrapper around worker.State, exported so
// specializations and the Player can poll it without importing
// sync/atomic themselves.
type State32 struct{ v atomic.Int32 }

// Load returns the current state.
func (s *State32) Load() State { return State(s.v.Load()) }

// Store sets the state.
func (s *State32) Store(st State) { s.v.Store(int32(st)) }

// CompareAndSwap atomically sets the state to new if it is currently old.
func (s *State32) CompareAndSwap(old, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// Config bundles the construction-time parameters for New.
type Config[In, Out any] struct {
	Log            *slog.Logger
	CodecCtx       codec.CodecContext
	InputCapacity  int
	OutputCapacity int
	FreeInput      func(In)
	FreeOutput     func(Out)
	Handle         Handler[In, Out]
	PTSOf          func(Out) float64
	FreeLocal      func(any)
	Local          any
}

// New validates cfg, allocates both queues, and spawns the worker
// goroutine in the Running state. Validation runs before anything is
// allocated, so an error return leaves nothing to release.
func New[In, Out any](ctx context.Context, cfg Config[In, Out]) (*Decoder[In, Out], error) {
	if cfg.CodecCtx == nil {
		err := fmt.Errorf("worker: nil codec context")
		lasterror.Set("%v", err)
		return nil, err
	}
	if cfg.Handle == nil || cfg.FreeLocal == nil {
		err := fmt.Errorf("worker: handler and free-local callbacks are required")
		lasterror.Set("%v", err)
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "worker", "codec", cfg.CodecCtx.Name())

	d := &Decoder[In, Out]{
		log:       log,
		ctx:       ctx,
		codecCtx:  cfg.CodecCtx,
		input:     queue.New(cfg.InputCapacity, cfg.FreeInput),
		output:    queue.New(cfg.OutputCapacity, cfg.FreeOutput),
		handle:    cfg.Handle,
		ptsOf:     cfg.PTSOf,
		freeLocal: cfg.FreeLocal,
		local:     cfg.Local,
		done:      make(chan struct{}),
	}
	d.state.Store(Running)

	go d.loop()
	return d, nil
}

// Input returns the queue into which compressed packets are written.
func (d *Decoder[In, Out]) Input() *queue.Queue[In] { return d.input }

// Output returns the queue from which decoded items are pulled.
func (d *Decoder[In, Out]) Output() *queue.Queue[Out] { return d.output }

// CodecContext returns the codec context this worker decodes with.
func (d *Decoder[In, Out]) CodecContext() codec.CodecContext { return d.codecCtx }

// Local returns the specialization-owned opaque state passed to Handle and
// FreeLocal, letting package-level helpers (e.g. audio.GetFormat) recover
// their own typed state from a *Decoder without the worker package needing
// to know anything about it.
func (d *Decoder[In, Out]) Local() any { return d.local }

// State returns the worker's current lifecycle state.
func (d *Decoder[In, Out]) State() State { return d.state.Load() }

// RequestFlush moves the worker to Flushing. The worker goroutine clears
// both queues and broadcasts their conditions on its next iteration, then
// returns to Running.
func (d *Decoder[In, Out]) RequestFlush() {
	d.state.Store(Flushing)
}

// loop is the worker goroutine body: check state, flush or run Handle,
// exit when told to close.
func (d *Decoder[In, Out]) loop() {
	defer close(d.done)
	for {
		if d.state.Load() == Flushing {
			d.input.Clear()
			d.output.Clear()
			d.state.CompareAndSwap(Flushing, Running)
		}

		switch d.state.Load() {
		case Running:
			if err := d.handle(d, d.local); err != nil {
				d.log.Debug("handler returned, ending worker loop", "error", err)
				lasterror.Set("worker: %v", err)
				return
			}
		default:
			return
		}
	}
}

// PrepareClose marks the worker Closing and clears both queues, which
// both frees any goroutine parked in Write (a Broadcast alone only wakes
// a blocked Write to recheck "full?" — it stays blocked if nobody actually
// drained the queue, so Clear is what makes release permanent) and drops
// whatever was left queued, since none of it will be read past this point
// anyway. It does not block. Call PrepareClose on every worker before
// Close-ing any of them, so a demuxer blocked writing into a sibling's
// full queue — or a worker blocked writing its own full output queue with
// no pull-side consumer — is released before that worker is joined; this
// ordering is what avoids a teardown deadlock across multiple workers.
func (d *Decoder[In, Out]) PrepareClose() {
	d.state.Store(Closing)
	d.input.Clear()
	d.output.Clear()
}

// Close joins the worker goroutine, frees specialization-local state,
// drains both queues, and closes the codec context. It sets Closing and
// clears both queues itself before joining, so it also works on a worker
// that was never PrepareClose'd; calling it twice is not supported.
func (d *Decoder[In, Out]) Close() error {
	d.state.Store(Closing)
	d.input.Clear()
	d.output.Clear()
	<-d.done

	d.freeLocal(d.local)
	d.input.Clear()
	d.output.Clear()
	return d.codecCtx.Close()
}
