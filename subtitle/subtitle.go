// Package subtitle specializes the generic decoder worker for subtitle
// streams. Unlike audio/video, decoded subtitles don't drain through the
// worker's FIFO output queue: multiple events with different lifetimes can
// be active at once, so the specialization instead maintains its own
// mutex-protected active set that the render thread queries directly.
package subtitle

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/arvetica/avcore/codec"
	"github.com/arvetica/avcore/lasterror"
	"github.com/arvetica/avcore/worker"
)

// Format is the read-only snapshot of the subtitle stream, populated once
// at worker creation.
type Format struct {
	StreamIndex int
	Enabled     bool
}

// Rect is one positioned subtitle image with its validity window. PTSEnd
// of -1 means "valid until the next subtitle event arrives" rather than a
// fixed expiry — the original encodes this as a saturated display-time
// field in the container.
type Rect struct {
	PTSStart float64
	PTSEnd   float64 // -1: valid until next event
	X, Y, W, H int
	RGBA     []byte
	IsStyled bool
}

// activeUntilNext reports whether r has no fixed end time.
func (r Rect) activeUntilNext() bool { return r.PTSEnd < 0 }

type activeSet struct {
	mu    sync.Mutex
	rects []Rect
}

func (a *activeSet) replaceAll(rects []Rect) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rects = rects
}

func (a *activeSet) augment(rects []Rect) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.rects[:0:0]
	for _, r := range a.rects {
		if !r.activeUntilNext() {
			kept = append(kept, r)
		}
	}
	a.rects = append(kept, rects...)
}

// snapshotActive returns every rect in the active set whose window
// contains tSeconds.
func (a *activeSet) snapshotActive(tSeconds float64) []Rect {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Rect, 0, len(a.rects))
	for _, r := range a.rects {
		if r.PTSStart > tSeconds {
			continue
		}
		if !r.activeUntilNext() && r.PTSEnd < tSeconds {
			continue
		}
		out = append(out, r)
	}
	return out
}

type local struct {
	format Format
	styler codec.SubtitleStyler // nil: bitmap-only, no styled-text rendering
	active *activeSet
	now    func() time.Time
	log    *slog.Logger
}

// Decoder is a worker.Decoder specialized for one subtitle stream. Its
// output queue is unused; decoded rects flow directly into the active set
// inside Handle instead of through Output().
type Decoder = worker.Decoder[*codec.Packet, struct{}]

// New creates a subtitle decoder worker for streamIndex. styler may be nil,
// in which case styled-text rectangles are dropped (bitmap-only
// degradation) rather than causing an error. Input queue capacity is 1:
// subtitle events are sparse and low-rate, so no meaningful backlog should
// ever build up.
func New(log *slog.Logger, cc codec.CodecContext, streamIndex int, styler codec.SubtitleStyler) (*Decoder, error) {
	if log == nil {
		log = slog.Default()
	}

	l := &local{
		format: Format{StreamIndex: streamIndex, Enabled: true},
		styler: styler,
		active: &activeSet{},
		now:    time.Now,
		log:    log.With("component", "subtitle"),
	}

	return worker.New(nil, worker.Config[*codec.Packet, struct{}]{
		Log:            log,
		CodecCtx:       cc,
		InputCapacity:  1,
		OutputCapacity: 1,
		FreeInput:      func(*codec.Packet) {},
		FreeOutput:     func(struct{}) {},
		Handle:         handle,
		PTSOf:          func(struct{}) float64 { return 0 },
		FreeLocal: func(any) {
			if styler != nil {
				_ = styler.Close()
			}
		},
		Local: l,
	})
}

// GetFormat returns the format snapshot for this decoder.
func GetFormat(d *Decoder) Format {
	return localOf(d).format
}

func localOf(d *Decoder) *local {
	return d.Local().(*local)
}

// handle pulls one compressed subtitle packet, decodes it into rects, and
// updates the active set: a packet containing any styled-text rect
// replaces the entire active set (libass-style tracks are self-contained
// and supersede prior state), while a bitmap-only packet augments it,
// evicting only the rects flagged "valid until next".
func handle(w *Decoder, localAny any) error {
	l := localAny.(*local)
	pkt, ok := w.Input().Read()
	if !ok {
		return nil
	}

	if err := w.CodecContext().SendPacket(pkt.Data); err != nil {
		lasterror.Set("subtitle: send packet: %v", err)
		return fmt.Errorf("subtitle: send packet: %w", err)
	}

	pts := pkt.Seconds(pkt.DTS)
	var bitmapRects, styledRects []Rect

	for {
		frame, err := w.CodecContext().ReceiveFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			lasterror.Set("subtitle: receive frame: %v", err)
			return fmt.Errorf("subtitle: receive frame: %w", err)
		}

		rect, styled := decodeFrameRect(frame, pts)
		if styled {
			if l.styler == nil {
				l.log.Debug("dropping styled subtitle rect: no styler configured")
				continue
			}
			styledRects = append(styledRects, rect)
		} else {
			bitmapRects = append(bitmapRects, rect)
		}
	}

	if len(styledRects) > 0 && l.styler != nil {
		rendered, err := l.styler.Render(pts)
		if err != nil {
			lasterror.Set("subtitle: render styled text: %v", err)
			return fmt.Errorf("subtitle: render styled text: %w", err)
		}
		styled := make([]Rect, 0, len(rendered))
		for _, r := range rendered {
			styled = append(styled, Rect{
				PTSStart: pts, PTSEnd: -1,
				X: r.X, Y: r.Y, W: r.W, H: r.H, RGBA: r.RGBA, IsStyled: true,
			})
		}
		l.active.replaceAll(styled)
	} else if len(bitmapRects) > 0 {
		l.active.augment(bitmapRects)
	}
	return nil
}

// decodeFrameRect extracts a single subtitle rectangle's geometry and
// pixels from a decoded frame. A real CodecContext adapter populates
// Frame.Width/Height/Planes for bitmap rects. A frame with no planes is
// treated as a styled-text rect: adapters that decode styled formats
// leave Planes empty so handle() routes the event through the styler
// instead of displaying raw pixels.
//
// PTSStart/PTSEnd are derived from the frame's StartDisplayTime/
// EndDisplayTime offsets (milliseconds relative to pts), not the packet's
// raw pts: a subtitle event's own display window can start after and end
// well before the packet that carries it.
func decodeFrameRect(frame codec.Frame, pts float64) (Rect, bool) {
	ptsStart := pts + float64(frame.StartDisplayTime)*0.001
	ptsEnd := -1.0
	if frame.EndDisplayTime != codec.NoEndDisplayTime {
		ptsEnd = pts + float64(frame.EndDisplayTime)*0.001
	}

	if len(frame.Planes) == 0 {
		return Rect{PTSStart: ptsStart, PTSEnd: ptsEnd, IsStyled: true}, true
	}
	return Rect{
		PTSStart: ptsStart,
		PTSEnd:   ptsEnd,
		W:        frame.Width,
		H:        frame.Height,
		RGBA:     frame.Planes[0],
		IsStyled: false,
	}, false
}

// GetData returns every subtitle rectangle active at the player's current
// media time. It never blocks: it takes a brief lock on the active set and
// returns a snapshot.
func GetData(d *Decoder, clockSync time.Time) []Rect {
	l := localOf(d)
	tSeconds := l.now().Sub(clockSync).Seconds()
	return l.active.snapshotActive(tSeconds)
}
