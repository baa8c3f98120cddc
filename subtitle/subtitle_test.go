package subtitle

import (
	"io"
	"testing"
	"time"

	"github.com/arvetica/avcore/codec"
)

type fakeCodec struct {
	frames []codec.Frame
	i      int
}

func (c *fakeCodec) Name() string    { return "fake" }
func (c *fakeCodec) SampleRate() int { return 0 }
func (c *fakeCodec) Channels() int   { return 0 }
func (c *fakeCodec) SendPacket([]byte) error { return nil }
func (c *fakeCodec) ReceiveFrame() (codec.Frame, error) {
	if c.i >= len(c.frames) {
		return codec.Frame{}, io.EOF
	}
	f := c.frames[c.i]
	c.i++
	return f, nil
}
func (c *fakeCodec) Close() error { return nil }

type fakeStyler struct {
	rendered []codec.SubtitleRect
	closed   bool
}

func (s *fakeStyler) Render(float64) ([]codec.SubtitleRect, error) { return s.rendered, nil }
func (s *fakeStyler) Close() error                                 { s.closed = true; return nil }

func bitmapFrame(w, h int) codec.Frame {
	return codec.Frame{Planes: [][]byte{make([]byte, w*h*4)}, Width: w, Height: h}
}

func styledFrame() codec.Frame {
	return codec.Frame{}
}

func TestAugmentEvictsUntilNextRects(t *testing.T) {
	a := &activeSet{}
	a.augment([]Rect{{PTSStart: 0, PTSEnd: -1}})
	if len(a.rects) != 1 {
		t.Fatalf("expected 1 rect, got %d", len(a.rects))
	}
	a.augment([]Rect{{PTSStart: 1, PTSEnd: -1}})
	if len(a.rects) != 1 {
		t.Fatalf("expected augment to evict the prior until-next rect, got %d rects", len(a.rects))
	}
	if a.rects[0].PTSStart != 1 {
		t.Fatalf("expected the newer rect to survive, got PTSStart=%v", a.rects[0].PTSStart)
	}
}

func TestAugmentKeepsFixedEndRects(t *testing.T) {
	a := &activeSet{}
	a.augment([]Rect{{PTSStart: 0, PTSEnd: 5}})
	a.augment([]Rect{{PTSStart: 1, PTSEnd: -1}})
	if len(a.rects) != 2 {
		t.Fatalf("expected fixed-end rect to survive augment, got %d rects", len(a.rects))
	}
}

func TestSnapshotActiveFiltersByWindow(t *testing.T) {
	a := &activeSet{}
	a.replaceAll([]Rect{
		{PTSStart: 0, PTSEnd: 2},
		{PTSStart: 3, PTSEnd: -1},
		{PTSStart: 10, PTSEnd: 20},
	})
	active := a.snapshotActive(1)
	if len(active) != 1 {
		t.Fatalf("expected exactly 1 active rect at t=1, got %d", len(active))
	}
}

func TestHandleBitmapAugmentsActiveSet(t *testing.T) {
	sc := &fakeCodec{frames: []codec.Frame{bitmapFrame(4, 4)}}
	d, err := New(nil, sc, 2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	d.Input().Write(&codec.Packet{DTS: 0, Timebase: time.Second})
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(localOf(d).active.snapshotActive(0)) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected bitmap rect to appear in active set")
}

func TestHandleDropsStyledRectsWithoutStyler(t *testing.T) {
	sc := &fakeCodec{frames: []codec.Frame{styledFrame()}}
	d, err := New(nil, sc, 2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	d.Input().Write(&codec.Packet{DTS: 0, Timebase: time.Second})
	time.Sleep(50 * time.Millisecond)
	if len(localOf(d).active.snapshotActive(0)) != 0 {
		t.Fatal("expected styled rect to be dropped when no styler is configured")
	}
}

func TestHandleStyledRectRendersAndReplacesActiveSet(t *testing.T) {
	sc := &fakeCodec{frames: []codec.Frame{styledFrame()}}
	styler := &fakeStyler{rendered: []codec.SubtitleRect{{X: 1, Y: 2, W: 3, H: 4, RGBA: []byte{1}}}}
	d, err := New(nil, sc, 2, styler)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.Input().Write(&codec.Packet{DTS: 0, Timebase: time.Second})
	deadline := time.Now().Add(time.Second)
	var active []Rect
	for time.Now().Before(deadline) {
		active = localOf(d).active.snapshotActive(0)
		if len(active) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(active) != 1 || !active[0].IsStyled {
		t.Fatalf("expected one styled rect, got %+v", active)
	}

	d.Close()
	if !styler.closed {
		t.Fatal("expected styler to be closed on worker teardown")
	}
}

func TestGetDataReturnsEmptyWithNoEvents(t *testing.T) {
	sc := &fakeCodec{}
	d, err := New(nil, sc, 2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()
	rects := GetData(d, time.Now())
	if len(rects) != 0 {
		t.Fatalf("expected no active rects, got %d", len(rects))
	}
}
