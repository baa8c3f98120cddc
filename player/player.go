// Package player coordinates a source.Handle's selected streams into a
// running set of decoder workers, maintains the presentation clock that
// ties them together, and exposes the pull APIs a host render loop calls
// every frame. It owns every worker.Decoder and the demux.Worker it
// creates; it does not own the source.Handle itself.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/zsiec/ccx"

	"github.com/arvetica/avcore/audio"
	"github.com/arvetica/avcore/codec"
	"github.com/arvetica/avcore/codec/ccxcaptions"
	"github.com/arvetica/avcore/demux"
	"github.com/arvetica/avcore/lasterror"
	"github.com/arvetica/avcore/source"
	"github.com/arvetica/avcore/subtitle"
	"github.com/arvetica/avcore/video"
	"github.com/arvetica/avcore/worker"
	"golang.org/x/sync/errgroup"
)

// State is the player's playback state machine, independent of any single
// decoder's lifecycle state.
type State int32

// Playback states.
const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// Config bundles the external collaborators a Player needs beyond the
// source.Handle: codec decode contexts are opened per selected stream by
// OpenCodec (decode implementations are supplied by the host, never by
// this package), and the sample/pixel conversion math is supplied the
// same way the audio/video packages require.
type Config struct {
	Log *slog.Logger

	// OpenCodec opens a decode context for the given stream. Called once
	// per selected stream (audio/video/subtitle) during New.
	OpenCodec func(info source.StreamInfo) (codec.CodecContext, error)

	SampleConverter codec.SampleConverter

	PixelConverter    codec.PixelConverter
	VideoWidth        int
	VideoHeight       int
	SourceDescription string

	// SubtitleStyler is optional; nil means styled-text subtitle events
	// are dropped (bitmap rectangles still work), per SPEC_FULL.md's
	// subtitle integration decision.
	SubtitleStyler codec.SubtitleStyler

	// DecodeCaptions enables CEA-608/708 closed-caption extraction from
	// the video stream's own SEI NAL units, alongside (not instead of)
	// whatever container subtitle stream is selected. Every video access
	// unit is scanned in addition to being handed to the video decoder;
	// captions are a genuinely separate signal path from styled-text
	// subtitles, so they surface on Player.Captions rather than through
	// GetSubtitleData.
	DecodeCaptions bool
}

// Info reports static, read-only facts about the streams a Player was
// constructed with, mirroring Kit_GetPlayerInfo.
type Info struct {
	AudioCodecName    string
	VideoCodecName    string
	SubtitleCodecName string
	Audio             audio.Format
	Video             video.Format
	Subtitle          subtitle.Format
}

// durationer is implemented by a codec.ContainerDemuxer that can report
// the container's total duration; most cannot, since duration parsing is
// a container-format concern this core does not implement.
type durationer interface {
	Duration() time.Duration
}

// Player coordinates up to three decoder workers and the demux.Worker
// feeding them, behind a single presentation clock.
type Player struct {
	log *slog.Logger
	src *source.Handle

	audioDec    *audio.Decoder
	videoDec    *video.Decoder
	subtitleDec *subtitle.Decoder
	demuxer     *demux.Worker
	captionDec  *ccxcaptions.Decoder

	mu         sync.Mutex
	state      State
	clockSync  time.Time
	pauseStart time.Time
}

// New opens decoders for every stream source.Handle currently has
// selected, wires them behind a single demux.Worker, and returns a Player
// in the Stopped state. On a construction error the decoders already
// created are closed; the source itself is left alone — the caller still
// owns the Handle and may retry or close it.
func New(ctx context.Context, h *source.Handle, cfg Config) (*Player, error) {
	if h == nil {
		err := fmt.Errorf("player: nil source handle")
		lasterror.Set("%v", err)
		return nil, err
	}
	if cfg.OpenCodec == nil {
		err := fmt.Errorf("player: OpenCodec is required")
		lasterror.Set("%v", err)
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "player")

	p := &Player{log: log, src: h, state: Stopped}
	routes := make(map[int]func(codec.Packet))

	if idx := h.Stream(source.Audio); idx != -1 {
		dec, err := p.openAudio(ctx, log, h, idx, cfg)
		if err != nil {
			return nil, err
		}
		p.audioDec = dec
		routes[idx] = func(pkt codec.Packet) { dec.Input().Write(&pkt) }
	}
	if idx := h.Stream(source.Video); idx != -1 {
		dec, err := p.openVideo(ctx, log, h, idx, cfg)
		if err != nil {
			p.closeDecoders()
			return nil, err
		}
		p.videoDec = dec
		if cfg.DecodeCaptions {
			p.captionDec = ccxcaptions.NewDecoder(64)
		}
		routes[idx] = func(pkt codec.Packet) {
			if p.captionDec != nil {
				p.captionDec.Feed(pkt.Data, pkt.PTS)
			}
			dec.Input().Write(&pkt)
		}
	}
	if idx := h.Stream(source.Subtitle); idx != -1 {
		dec, err := p.openSubtitle(ctx, log, h, idx, cfg)
		if err != nil {
			p.closeDecoders()
			return nil, err
		}
		p.subtitleDec = dec
		routes[idx] = func(pkt codec.Packet) { dec.Input().Write(&pkt) }
	}

	demuxer, err := demux.New(h.Demuxer(), routes, demux.WithLogger(log))
	if err != nil {
		p.closeDecoders()
		lasterror.Set("player: %v", err)
		return nil, fmt.Errorf("player: %w", err)
	}
	p.demuxer = demuxer

	return p, nil
}

func (p *Player) openAudio(ctx context.Context, log *slog.Logger, h *source.Handle, idx int, cfg Config) (*audio.Decoder, error) {
	info, err := h.StreamInfo(idx)
	if err != nil {
		lasterror.Set("player: audio stream info: %v", err)
		return nil, fmt.Errorf("player: audio stream info: %w", err)
	}
	cc, err := cfg.OpenCodec(info)
	if err != nil {
		lasterror.Set("player: open audio codec: %v", err)
		return nil, fmt.Errorf("player: open audio codec: %w", err)
	}
	dec, err := audio.New(log, cc, idx, cfg.SampleConverter)
	if err != nil {
		cc.Close()
		lasterror.Set("player: %v", err)
		return nil, fmt.Errorf("player: %w", err)
	}
	return dec, nil
}

func (p *Player) openVideo(ctx context.Context, log *slog.Logger, h *source.Handle, idx int, cfg Config) (*video.Decoder, error) {
	info, err := h.StreamInfo(idx)
	if err != nil {
		lasterror.Set("player: video stream info: %v", err)
		return nil, fmt.Errorf("player: video stream info: %w", err)
	}
	cc, err := cfg.OpenCodec(info)
	if err != nil {
		lasterror.Set("player: open video codec: %v", err)
		return nil, fmt.Errorf("player: open video codec: %w", err)
	}
	dec, err := video.New(log, cc, idx, cfg.VideoWidth, cfg.VideoHeight, cfg.SourceDescription, cfg.PixelConverter)
	if err != nil {
		cc.Close()
		lasterror.Set("player: %v", err)
		return nil, fmt.Errorf("player: %w", err)
	}
	return dec, nil
}

func (p *Player) openSubtitle(ctx context.Context, log *slog.Logger, h *source.Handle, idx int, cfg Config) (*subtitle.Decoder, error) {
	info, err := h.StreamInfo(idx)
	if err != nil {
		lasterror.Set("player: subtitle stream info: %v", err)
		return nil, fmt.Errorf("player: subtitle stream info: %w", err)
	}
	cc, err := cfg.OpenCodec(info)
	if err != nil {
		lasterror.Set("player: open subtitle codec: %v", err)
		return nil, fmt.Errorf("player: open subtitle codec: %w", err)
	}
	dec, err := subtitle.New(log, cc, idx, cfg.SubtitleStyler)
	if err != nil {
		cc.Close()
		lasterror.Set("player: %v", err)
		return nil, fmt.Errorf("player: %w", err)
	}
	return dec, nil
}

// closeDecoders tears down whichever decoders were already created,
// during a failed New. It does not touch p.demuxer, which is never set
// before every decoder has succeeded.
func (p *Player) closeDecoders() {
	if p.audioDec != nil {
		p.audioDec.PrepareClose()
	}
	if p.videoDec != nil {
		p.videoDec.PrepareClose()
	}
	if p.subtitleDec != nil {
		p.subtitleDec.PrepareClose()
	}
	if p.audioDec != nil {
		p.audioDec.Close()
	}
	if p.videoDec != nil {
		p.videoDec.Close()
	}
	if p.subtitleDec != nil {
		p.subtitleDec.Close()
	}
	if p.captionDec != nil {
		p.captionDec.Close()
	}
}

// Captions returns the channel decoded CEA-608/708 caption text arrives
// on, or nil if Config.DecodeCaptions was false or there is no video
// stream.
func (p *Player) Captions() <-chan *ccx.CaptionFrame {
	if p.captionDec == nil {
		return nil
	}
	return p.captionDec.Captions()
}

// Close tears the player down in the only order that can't deadlock under
// backpressure: PrepareClose on every decoder first (clearing their
// queues, which releases the demuxer if it is currently blocked writing
// into one of them), then the demuxer (its loop can now observe Closing
// and return), then Close on each decoder to join its goroutine. Closing
// the demuxer before the decoders are prepared risks waiting forever on a
// write that nothing would ever unblock.
func (p *Player) Close() error {
	if p.audioDec != nil {
		p.audioDec.PrepareClose()
	}
	if p.videoDec != nil {
		p.videoDec.PrepareClose()
	}
	if p.subtitleDec != nil {
		p.subtitleDec.PrepareClose()
	}

	if p.demuxer != nil {
		if err := p.demuxer.Close(); err != nil {
			p.log.Debug("demuxer close returned error", "error", err)
			lasterror.Set("player: demuxer close: %v", err)
		}
	}
	if p.captionDec != nil {
		p.captionDec.Close()
	}

	var g errgroup.Group
	if p.audioDec != nil {
		g.Go(p.audioDec.Close)
	}
	if p.videoDec != nil {
		g.Go(p.videoDec.Close)
	}
	if p.subtitleDec != nil {
		g.Go(p.subtitleDec.Close)
	}
	return g.Wait()
}

func wallNow() time.Time { return time.Now() }

// Play starts or resumes playback. From Stopped, the presentation clock
// anchors to now; from Paused, the clock is advanced by however long
// playback was paused, so media time does not jump. From Playing, it is
// a no-op.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Playing:
		return
	case Stopped:
		p.clockSync = wallNow()
	case Paused:
		p.clockSync = p.clockSync.Add(wallNow().Sub(p.pauseStart))
	}
	p.state = Playing
}

// Pause freezes the presentation clock in place. Pull APIs return 0/empty
// while paused, regardless of queue contents.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Playing {
		return
	}
	p.pauseStart = wallNow()
	p.state = Paused
}

// Stop halts playback; a subsequent Play re-anchors the clock to now,
// matching Kit_PlayerPlay's KIT_STOPPED branch.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Stopped
}

// State returns the player's current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the current media-time position: how far into
// playback the presentation clock has advanced. While paused, position
// is frozen at the moment Pause was called.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Stopped:
		return 0
	case Paused:
		return p.pauseStart.Sub(p.clockSync)
	default:
		return wallNow().Sub(p.clockSync)
	}
}

// Duration returns the container's total duration if the underlying
// codec.ContainerDemuxer reports one, or 0 if it does not (duration
// parsing is a container-format concern outside this core's scope; see
// the durationer optional interface).
func (p *Player) Duration() time.Duration {
	if d, ok := p.src.Demuxer().(durationer); ok {
		return d.Duration()
	}
	return 0
}

// SeekTo flushes every active decoder's queues and resets the
// presentation clock to target. It does not reposition the underlying
// container's read cursor — that remains the host's responsibility
// (container-level seeking is out of this core's scope, per SPEC_FULL.md);
// SeekTo only resynchronizes the clock that was already in scope here.
// Flushing is synchronous: SeekTo does not return until every decoder has
// cycled back to worker.Running.
func (p *Player) SeekTo(target time.Duration) {
	p.mu.Lock()
	p.clockSync = wallNow().Add(-target)
	if p.state == Paused {
		p.pauseStart = wallNow()
	}
	p.mu.Unlock()

	for _, dec := range p.activeDecoders() {
		dec.RequestFlush()
	}
	for _, dec := range p.activeDecoders() {
		for dec.State() == worker.Flushing {
			runtime.Gosched()
		}
	}
}

// decoderLike exposes just enough of worker.Decoder[In, Out] for SeekTo
// to drive every active decoder's flush cycle without needing separate
// code paths per stream type. Any instantiation of worker.Decoder
// satisfies this, since RequestFlush/State's signatures don't mention the
// type parameters.
type decoderLike interface {
	RequestFlush()
	State() worker.State
}

func (p *Player) activeDecoders() []decoderLike {
	var out []decoderLike
	if p.audioDec != nil {
		out = append(out, p.audioDec)
	}
	if p.videoDec != nil {
		out = append(out, p.videoDec)
	}
	if p.subtitleDec != nil {
		out = append(out, p.subtitleDec)
	}
	return out
}

// GetVideoData pulls one video frame, if one is due, into tex. It returns
// (false, nil) immediately if there is no video stream, the player is not
// Playing, or no frame is currently due.
func (p *Player) GetVideoData(tex video.Texture) (bool, error) {
	if p.videoDec == nil {
		return false, nil
	}
	if p.State() != Playing {
		return false, nil
	}
	return video.GetData(p.videoDec, p.snapshotClockSync(), tex)
}

// GetAudioData pulls up to len(buf) bytes of converted PCM into buf,
// synchronized to the presentation clock. It returns 0 immediately if
// there is no audio stream or the player is not Playing.
func (p *Player) GetAudioData(buf []byte, curBufLen int) (int, error) {
	if p.audioDec == nil {
		return 0, nil
	}
	if p.State() != Playing {
		return 0, nil
	}
	return audio.GetData(p.audioDec, p.snapshotClockSync(), buf, curBufLen)
}

// GetSubtitleData returns every subtitle rectangle currently active at
// the presentation clock's media time. It returns nil immediately if
// there is no subtitle stream or the player is not Playing.
func (p *Player) GetSubtitleData() []subtitle.Rect {
	if p.subtitleDec == nil {
		return nil
	}
	if p.State() != Playing {
		return nil
	}
	return subtitle.GetData(p.subtitleDec, p.snapshotClockSync())
}

func (p *Player) snapshotClockSync() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clockSync
}

// Info reports static facts about the streams this Player was
// constructed with.
func (p *Player) Info() Info {
	var info Info
	if p.audioDec != nil {
		info.AudioCodecName = p.audioDec.CodecContext().Name()
		info.Audio = audio.GetFormat(p.audioDec)
	}
	if p.videoDec != nil {
		info.VideoCodecName = p.videoDec.CodecContext().Name()
		info.Video = video.GetFormat(p.videoDec)
	}
	if p.subtitleDec != nil {
		info.SubtitleCodecName = p.subtitleDec.CodecContext().Name()
		info.Subtitle = subtitle.GetFormat(p.subtitleDec)
	}
	return info
}
