// Command avcoredemo is a minimal host for the avcore pipeline: it opens a
// local audio file, drives a player.Player with a simulated real-time pull
// loop, and logs playback progress until the stream ends or it is
// interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/arvetica/avcore/codec"
	"github.com/arvetica/avcore/codec/refaudio"
	"github.com/arvetica/avcore/player"
	"github.com/arvetica/avcore/source"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <audio-file>\n", os.Args[0])
		os.Exit(2)
	}
	path := os.Args[1]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, log, path); err != nil {
		log.Error("playback failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, path string) error {
	var opened *openResult
	h, err := source.FromPath(path, func(f *os.File) (codec.ContainerDemuxer, source.TagReader, error) {
		demux, tag, res, oerr := openByExtension(f)
		opened = res
		return demux, tag, oerr
	})
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer h.Close()

	cfg := player.Config{
		Log: log,
		// openByExtension already opened the one codec context this demo
		// needs (refaudio adapters are single-stream); OpenCodec just hands
		// it back for the matching stream index, since player.New's
		// contract calls it once per selected stream.
		OpenCodec: func(info source.StreamInfo) (codec.CodecContext, error) {
			if opened == nil || info.Index != opened.streamIndex {
				return nil, fmt.Errorf("avcoredemo: no pre-opened codec context for stream %d", info.Index)
			}
			return opened.codecCtx, nil
		},
	}

	p, err := player.New(ctx, h, cfg)
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	defer p.Close()

	info := p.Info()
	log.Info("playback starting",
		"file", path,
		"audio_codec", info.AudioCodecName,
		"sample_rate", info.Audio.SampleRate,
		"channels", info.Audio.Channels,
	)

	p.Play()
	return pullLoop(ctx, log, p, info)
}

// pullLoop simulates a host audio callback: it drains decoded PCM at
// roughly the rate a sound device would consume it, logging position
// periodically, until the stream stops delivering or the context is
// canceled.
func pullLoop(ctx context.Context, log *slog.Logger, p *player.Player, info player.Info) error {
	bps := info.Audio.BytesPerSecond()
	if bps == 0 {
		bps = 44100 * 2 * 2
	}
	buf := make([]byte, 4096)
	silentPulls := 0
	lastLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			log.Info("playback canceled")
			return nil
		default:
		}

		n, err := p.GetAudioData(buf, 0)
		if err != nil {
			return fmt.Errorf("get audio data: %w", err)
		}
		if n == 0 {
			silentPulls++
			if silentPulls > 200 {
				log.Info("playback finished", "position", p.Position())
				return nil
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		silentPulls = 0

		if time.Since(lastLog) > time.Second {
			log.Info("playing", "position", p.Position())
			lastLog = time.Now()
		}
		time.Sleep(time.Duration(float64(n) / bps * float64(time.Second)))
	}
}

// openResult carries the codec context openByExtension already opened
// alongside the demuxer, so player.Config.OpenCodec can hand it straight
// back instead of opening a second one.
type openResult struct {
	streamIndex int
	codecCtx    codec.CodecContext
}

// openByExtension dispatches to the matching codec/refaudio adapter by
// file extension. Real container/codec discovery belongs to the host, not
// the pipeline core — this is the simplest possible version of that.
func openByExtension(f *os.File) (codec.ContainerDemuxer, source.TagReader, *openResult, error) {
	ext := strings.ToLower(filepath.Ext(f.Name()))

	var demux codec.ContainerDemuxer
	var cc codec.CodecContext
	var err error

	switch ext {
	case ".mp3":
		demux, cc, err = refaudio.OpenMP3(f)
	case ".wav":
		demux, cc, err = refaudio.OpenWAV(f)
	case ".flac":
		demux, cc, err = refaudio.OpenFLAC(f)
	case ".ogg":
		demux, cc, err = refaudio.OpenOggVorbis(f)
	default:
		return nil, nil, nil, fmt.Errorf("avcoredemo: unsupported format %q", ext)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	var tag source.TagReader
	if ext == ".mp3" {
		if t, terr := refaudio.ReadID3Tags(f.Name()); terr == nil {
			tag = t
		}
	}
	return demux, tag, &openResult{streamIndex: 0, codecCtx: cc}, nil
}
