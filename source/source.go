// Package source wraps an opened container (a codec.ContainerDemuxer) and
// tracks which of its streams are selected for audio, video, and subtitle
// playback. It holds no decode state of its own — that belongs to
// worker.Decoder once player.New wires a Handle's selected streams into
// decoders.
package source

import (
	"fmt"
	"io"
	"os"

	"github.com/arvetica/avcore/codec"
)

// StreamType classifies which role a stream plays in a Handle's
// selection, mirroring codec.StreamKind but scoped to what a player
// actually picks one of per type.
type StreamType int

// Recognized stream types.
const (
	Unknown StreamType = iota
	Video
	Audio
	Data
	Subtitle
	Attachment
)

func (t StreamType) String() string {
	switch t {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Data:
		return "data"
	case Subtitle:
		return "subtitle"
	case Attachment:
		return "attachment"
	default:
		return "unknown"
	}
}

func fromKind(k codec.StreamKind) StreamType {
	switch k {
	case codec.KindVideo:
		return Video
	case codec.KindAudio:
		return Audio
	case codec.KindData:
		return Data
	case codec.KindSubtitle:
		return Subtitle
	case codec.KindAttachment:
		return Attachment
	default:
		return Unknown
	}
}

// StreamInfo describes one stream's selection-relevant metadata, plus the
// optional tag-probed fields a file source may supply (title/artist/album
// from ID3v2, for audio files that carry it).
type StreamInfo struct {
	Index     int
	Type      StreamType
	CodecName string
	Title     string
	Artist    string
	Album     string
}

// Handle is an opened container plus the caller's current stream
// selection. The zero value is not usable; construct with FromPath or
// FromReader. A Handle does not own any decoder — player.New reads the
// selection to decide which worker.Decoder instances to create.
type Handle struct {
	demux codec.ContainerDemuxer
	tag   TagReader

	astream int
	vstream int
	sstream int

	closer io.Closer
}

// TagReader probes a file source for descriptive metadata (title, artist,
// album) independent of the container's own stream table, mirroring the
// original's separate ID3v2 read pass over audio files.
type TagReader interface {
	Title() string
	Artist() string
	Album() string
}

// FromReader wraps an already-parsed ContainerDemuxer into a Handle. tag
// may be nil if no metadata probe is available or applicable. Stream
// selection defaults to the best available stream of each type, mirroring
// the original's astream_idx/vstream_idx/sstream_idx defaults.
func FromReader(demux codec.ContainerDemuxer, tag TagReader) (*Handle, error) {
	if demux == nil {
		return nil, fmt.Errorf("source: nil container demuxer")
	}
	h := &Handle{
		demux:   demux,
		tag:     tag,
		astream: -1,
		vstream: -1,
		sstream: -1,
	}
	h.astream = h.bestStream(Audio)
	h.vstream = h.bestStream(Video)
	h.sstream = h.bestStream(Subtitle)
	return h, nil
}

// FromPath opens path as a raw byte source and wraps it with open via the
// supplied opener, which knows how to sniff the file and produce a
// codec.ContainerDemuxer (a file extension/magic-byte dispatch belongs to
// the host application, not this package — see cmd/avcoredemo for an
// example dispatcher). The resulting Handle's Close also closes the
// underlying os.File.
func FromPath(path string, open func(*os.File) (codec.ContainerDemuxer, TagReader, error)) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %q: %w", path, err)
	}
	demux, tag, err := open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: probe %q: %w", path, err)
	}
	h, err := FromReader(demux, tag)
	if err != nil {
		f.Close()
		return nil, err
	}
	h.closer = f
	return h, nil
}

// Close releases the underlying container and, for file-backed Handles,
// the file itself.
func (h *Handle) Close() error {
	err := h.demux.Close()
	if h.closer != nil {
		if cerr := h.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// StreamCount returns the number of elementary streams in the container.
func (h *Handle) StreamCount() int {
	return h.demux.StreamCount()
}

// StreamInfo returns metadata for the stream at index, or an error if the
// index is out of range. Title/Artist/Album are populated only for the
// currently selected audio stream, and only when a TagReader was supplied.
func (h *Handle) StreamInfo(index int) (StreamInfo, error) {
	si, err := h.demux.Stream(index)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("source: %w", err)
	}
	info := StreamInfo{
		Index:     si.Index,
		Type:      fromKind(si.Kind),
		CodecName: si.CodecName,
	}
	if h.tag != nil && index == h.astream {
		info.Title = h.tag.Title()
		info.Artist = h.tag.Artist()
		info.Album = h.tag.Album()
	}
	return info, nil
}

// BestStream returns the index of the first stream of type t, or -1 if
// none exists. "Best" here means "first declared" — the container's own
// ordering is assumed to reflect its author's intended default, matching
// Kit_GetBestSourceStream's behavior of picking the first match.
func (h *Handle) BestStream(t StreamType) int {
	return h.bestStream(t)
}

func (h *Handle) bestStream(t StreamType) int {
	for i := 0; i < h.demux.StreamCount(); i++ {
		si, err := h.demux.Stream(i)
		if err != nil {
			continue
		}
		if fromKind(si.Kind) == t {
			return i
		}
	}
	return -1
}

// SetStream selects index as the active stream for type t. An index of -1
// deselects that type entirely. Returns an error if index refers to a
// stream of a different type, or is out of range.
func (h *Handle) SetStream(t StreamType, index int) error {
	if index != -1 {
		si, err := h.demux.Stream(index)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		if fromKind(si.Kind) != t {
			return fmt.Errorf("source: stream %d is %s, not %s", index, fromKind(si.Kind), t)
		}
	}
	switch t {
	case Audio:
		h.astream = index
	case Video:
		h.vstream = index
	case Subtitle:
		h.sstream = index
	default:
		return fmt.Errorf("source: cannot select stream type %s", t)
	}
	return nil
}

// Stream returns the currently selected stream index for type t, or -1 if
// none is selected (or t is not a selectable type).
func (h *Handle) Stream(t StreamType) int {
	switch t {
	case Audio:
		return h.astream
	case Video:
		return h.vstream
	case Subtitle:
		return h.sstream
	default:
		return -1
	}
}

// Demuxer returns the underlying container demuxer, for wiring into
// demux.Worker. Exported so player.New can construct the routing table
// without source needing to import demux (which would be a cycle, since
// demux only depends on codec).
func (h *Handle) Demuxer() codec.ContainerDemuxer {
	return h.demux
}
