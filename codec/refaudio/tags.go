package refaudio

import (
	"strings"

	"github.com/bogem/id3v2/v2"
)

// id3Tags implements source.TagReader over an already-parsed ID3v2 tag.
type id3Tags struct {
	title, artist, album string
}

func (t id3Tags) Title() string  { return t.title }
func (t id3Tags) Artist() string { return t.artist }
func (t id3Tags) Album() string  { return t.album }

// ReadID3Tags reads ID3v2 tags from the file at path. A missing or
// untagged file is not an error: it yields a zero-value TagReader, since
// most containers simply have no metadata to offer.
func ReadID3Tags(path string) (id3Tags, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return id3Tags{}, nil
	}
	defer tag.Close()
	return id3Tags{
		title:  strings.TrimSpace(tag.Title()),
		artist: strings.TrimSpace(tag.Artist()),
		album:  strings.TrimSpace(tag.Album()),
	}, nil
}
