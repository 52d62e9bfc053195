package metadata

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songmap/pkg/models"
)

func newTestExtractor() *Extractor {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewExtractor([]string{".flac", ".mp3", ".wav", ".m4a"}, logger)
}

func writeWAV(t *testing.T, path string, seconds int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	const sampleRate = 8000
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, sampleRate*seconds),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func TestExtractWAVFallsBackToFilename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Quiet Song.wav")
	writeWAV(t, path, 2)

	track, err := newTestExtractor().ExtractFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Quiet Song", track.Title)
	assert.Equal(t, models.UnknownArtist, track.Artist)
	assert.Equal(t, UnknownAlbum, track.Album)
	assert.Equal(t, 2, track.Duration)
	assert.Equal(t, path, track.FilePath)
}

func atom(name string, payload []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.BigEndian, uint32(8+len(payload)))
	b.WriteString(name)
	b.Write(payload)
	return b.Bytes()
}

func TestDurationM4A(t *testing.T) {
	var mvhd bytes.Buffer
	mvhd.WriteByte(0)             // version
	mvhd.Write(make([]byte, 3+8)) // flags, creation and modification times
	binary.Write(&mvhd, binary.BigEndian, uint32(1000))
	binary.Write(&mvhd, binary.BigEndian, uint32(3500))

	var file bytes.Buffer
	file.Write(atom("ftyp", []byte("M4A \x00\x00\x00\x00")))
	file.Write(atom("moov", append(atom("trak", make([]byte, 4)), atom("mvhd", mvhd.Bytes())...)))

	path := filepath.Join(t.TempDir(), "song.m4a")
	require.NoError(t, os.WriteFile(path, file.Bytes(), 0o644))

	secs, err := durationM4A(path)
	require.NoError(t, err)
	assert.Equal(t, 4, secs)

	require.NoError(t, os.WriteFile(path, atom("ftyp", []byte("M4A ")), 0o644))
	_, err = durationM4A(path)
	assert.Error(t, err)
}

func TestIsAudioFile(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		path string
		want bool
	}{
		{"song.mp3", true},
		{"song.FLAC", true},
		{"dir/song.wav", true},
		{"cover.jpg", false},
		{"noext", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, e.IsAudioFile(tt.path))
		})
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, err := newTestExtractor().ExtractFromFile(filepath.Join(t.TempDir(), "missing.mp3"))
	assert.Error(t, err)
}
