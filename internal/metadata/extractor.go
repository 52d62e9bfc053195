// Package metadata reads title, artist, album and duration from audio files.
package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"

	"songmap/pkg/models"
)

// UnknownAlbum groups tracks without an album tag
const UnknownAlbum = "Unknown Album"

// Extractor handles metadata extraction from audio files
type Extractor struct {
	supportedFormats []string
	logger           *logrus.Logger
}

// NewExtractor creates a new metadata extractor
func NewExtractor(supportedFormats []string, logger *logrus.Logger) *Extractor {
	return &Extractor{
		supportedFormats: supportedFormats,
		logger:           logger,
	}
}

// ExtractFromFile reads a track's tags and duration. Files without readable
// tags fall back to the file name as title.
func (e *Extractor) ExtractFromFile(filePath string) (models.Track, error) {
	startTime := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		return models.Track{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	duration, err := e.calculateDuration(filePath)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Warn("Failed to calculate duration, setting to 0")
		duration = 0
	}

	fallbackTitle := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	track := models.Track{
		Title:    fallbackTitle,
		Artist:   models.UnknownArtist,
		Album:    UnknownAlbum,
		Duration: duration,
		FilePath: filePath,
	}

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Warn("Failed to extract metadata, using filename")
		return track, nil
	}

	if title := strings.TrimSpace(metadata.Title()); title != "" {
		track.Title = title
	}
	if artist := strings.TrimSpace(metadata.Artist()); artist != "" {
		track.Artist = artist
	}
	if album := strings.TrimSpace(metadata.Album()); album != "" {
		track.Album = album
	}
	track.TrackNumber, _ = metadata.Track()

	e.logger.WithFields(logrus.Fields{
		"file_path":       filePath,
		"title":           track.Title,
		"artist":          track.Artist,
		"album":           track.Album,
		"duration":        duration,
		"processing_time": time.Since(startTime),
	}).Debug("Successfully extracted metadata")

	return track, nil
}

// calculateDuration calculates the duration of an audio file in seconds
func (e *Extractor) calculateDuration(filePath string) (int, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3":
		return durationMP3(filePath)
	case ".flac":
		return durationFLAC(filePath)
	case ".wav":
		return durationWAV(filePath)
	case ".m4a":
		return durationM4A(filePath)
	default:
		return 0, fmt.Errorf("unsupported format: %s", ext)
	}
}

// durationMP3 sums decoded frame durations, estimating from file size when
// no frame decodes.
func durationMP3(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			return estimateFromFileSize(f, 192000)
		}
		total += fr.Duration()
		frames++
	}
	return int(total.Seconds()), nil
}

// durationFLAC reads the STREAMINFO block
func durationFLAC(path string) (int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples == 0 || si.SampleRate == 0 {
		return 0, errors.New("flac stream missing sample info")
	}
	return int(float64(si.NSamples)/float64(si.SampleRate) + 0.5), nil
}

// durationWAV derives the sample frame count from the PCM payload size
func durationWAV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	frameBytes := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if dec.SampleRate == 0 || frameBytes <= 0 {
		return 0, errors.New("invalid wav header")
	}

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	const headerSize = 44
	pcmBytes := max(st.Size()-headerSize, 0)
	return int(float64(pcmBytes/frameBytes)/float64(dec.SampleRate) + 0.5), nil
}

// durationM4A reads timescale and duration from the moov/mvhd atom.
func durationM4A(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	moovSize, err := seekAtom(f, "moov", -1)
	if err != nil {
		return 0, err
	}
	if _, err := seekAtom(f, "mvhd", moovSize); err != nil {
		return 0, err
	}

	version := make([]byte, 1)
	if _, err := io.ReadFull(f, version); err != nil {
		return 0, err
	}
	// flags, then creation and modification times
	skip := int64(3 + 4 + 4)
	if version[0] == 1 {
		skip = 3 + 8 + 8
	}
	if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
		return 0, err
	}

	var header struct {
		Timescale uint32
		Duration  uint32
	}
	if err := binary.Read(f, binary.BigEndian, &header); err != nil {
		return 0, err
	}
	if header.Timescale == 0 {
		return 0, errors.New("invalid timescale")
	}
	return int(float64(header.Duration)/float64(header.Timescale) + 0.5), nil
}

// seekAtom advances r past sibling atoms until it is positioned just after
// the header of the atom named name, returning that atom's payload size.
// limit bounds the bytes scanned; negative means until EOF.
func seekAtom(r io.ReadSeeker, name string, limit int64) (int64, error) {
	for read := int64(0); limit < 0 || read < limit; {
		head := make([]byte, 8)
		if _, err := io.ReadFull(r, head); err != nil {
			return 0, fmt.Errorf("%s atom not found: %w", name, err)
		}
		size := int64(binary.BigEndian.Uint32(head[0:4]))
		if size < 8 {
			return 0, errors.New("invalid atom size")
		}
		if string(head[4:8]) == name {
			return size - 8, nil
		}
		if _, err := r.Seek(size-8, io.SeekCurrent); err != nil {
			return 0, err
		}
		read += size
	}
	return 0, fmt.Errorf("%s atom not found", name)
}

// estimateFromFileSize is the last resort when nothing decodes
func estimateFromFileSize(f *os.File, bitrate int) (int, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return int(st.Size() * 8 / int64(bitrate)), nil
}

// IsAudioFile checks if a file is a supported audio format
func (e *Extractor) IsAudioFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range e.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}
