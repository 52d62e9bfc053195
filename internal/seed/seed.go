// Package seed fills the shared template namespace from a local music
// library. Tracks of one album are chained in track order, so a graph
// cloned from the template starts with album-order transitions.
package seed

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/ident"
	"songmap/pkg/models"
)

// Extractor reads track metadata from a file
type Extractor interface {
	ExtractFromFile(path string) (models.Track, error)
	IsAudioFile(path string) bool
}

// Store is the subset of the graph store the seeder writes through
type Store interface {
	ListSongs(ctx context.Context, namespace string) ([]models.Song, error)
	UpsertSong(ctx context.Context, namespace, name, artist string, inc models.SongCounters) (*models.Song, error)
	UpsertEdge(ctx context.Context, namespace string, fromID, toID int64, inc models.EdgeCounters) (*models.Edge, error)
	MergeSongProperties(ctx context.Context, namespace string, id int64, props map[string]any) error
}

// Result summarizes a seeding run
type Result struct {
	Files  int
	Songs  int
	Edges  int
	Albums int
	Failed int
}

// Seeder scans a library into a namespace
type Seeder struct {
	extractor Extractor
	store     Store
	workers   int
	logger    *logrus.Logger
}

// NewSeeder creates a Seeder using workers extraction goroutines
func NewSeeder(extractor Extractor, store Store, workers int, logger *logrus.Logger) *Seeder {
	if workers < 1 {
		workers = 1
	}
	return &Seeder{extractor: extractor, store: store, workers: workers, logger: logger}
}

// Seed scans libraryPath and writes its tracks into namespace. A namespace
// that already holds songs is refused with Conflict so reruns do not double
// the seeded counters.
func (s *Seeder) Seed(ctx context.Context, libraryPath, namespace string) (Result, error) {
	var result Result
	if err := ident.Validate("namespace", namespace); err != nil {
		return result, err
	}

	existing, err := s.store.ListSongs(ctx, namespace)
	if err != nil {
		return result, err
	}
	if len(existing) > 0 {
		return result, apperr.New(apperr.KindConflict, "namespace %q already holds %d songs", namespace, len(existing))
	}

	tracks, failed, err := s.scan(ctx, libraryPath)
	result.Files = len(tracks) + failed
	result.Failed = failed
	if err != nil {
		return result, err
	}

	albums := groupByAlbum(tracks)
	result.Albums = len(albums)
	for _, album := range albums {
		songs, edges, err := s.writeAlbum(ctx, namespace, album)
		result.Songs += songs
		result.Edges += edges
		if err != nil {
			return result, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"namespace": namespace,
		"files":     result.Files,
		"albums":    result.Albums,
		"songs":     result.Songs,
		"edges":     result.Edges,
		"failed":    result.Failed,
	}).Info("Seeded template namespace")
	return result, nil
}

// scan walks the library and extracts metadata with a worker pool
func (s *Seeder) scan(ctx context.Context, libraryPath string) ([]models.Track, int, error) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tracks []models.Track
		failed int
	)
	jobs := make(chan string, 100)

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				track, err := s.extractor.ExtractFromFile(path)
				mu.Lock()
				if err != nil {
					failed++
				} else {
					tracks = append(tracks, track)
				}
				mu.Unlock()
				if err != nil {
					s.logger.WithError(err).WithField("file_path", path).Warn("Skipping unreadable file")
				}
			}
		}()
	}

	walkErr := filepath.WalkDir(libraryPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() && s.extractor.IsAudioFile(path) {
			jobs <- path
		}
		return nil
	})

	close(jobs)
	wg.Wait()

	if walkErr != nil {
		return tracks, failed, fmt.Errorf("failed to scan library %s: %w", libraryPath, walkErr)
	}
	return tracks, failed, nil
}

// album is one artist's album in play order
type album struct {
	Artist string
	Title  string
	Tracks []models.Track
}

// groupByAlbum groups tracks by (artist, album) and orders each group by
// track number, then title. Albums come back sorted by artist and title so
// runs are deterministic.
func groupByAlbum(tracks []models.Track) []album {
	index := make(map[string]int)
	var albums []album
	for _, t := range tracks {
		key := strings.ToLower(t.Artist) + "\x00" + strings.ToLower(t.Album)
		i, ok := index[key]
		if !ok {
			i = len(albums)
			index[key] = i
			albums = append(albums, album{Artist: t.Artist, Title: t.Album})
		}
		albums[i].Tracks = append(albums[i].Tracks, t)
	}

	for i := range albums {
		sort.SliceStable(albums[i].Tracks, func(a, b int) bool {
			ta, tb := albums[i].Tracks[a], albums[i].Tracks[b]
			if ta.TrackNumber != tb.TrackNumber {
				return ta.TrackNumber < tb.TrackNumber
			}
			return ta.Title < tb.Title
		})
	}
	sort.SliceStable(albums, func(a, b int) bool {
		if albums[a].Artist != albums[b].Artist {
			return albums[a].Artist < albums[b].Artist
		}
		return albums[a].Title < albums[b].Title
	})
	return albums
}

// writeAlbum creates the album's songs and links consecutive tracks
func (s *Seeder) writeAlbum(ctx context.Context, namespace string, a album) (songs, edges int, err error) {
	var previous *models.Song
	for _, t := range a.Tracks {
		song, err := s.store.UpsertSong(ctx, namespace, t.Title, t.Artist, models.SongCounters{})
		if err != nil {
			return songs, edges, err
		}
		songs++

		props := map[string]any{"album": t.Album}
		if t.Duration > 0 {
			props["durationSeconds"] = t.Duration
		}
		if err := s.store.MergeSongProperties(ctx, namespace, song.ID, props); err != nil {
			return songs, edges, err
		}

		if previous != nil && previous.ID != song.ID {
			if _, err := s.store.UpsertEdge(ctx, namespace, previous.ID, song.ID, models.EdgeCounters{Jump: 1}); err != nil {
				return songs, edges, err
			}
			edges++
		}
		previous = song
	}
	return songs, edges, nil
}
