// Package listening records listen events into a user's graph and answers
// the read paths that sit on top of it.
package listening

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/metrics"
	"songmap/internal/recommend"
	"songmap/pkg/models"
)

// Resolver maps (user, graph) to a namespace tag
type Resolver interface {
	Resolve(ctx context.Context, userID, graphID int64) (string, error)
}

// GraphStore is the song and edge repository
type GraphStore interface {
	UpsertSong(ctx context.Context, namespace, name, artist string, inc models.SongCounters) (*models.Song, error)
	UpsertEdge(ctx context.Context, namespace string, fromID, toID int64, inc models.EdgeCounters) (*models.Edge, error)
	GetSongByID(ctx context.Context, namespace string, id int64) (*models.Song, error)
	FindSong(ctx context.Context, namespace, name, artist string) (*models.Song, error)
	GetNodeDetail(ctx context.Context, namespace string, id int64) (*models.NodeDetail, error)
	GetEdgeByID(ctx context.Context, namespace string, id int64) (*models.Edge, error)
	FindEdgeByNames(ctx context.Context, namespace, fromName, toName string) (*models.Edge, error)
	GetEdgeDetail(ctx context.Context, namespace string, id int64) (*models.EdgeDetail, error)
	DeleteSongsByName(ctx context.Context, namespace, name string) (int64, error)
	DeleteEdgesByNames(ctx context.Context, namespace, fromName, toName string) (int64, error)
}

// History is the recency cache
type History interface {
	RecordPlay(ctx context.Context, graphID, songID int64, songName string, limit int) error
	PreviousSongID(ctx context.Context, graphID int64) (int64, bool, error)
	FullHistory(ctx context.Context, graphID int64) ([]models.HistoryEntry, error)
}

// Recommender ranks neighbors
type Recommender interface {
	RecommendNext(ctx context.Context, namespace string, currentID int64, previous recommend.Previous) ([]models.ScoredSong, error)
}

// Service orchestrates listens and graph queries for authenticated users
type Service struct {
	namespaces   Resolver
	store        GraphStore
	history      History
	recommender  Recommender
	historyLimit int
	logger       *logrus.Logger
}

// NewService creates a Service
func NewService(namespaces Resolver, store GraphStore, history History, recommender Recommender, historyLimit int, logger *logrus.Logger) *Service {
	return &Service{
		namespaces:   namespaces,
		store:        store,
		history:      history,
		recommender:  recommender,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// Listen describes one listen event
type Listen struct {
	UserID  int64
	GraphID int64
	Name    string
	Artist  string
	// ForceNewChain records the play without linking it to the previous one
	ForceNewChain bool
	IsRandom      bool
	IsFullPlay    bool
	IsSkip        bool
}

// AddSong records a listen: it bumps the song's counters, links the
// previously played song to it unless a new chain is forced or it is the
// same song, and moves it to the front of the graph's history.
func (s *Service) AddSong(ctx context.Context, l Listen) (*models.Song, error) {
	name := strings.TrimSpace(l.Name)
	if name == "" {
		return nil, apperr.InvalidArgument("song name must not be empty")
	}
	artist := strings.TrimSpace(l.Artist)
	if artist == "" {
		artist = models.UnknownArtist
	}

	namespace, err := s.namespaces.Resolve(ctx, l.UserID, l.GraphID)
	if err != nil {
		return nil, err
	}

	// Read before recording, otherwise the head is the current song
	previousID, hasPrevious, err := s.history.PreviousSongID(ctx, l.GraphID)
	if err != nil {
		return nil, err
	}

	current, err := s.store.UpsertSong(ctx, namespace, name, artist, songIncrements(l))
	if err != nil {
		return nil, err
	}

	if hasPrevious && !l.ForceNewChain && current.ID != previousID {
		_, err := s.store.UpsertEdge(ctx, namespace, previousID, current.ID, edgeIncrements(l))
		switch {
		case apperr.IsKind(err, apperr.KindNotFound):
			// The previous song was deleted since it was played
			s.logger.WithFields(logrus.Fields{
				"graph_id":    l.GraphID,
				"previous_id": previousID,
				"current_id":  current.ID,
			}).Warn("Previous song no longer exists, starting a new chain")
		case err != nil:
			return nil, err
		default:
			metrics.EdgesLinked.Inc()
		}
	}

	if err := s.history.RecordPlay(ctx, l.GraphID, current.ID, current.Name, s.historyLimit); err != nil {
		return nil, err
	}

	mode := "chain"
	if l.ForceNewChain {
		mode = "new_chain"
	}
	metrics.Listens.WithLabelValues(mode).Inc()

	s.logger.WithFields(logrus.Fields{
		"graph_id": l.GraphID,
		"song_id":  current.ID,
		"mode":     mode,
		"random":   l.IsRandom,
	}).Debug("Recorded listen")
	return current, nil
}

func songIncrements(l Listen) models.SongCounters {
	inc := models.SongCounters{Listen: 1}
	if l.IsFullPlay {
		inc.FullPlay = 1
	}
	if l.IsSkip {
		inc.Skip = 1
	}
	if l.IsRandom {
		inc.RandomSelect = 1
	} else {
		inc.UserSelect = 1
	}
	return inc
}

func edgeIncrements(l Listen) models.EdgeCounters {
	inc := models.EdgeCounters{Jump: 1}
	if l.IsRandom {
		inc.RandomSelect = 1
	} else {
		inc.UserSelect = 1
	}
	return inc
}

// Recommend ranks the neighbors of currentID. Without an explicit previous
// song the recency cache supplies one: the second entry when the head is the
// current song, the head otherwise.
func (s *Service) Recommend(ctx context.Context, userID, graphID, currentID int64, previous *int64) ([]models.ScoredSong, error) {
	namespace, err := s.namespaces.Resolve(ctx, userID, graphID)
	if err != nil {
		return nil, err
	}

	prev := recommend.Previous{}
	if previous != nil {
		prev = recommend.Previous{ID: *previous, Valid: true}
	} else {
		entries, err := s.history.FullHistory(ctx, graphID)
		if err != nil {
			return nil, err
		}
		switch {
		case len(entries) > 1 && entries[0].SongID == currentID:
			prev = recommend.Previous{ID: entries[1].SongID, Valid: true}
		case len(entries) > 0 && entries[0].SongID != currentID:
			prev = recommend.Previous{ID: entries[0].SongID, Valid: true}
		}
	}

	return s.recommender.RecommendNext(ctx, namespace, currentID, prev)
}

// History returns the graph's recency list, most recent first
func (s *Service) History(ctx context.Context, userID, graphID int64) ([]models.HistoryEntry, error) {
	if _, err := s.namespaces.Resolve(ctx, userID, graphID); err != nil {
		return nil, err
	}
	return s.history.FullHistory(ctx, graphID)
}

// NodeQuery selects a song by id, or by name and artist when ID is zero
type NodeQuery struct {
	ID     int64
	Name   string
	Artist string
	Detail bool
}

// QueryNode returns a bare song or, with Detail, the song with its edges
func (s *Service) QueryNode(ctx context.Context, userID, graphID int64, q NodeQuery) (*models.NodeResult, error) {
	namespace, err := s.namespaces.Resolve(ctx, userID, graphID)
	if err != nil {
		return nil, err
	}

	id := q.ID
	if id == 0 {
		name := strings.TrimSpace(q.Name)
		if name == "" {
			return nil, apperr.InvalidArgument("either id or name is required")
		}
		artist := strings.TrimSpace(q.Artist)
		if artist == "" {
			artist = models.UnknownArtist
		}
		song, err := s.store.FindSong(ctx, namespace, name, artist)
		if err != nil {
			return nil, err
		}
		if !q.Detail {
			return &models.NodeResult{Song: song}, nil
		}
		id = song.ID
	}

	if q.Detail {
		detail, err := s.store.GetNodeDetail(ctx, namespace, id)
		if err != nil {
			return nil, err
		}
		return &models.NodeResult{Detail: true, NodeDetail: detail}, nil
	}

	song, err := s.store.GetSongByID(ctx, namespace, id)
	if err != nil {
		return nil, err
	}
	return &models.NodeResult{Song: song}, nil
}

// EdgeQuery selects an edge by id, or by endpoint names when ID is zero
type EdgeQuery struct {
	ID       int64
	FromName string
	ToName   string
	Detail   bool
}

// QueryEdge returns a bare edge or, with Detail, the edge with both songs
func (s *Service) QueryEdge(ctx context.Context, userID, graphID int64, q EdgeQuery) (*models.EdgeResult, error) {
	namespace, err := s.namespaces.Resolve(ctx, userID, graphID)
	if err != nil {
		return nil, err
	}

	id := q.ID
	if id == 0 {
		from, to := strings.TrimSpace(q.FromName), strings.TrimSpace(q.ToName)
		if from == "" || to == "" {
			return nil, apperr.InvalidArgument("either id or both from and to names are required")
		}
		edge, err := s.store.FindEdgeByNames(ctx, namespace, from, to)
		if err != nil {
			return nil, err
		}
		if !q.Detail {
			return &models.EdgeResult{Edge: edge}, nil
		}
		id = edge.ID
	}

	if q.Detail {
		detail, err := s.store.GetEdgeDetail(ctx, namespace, id)
		if err != nil {
			return nil, err
		}
		return &models.EdgeResult{Detail: true, EdgeDetail: detail}, nil
	}

	edge, err := s.store.GetEdgeByID(ctx, namespace, id)
	if err != nil {
		return nil, err
	}
	return &models.EdgeResult{Edge: edge}, nil
}

// DeleteConnection removes the edges between songs named fromName and
// toName in the graph
func (s *Service) DeleteConnection(ctx context.Context, userID, graphID int64, fromName, toName string) (int64, error) {
	fromName, toName = strings.TrimSpace(fromName), strings.TrimSpace(toName)
	if fromName == "" || toName == "" {
		return 0, apperr.InvalidArgument("from and to names must not be empty")
	}
	namespace, err := s.namespaces.Resolve(ctx, userID, graphID)
	if err != nil {
		return 0, err
	}
	return s.store.DeleteEdgesByNames(ctx, namespace, fromName, toName)
}

// DeleteNode removes every song called name in the graph, with their edges
func (s *Service) DeleteNode(ctx context.Context, userID, graphID int64, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, apperr.InvalidArgument("song name must not be empty")
	}
	namespace, err := s.namespaces.Resolve(ctx, userID, graphID)
	if err != nil {
		return 0, err
	}
	return s.store.DeleteSongsByName(ctx, namespace, name)
}
