// Package namespace manages graphs: the per-user isolation tags every song
// and edge is stored under, their metadata, and template seeding.
package namespace

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/ident"
	"songmap/internal/metrics"
	"songmap/pkg/models"
)

const (
	// Template copies start every edge at this jump count
	seedJumpCount = 1

	maxTagAttempts = 3

	defaultTemplateName = "Official Recommendations"
	defaultEmptyName    = "My New Graph"
)

var coverColors = []string{
	"linear-gradient(135deg, #FF9A9E 0%, #FECFEF 100%)",
	"linear-gradient(135deg, #a18cd1 0%, #fbc2eb 100%)",
	"linear-gradient(135deg, #84fab0 0%, #8fd3f4 100%)",
	"linear-gradient(135deg, #cfd9df 0%, #e2ebf0 100%)",
	"linear-gradient(135deg, #667eea 0%, #764ba2 100%)",
}

// Store is the part of the graph store the manager needs
type Store interface {
	CreateGraph(ctx context.Context, ownerID int64, g *models.Graph) error
	ResolveGraph(ctx context.Context, userID, graphID int64) (*models.Graph, error)
	ListGraphs(ctx context.Context, userID int64) ([]models.Graph, error)
	DeleteGraph(ctx context.Context, graphID int64) error
	CloneNamespace(ctx context.Context, from, to string, seedJump int64) (int64, int64, error)
	ListSongs(ctx context.Context, namespace string) ([]models.Song, error)
	ListEdges(ctx context.Context, namespace string) ([]models.Edge, error)
}

// HistoryClearer drops a graph's recency list
type HistoryClearer interface {
	Clear(ctx context.Context, graphID int64) error
}

// Options configures a Manager
type Options struct {
	TemplateNamespace string
	CacheSize         int
	CacheTTL          time.Duration
}

type cacheKey struct {
	userID  int64
	graphID int64
}

// Manager resolves and allocates graph namespaces
type Manager struct {
	store    Store
	history  HistoryClearer
	template string
	cache    *expirable.LRU[cacheKey, string]
	logger   *logrus.Logger

	newTag func(userID int64) string
}

// NewManager creates a Manager. Resolved tags are cached per (user, graph)
// for CacheTTL.
func NewManager(store Store, history HistoryClearer, opts Options, logger *logrus.Logger) (*Manager, error) {
	if err := ident.Validate("template namespace", opts.TemplateNamespace); err != nil {
		return nil, err
	}
	if opts.CacheSize < 1 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	return &Manager{
		store:    store,
		history:  history,
		template: opts.TemplateNamespace,
		cache:    expirable.NewLRU[cacheKey, string](opts.CacheSize, nil, opts.CacheTTL),
		logger:   logger,
		newTag:   NewTag,
	}, nil
}

// NewTag returns a fresh namespace tag for userID: "G_u<id>_" followed by a
// random UUID without dashes.
func NewTag(userID int64) string {
	return "G_u" + strconv.FormatInt(userID, 10) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Template returns the shared template namespace
func (m *Manager) Template() string {
	return m.template
}

// Resolve returns the namespace tag of graphID if userID owns it
func (m *Manager) Resolve(ctx context.Context, userID, graphID int64) (string, error) {
	key := cacheKey{userID: userID, graphID: graphID}
	if tag, ok := m.cache.Get(key); ok {
		metrics.NamespaceCacheLookups.WithLabelValues("hit").Inc()
		return tag, nil
	}
	metrics.NamespaceCacheLookups.WithLabelValues("miss").Inc()

	graph, err := m.store.ResolveGraph(ctx, userID, graphID)
	if err != nil {
		return "", err
	}
	if err := ident.Validate("namespace", graph.Tag); err != nil {
		m.logger.WithField("graph_id", graphID).Error("Stored graph tag failed validation")
		return "", err
	}

	m.cache.Add(key, graph.Tag)
	return graph.Tag, nil
}

// Create allocates a new graph for userID. An empty name gets a default
// based on kind. A template graph is populated from the template namespace;
// if that copy fails the graph still exists and a *PartialCloneError is
// returned alongside it.
func (m *Manager) Create(ctx context.Context, userID int64, kind models.GraphKind, name string) (*models.Graph, error) {
	switch kind {
	case "":
		kind = models.GraphKindEmpty
	case models.GraphKindEmpty, models.GraphKindTemplate:
	default:
		return nil, apperr.InvalidArgument("unknown graph type %q", string(kind))
	}

	name = strings.TrimSpace(name)
	if name == "" {
		if kind == models.GraphKindTemplate {
			name = defaultTemplateName
		} else {
			name = defaultEmptyName
		}
	}

	graph := &models.Graph{
		Name:       name,
		Kind:       kind,
		CoverColor: coverColors[rand.Intn(len(coverColors))],
	}

	var err error
	for attempt := 1; attempt <= maxTagAttempts; attempt++ {
		graph.Tag = m.newTag(userID)
		if err = ident.Validate("namespace", graph.Tag); err != nil {
			return nil, err
		}
		err = m.store.CreateGraph(ctx, userID, graph)
		if !apperr.IsKind(err, apperr.KindConflict) {
			break
		}
		m.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"tag":     graph.Tag,
			"attempt": attempt,
		}).Warn("Namespace tag collision, retrying with a fresh tag")
	}
	if err != nil {
		return nil, err
	}

	m.cache.Add(cacheKey{userID: userID, graphID: graph.ID}, graph.Tag)

	if kind == models.GraphKindTemplate {
		songs, edges, err := m.store.CloneNamespace(ctx, m.template, graph.Tag, seedJumpCount)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"graph_id": graph.ID,
				"tag":      graph.Tag,
			}).Error("Template clone failed, graph left partially initialized")
			return graph, &PartialCloneError{Graph: *graph, Err: err}
		}
		m.logger.WithFields(logrus.Fields{
			"graph_id": graph.ID,
			"songs":    songs,
			"edges":    edges,
		}).Info("Seeded graph from template")
	}

	m.logger.WithFields(logrus.Fields{
		"graph_id": graph.ID,
		"user_id":  userID,
		"tag":      graph.Tag,
		"type":     string(kind),
	}).Info("Created graph")
	return graph, nil
}

// List returns the graphs userID owns, newest first
func (m *Manager) List(ctx context.Context, userID int64) ([]models.Graph, error) {
	return m.store.ListGraphs(ctx, userID)
}

// Delete removes graphID's metadata and recency list. Its songs and edges
// stay in the store under the old tag.
func (m *Manager) Delete(ctx context.Context, userID, graphID int64) error {
	if _, err := m.Resolve(ctx, userID, graphID); err != nil {
		return err
	}

	if err := m.store.DeleteGraph(ctx, graphID); err != nil {
		return err
	}
	m.cache.Remove(cacheKey{userID: userID, graphID: graphID})

	if err := m.history.Clear(ctx, graphID); err != nil {
		m.logger.WithError(err).WithField("graph_id", graphID).Warn("Failed to clear history of deleted graph")
	}

	m.logger.WithFields(logrus.Fields{
		"graph_id": graphID,
		"user_id":  userID,
	}).Info("Deleted graph")
	return nil
}

// GraphData returns the whole graph shaped for visualization. Node size
// grows with listens up to a cap; songs heard more than ten times are
// marked hot.
func (m *Manager) GraphData(ctx context.Context, userID, graphID int64) (*models.GraphData, error) {
	tag, err := m.Resolve(ctx, userID, graphID)
	if err != nil {
		return nil, err
	}

	songs, err := m.store.ListSongs(ctx, tag)
	if err != nil {
		return nil, err
	}
	edges, err := m.store.ListEdges(ctx, tag)
	if err != nil {
		return nil, err
	}

	data := &models.GraphData{
		Nodes: make([]models.GraphNode, 0, len(songs)),
		Links: make([]models.GraphLink, 0, len(edges)),
	}
	for _, s := range songs {
		category := 0
		if s.ListenCount > 10 {
			category = 1
		}
		data.Nodes = append(data.Nodes, models.GraphNode{
			ID:         strconv.FormatInt(s.ID, 10),
			Name:       s.Name,
			Artist:     s.Artist,
			SymbolSize: int(min(20+2*s.ListenCount, 60)),
			Category:   category,
		})
	}
	for _, e := range edges {
		value := e.JumpCount
		if value == 0 {
			value = 1
		}
		data.Links = append(data.Links, models.GraphLink{
			Source: strconv.FormatInt(e.FromID, 10),
			Target: strconv.FormatInt(e.ToID, 10),
			Value:  value,
		})
	}
	return data, nil
}

// PartialCloneError means a template graph was created but copying the
// template into it failed. The graph needs repair, not a retry.
type PartialCloneError struct {
	Graph models.Graph
	Err   error
}

func (e *PartialCloneError) Error() string {
	return fmt.Sprintf("graph %d created but template clone failed: %v", e.Graph.ID, e.Err)
}

// Unwrap keeps the kind of the clone failure visible to apperr.KindOf
func (e *PartialCloneError) Unwrap() error {
	return e.Err
}
