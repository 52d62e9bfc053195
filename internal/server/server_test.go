package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"songmap/internal/apperr"
	"songmap/internal/auth"
	"songmap/internal/config"
	"songmap/internal/database"
	"songmap/internal/history"
	"songmap/internal/listening"
	"songmap/internal/namespace"
	"songmap/internal/properties"
	"songmap/internal/recommend"
	"songmap/pkg/models"
)

type testEnv struct {
	server *Server
	db     *database.Database
	hist   *history.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.DefaultConfig()
	cfg.Server.EnableCORS = true

	db, err := database.NewDatabase(database.Options{Path: filepath.Join(t.TempDir(), "server.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hist, err := history.Open(history.Options{InMemory: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	manager, err := namespace.NewManager(db, hist, namespace.Options{TemplateNamespace: cfg.Graphs.TemplateNamespace}, logger)
	require.NoError(t, err)

	authService := auth.NewService(&cfg.Auth, db, logger)
	t.Cleanup(authService.Close)

	engine := recommend.NewEngine(db, recommend.DefaultWeights(), nil, logger)
	srv := NewServer(cfg, Dependencies{
		Auth:       authService,
		Namespaces: manager,
		Listening:  listening.NewService(manager, db, hist, engine, cfg.History.Limit, logger),
		Properties: properties.NewAdministrator(db),
		GraphStore: db,
		History:    hist,
	}, logger)

	return &testEnv{server: srv, db: db, hist: hist}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/login", "", credentialsRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[loginResponse](t, rec).Token
}

func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", "", credentialsRequest{Username: username, Password: "secret"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return e.login(t, username, "secret")
}

func (e *testEnv) createGraph(t *testing.T, token string) models.Graph {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/graphs", token, createGraphRequest{Type: "empty", Name: "test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[struct {
		Graph models.Graph `json:"graph"`
	}](t, rec).Graph
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/graphs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, http.StatusUnauthorized, body["code"])

	token := env.register(t, "alice")

	rec = env.do(t, http.MethodPost, "/api/auth/register", "", credentialsRequest{Username: "alice", Password: "secret"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/auth/login", "", credentialsRequest{Username: "alice", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/graphs", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/graphs", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "bob"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	result := decode[ValidationResult](t, rec)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "password", result.Errors[0].Field)
	assert.Equal(t, "PASSWORD_REQUIRED", result.Errors[0].Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListenAndRecommend(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "alice")
	graph := env.createGraph(t, token)
	base := fmt.Sprintf("/api/graphs/%d", graph.ID)

	var ids []int64
	for _, name := range []string{"A", "B", "C"} {
		rec := env.do(t, http.MethodPost, base+"/listen", token, listenRequest{Name: name, Artist: "Band"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		song := decode[struct {
			Song models.Song `json:"song"`
		}](t, rec).Song
		ids = append(ids, song.ID)
	}

	rec := env.do(t, http.MethodPost, base+"/newlisten", token, listenRequest{Name: "D"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, base+"/history", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]models.HistoryEntry](t, rec)
	require.Len(t, entries, 4)
	assert.Equal(t, "D", entries[0].SongName)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("%s/recommend?currentId=%d", base, ids[1]), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recs := decode[[]models.ScoredSong](t, rec)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.NotEmpty(t, r.Reason)
	}

	rec = env.do(t, http.MethodGet, base+"/recommend", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, base+"/edges?from=A&to=B&detail=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	edge := decode[models.EdgeResult](t, rec)
	assert.True(t, edge.Detail)
	require.NotNil(t, edge.EdgeDetail)
	assert.Equal(t, ids[0], edge.EdgeDetail.Source.ID)

	rec = env.do(t, http.MethodGet, base+"/edges?from=C&to=D", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("%s/nodes?id=%d", base, ids[2]), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	node := decode[models.NodeResult](t, rec)
	require.NotNil(t, node.Song)
	assert.Equal(t, "C", node.Song.Name)

	rec = env.do(t, http.MethodGet, base+"/data", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode[models.GraphData](t, rec)
	assert.Len(t, data.Nodes, 4)
	assert.Len(t, data.Links, 2)

	rec = env.do(t, http.MethodDelete, base+"/edges?from=A&to=B", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["deleted"])

	rec = env.do(t, http.MethodDelete, base+"/nodes?name=C", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["deleted"])
}

func TestGraphOwnership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	graph := env.createGraph(t, alice)
	base := fmt.Sprintf("/api/graphs/%d", graph.ID)

	rec := env.do(t, http.MethodPost, base+"/listen", bob, listenRequest{Name: "A"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/graphs/9999/history", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/graphs/abc/history", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/graphs", alice, createGraphRequest{Type: "weird"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, base, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, base, alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/graphs", alice, nil)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestPropertiesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("rootpw"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, env.db.CreateUser(ctx, &models.User{Username: "root", PasswordHash: string(hash), Role: auth.RoleAdmin}))
	admin := env.login(t, "root", "rootpw")

	user := env.register(t, "alice")
	graph := env.createGraph(t, user)
	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/graphs/%d/listen", graph.ID), user, listenRequest{Name: "A"})
	require.Equal(t, http.StatusOK, rec.Code)

	prop := propertyRequest{Key: "mood", Type: "string", Value: "calm"}
	rec = env.do(t, http.MethodPost, "/api/properties/nodes", user, prop)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/properties/nodes", admin, prop)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["updated"])

	rec = env.do(t, http.MethodPost, "/api/properties/nodes", admin, propertyRequest{Key: "bpm", Type: "int", Value: "fast"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/properties/planets", admin, prop)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/properties/nodes/mood", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["updated"])

	rec = env.do(t, http.MethodDelete, "/api/properties/nodes/bad-key", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthStatus](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.GraphStore)

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "songmap_api_request_duration_seconds")

	require.NoError(t, env.hist.Close())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodOptions, "/api/graphs", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPositiveID(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		required bool
		wantID   int64
		wantCode string
	}{
		{"valid", "123", true, 123, ""},
		{"missing required", "", true, 0, "MISSING_GRAPH_ID"},
		{"missing optional", "", false, 0, ""},
		{"not a number", "abc", true, 0, "INVALID_GRAPH_ID_FORMAT"},
		{"negative", "-1", true, 0, "INVALID_GRAPH_ID_VALUE"},
		{"zero", "0", false, 0, "INVALID_GRAPH_ID_VALUE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, verr := positiveID(tt.raw, "graph_id", tt.required)
			assert.Equal(t, tt.wantID, id)
			if tt.wantCode == "" {
				assert.Nil(t, verr)
			} else {
				require.NotNil(t, verr)
				assert.Equal(t, tt.wantCode, verr.Code)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0B", formatBytes(0))
	assert.Equal(t, "< 1KB", formatBytes(512))
	assert.Equal(t, "2KB", formatBytes(2048))
	assert.Equal(t, "3MB", formatBytes(3*1024*1024))
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "abc", sanitizeInput("  a\x00bc \n"))
}

type failingCloneStore struct {
	*database.Database
}

func (s failingCloneStore) CloneNamespace(ctx context.Context, from, to string, seedJump int64) (int64, int64, error) {
	return 0, 0, apperr.Wrap(apperr.KindUnavailable, errors.New("disk full"), "clone failed")
}

func TestCreateGraphReportsFailedTemplateCopy(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "alice")

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	manager, err := namespace.NewManager(failingCloneStore{env.db}, env.hist,
		namespace.Options{TemplateNamespace: config.DefaultConfig().Graphs.TemplateNamespace}, logger)
	require.NoError(t, err)
	env.server.namespaces = manager

	rec := env.do(t, http.MethodPost, "/api/graphs", token, createGraphRequest{Type: "template", Name: "seeded"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	body := decode[struct {
		Error   string       `json:"error"`
		Code    int          `json:"code"`
		Kind    string       `json:"kind"`
		Graph   models.Graph `json:"graph"`
		Success bool         `json:"success"`
	}](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusServiceUnavailable, body.Code)
	assert.Equal(t, string(apperr.KindUnavailable), body.Kind)
	assert.NotEmpty(t, body.Error)
	require.NotZero(t, body.Graph.ID)

	// The graph was kept so it can be repaired or deleted
	rec = env.do(t, http.MethodGet, "/api/graphs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	graphs := decode[[]models.Graph](t, rec)
	require.Len(t, graphs, 1)
	assert.Equal(t, body.Graph.ID, graphs[0].ID)
}
