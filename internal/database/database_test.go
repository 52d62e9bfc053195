package database

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songmap/internal/apperr"
	"songmap/pkg/models"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *Database {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := NewDatabase(Options{
		Path:           filepath.Join(t.TempDir(), "test.db"),
		MaxConnections: 8,
		Resilience:     ResilienceConfig{MaxRetries: 3, Backoff: time.Millisecond},
		Clock:          func() time.Time { return testNow },
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func listen(random bool) models.SongCounters {
	inc := models.SongCounters{Listen: 1}
	if random {
		inc.RandomSelect = 1
	} else {
		inc.UserSelect = 1
	}
	return inc
}

func TestUpsertSongAccumulates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.UpsertSong(ctx, "ns_a", "Song", "Artist", models.SongCounters{Listen: 1, FullPlay: 1, UserSelect: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ListenCount)
	assert.Equal(t, int64(1), first.FullPlayCount)
	require.NotNil(t, first.ListenedAt)
	assert.True(t, first.ListenedAt.Equal(testNow))

	second, err := db.UpsertSong(ctx, "ns_a", "Song", "Artist", models.SongCounters{Listen: 1, Skip: 1, RandomSelect: 1})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.ListenCount)
	assert.Equal(t, int64(1), second.FullPlayCount)
	assert.Equal(t, int64(1), second.SkipCount)
	assert.Equal(t, int64(1), second.UserSelectCount)
	assert.Equal(t, int64(1), second.RandomSelectCount)
}

func TestSongIdentityIsScoped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.UpsertSong(ctx, "ns_a", "Song", "Artist", listen(false))
	require.NoError(t, err)
	otherArtist, err := db.UpsertSong(ctx, "ns_a", "Song", "Someone Else", listen(false))
	require.NoError(t, err)
	otherGraph, err := db.UpsertSong(ctx, "ns_b", "Song", "Artist", listen(false))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, otherArtist.ID)
	assert.NotEqual(t, a.ID, otherGraph.ID)

	_, err = db.GetSongByID(ctx, "ns_b", a.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestInvalidNamespaceRejected(t *testing.T) {
	db := newTestDB(t)

	_, err := db.UpsertSong(context.Background(), "ns; DROP TABLE songs", "Song", "Artist", listen(false))
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))
}

func TestConcurrentUpsertsNeverLoseIncrements(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := db.UpsertSong(ctx, "ns_a", "Hot", "Artist", listen(false)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	song, err := db.FindSong(ctx, "ns_a", "Hot", "Artist")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), song.ListenCount)
	assert.Equal(t, int64(workers*perWorker), song.UserSelectCount)
}

func TestUpsertEdge(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.UpsertSong(ctx, "ns_a", "A", "X", listen(false))
	require.NoError(t, err)
	b, err := db.UpsertSong(ctx, "ns_a", "B", "X", listen(false))
	require.NoError(t, err)
	foreign, err := db.UpsertSong(ctx, "ns_b", "C", "X", listen(false))
	require.NoError(t, err)

	t.Run("accumulates on one edge", func(t *testing.T) {
		_, err := db.UpsertEdge(ctx, "ns_a", a.ID, b.ID, models.EdgeCounters{Jump: 1, UserSelect: 1})
		require.NoError(t, err)
		edge, err := db.UpsertEdge(ctx, "ns_a", a.ID, b.ID, models.EdgeCounters{Jump: 1, RandomSelect: 1})
		require.NoError(t, err)

		assert.Equal(t, int64(2), edge.JumpCount)
		assert.Equal(t, int64(1), edge.UserSelectCount)
		assert.Equal(t, int64(1), edge.RandomSelectCount)

		edges, err := db.ListEdges(ctx, "ns_a")
		require.NoError(t, err)
		assert.Len(t, edges, 1)
	})

	t.Run("self loop rejected", func(t *testing.T) {
		_, err := db.UpsertEdge(ctx, "ns_a", a.ID, a.ID, models.EdgeCounters{Jump: 1})
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))
	})

	t.Run("cross namespace endpoint is not found", func(t *testing.T) {
		_, err := db.UpsertEdge(ctx, "ns_a", a.ID, foreign.ID, models.EdgeCounters{Jump: 1})
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("missing endpoint is not found", func(t *testing.T) {
		_, err := db.UpsertEdge(ctx, "ns_a", a.ID, 9999, models.EdgeCounters{Jump: 1})
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})
}

func TestFindNeighborsKeepsDirection(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, _ := db.UpsertSong(ctx, "ns_a", "A", "X", listen(false))
	b, _ := db.UpsertSong(ctx, "ns_a", "B", "X", listen(false))
	c, _ := db.UpsertSong(ctx, "ns_a", "C", "X", listen(false))

	_, err := db.UpsertEdge(ctx, "ns_a", a.ID, b.ID, models.EdgeCounters{Jump: 1})
	require.NoError(t, err)
	_, err = db.UpsertEdge(ctx, "ns_a", c.ID, a.ID, models.EdgeCounters{Jump: 1})
	require.NoError(t, err)
	_, err = db.UpsertEdge(ctx, "ns_a", b.ID, a.ID, models.EdgeCounters{Jump: 1})
	require.NoError(t, err)

	neighbors, err := db.FindNeighbors(ctx, "ns_a", a.ID)
	require.NoError(t, err)
	require.Len(t, neighbors, 3)

	got := map[string]bool{}
	for _, n := range neighbors {
		got[n.Song.Name+":"+string(n.Direction)] = true
	}
	assert.True(t, got["B:OUT"])
	assert.True(t, got["B:IN"])
	assert.True(t, got["C:IN"])

	none, err := db.FindNeighbors(ctx, "ns_b", a.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNodeAndEdgeDetail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, _ := db.UpsertSong(ctx, "ns_a", "A", "X", listen(false))
	b, _ := db.UpsertSong(ctx, "ns_a", "B", "X", listen(false))
	edge, err := db.UpsertEdge(ctx, "ns_a", a.ID, b.ID, models.EdgeCounters{Jump: 1})
	require.NoError(t, err)

	detail, err := db.GetNodeDetail(ctx, "ns_a", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", detail.Self.Name)
	require.Len(t, detail.Outgoing, 1)
	assert.Equal(t, "B", detail.Outgoing[0].Song.Name)
	assert.Empty(t, detail.Incoming)

	edgeDetail, err := db.GetEdgeDetail(ctx, "ns_a", edge.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", edgeDetail.Source.Name)
	assert.Equal(t, "B", edgeDetail.Target.Name)

	byNames, err := db.FindEdgeByNames(ctx, "ns_a", "A", "B")
	require.NoError(t, err)
	assert.Equal(t, edge.ID, byNames.ID)

	_, err = db.FindEdgeByNames(ctx, "ns_a", "B", "A")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestDeletes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, _ := db.UpsertSong(ctx, "ns_a", "A", "X", listen(false))
	a2, _ := db.UpsertSong(ctx, "ns_a", "A", "Y", listen(false))
	b, _ := db.UpsertSong(ctx, "ns_a", "B", "X", listen(false))
	_, err := db.UpsertEdge(ctx, "ns_a", a.ID, b.ID, models.EdgeCounters{Jump: 1})
	require.NoError(t, err)
	_, err = db.UpsertEdge(ctx, "ns_a", b.ID, a2.ID, models.EdgeCounters{Jump: 1})
	require.NoError(t, err)

	removed, err := db.DeleteEdgesByNames(ctx, "ns_a", "A", "B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// Both songs called "A" go, and the edge B -> A(Y) with them
	deleted, err := db.DeleteSongsByName(ctx, "ns_a", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	edges, err := db.ListEdges(ctx, "ns_a")
	require.NoError(t, err)
	assert.Empty(t, edges)

	songs, err := db.ListSongs(ctx, "ns_a")
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "B", songs[0].Name)
}

func TestProperties(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, _ := db.UpsertSong(ctx, "ns_a", "A", "X", listen(false))
	b, _ := db.UpsertSong(ctx, "ns_b", "B", "X", listen(false))
	c, _ := db.UpsertSong(ctx, "ns_b", "C", "X", listen(false))
	_, err := db.UpsertEdge(ctx, "ns_b", b.ID, c.ID, models.EdgeCounters{Jump: 1})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		n, err := db.SetProperty(ctx, TargetNodes, "mood", "happy")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	}

	song, err := db.GetSongByID(ctx, "ns_a", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "happy", song.Properties["mood"])
	song, err = db.GetSongByID(ctx, "ns_b", b.ID)
	require.NoError(t, err)
	assert.Equal(t, "happy", song.Properties["mood"])

	_, err = db.SetProperty(ctx, TargetEdges, "liked", true)
	require.NoError(t, err)
	edges, err := db.ListEdges(ctx, "ns_b")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, true, edges[0].Properties["liked"])

	removed, err := db.RemoveProperty(ctx, TargetNodes, "mood")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	song, err = db.GetSongByID(ctx, "ns_a", a.ID)
	require.NoError(t, err)
	assert.NotContains(t, song.Properties, "mood")

	_, err = db.SetProperty(ctx, TargetNodes, "bad key", 1)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))
	_, err = db.RemoveProperty(ctx, PropertyTarget("albums"), "mood")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))
}

func TestGraphsAndOwnership(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice := &models.User{Username: "alice", PasswordHash: "x", Role: "user"}
	bob := &models.User{Username: "bob", PasswordHash: "x", Role: "user"}
	require.NoError(t, db.CreateUser(ctx, alice))
	require.NoError(t, db.CreateUser(ctx, bob))

	err := db.CreateUser(ctx, &models.User{Username: "alice", PasswordHash: "y", Role: "user"})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	g := &models.Graph{Name: "Mine", Tag: "G_u1_abc", Kind: models.GraphKindEmpty}
	require.NoError(t, db.CreateGraph(ctx, alice.ID, g))
	assert.NotZero(t, g.ID)

	dup := &models.Graph{Name: "Dup", Tag: "G_u1_abc", Kind: models.GraphKindEmpty}
	assert.True(t, apperr.IsKind(db.CreateGraph(ctx, alice.ID, dup), apperr.KindConflict))

	resolved, err := db.ResolveGraph(ctx, alice.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "G_u1_abc", resolved.Tag)

	_, err = db.ResolveGraph(ctx, bob.ID, g.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
	_, err = db.ResolveGraph(ctx, alice.ID, g.ID+100)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	graphs, err := db.ListGraphs(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, graphs, 1)

	// Metadata goes, the namespace stays
	_, err = db.UpsertSong(ctx, g.Tag, "Kept", "X", listen(false))
	require.NoError(t, err)
	require.NoError(t, db.DeleteGraph(ctx, g.ID))
	assert.True(t, apperr.IsKind(db.DeleteGraph(ctx, g.ID), apperr.KindNotFound))

	_, err = db.FindSong(ctx, g.Tag, "Kept", "X")
	assert.NoError(t, err)
}

func TestCloneNamespace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, _ := db.UpsertSong(ctx, "base_template", "A", "X", listen(false))
	b, _ := db.UpsertSong(ctx, "base_template", "B", "X", listen(true))
	_, err := db.UpsertEdge(ctx, "base_template", a.ID, b.ID, models.EdgeCounters{Jump: 7, UserSelect: 3})
	require.NoError(t, err)
	_, err = db.SetProperty(ctx, TargetNodes, "durationSeconds", 180)
	require.NoError(t, err)

	songs, edges, err := db.CloneNamespace(ctx, "base_template", "G_u1_new", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), songs)
	assert.Equal(t, int64(1), edges)

	copied, err := db.FindSong(ctx, "G_u1_new", "B", "X")
	require.NoError(t, err)
	assert.NotEqual(t, b.ID, copied.ID)
	assert.Zero(t, copied.ListenCount)
	assert.Zero(t, copied.RandomSelectCount)
	assert.Nil(t, copied.ListenedAt)
	assert.Contains(t, copied.Properties, "durationSeconds")

	cloned, err := db.ListEdges(ctx, "G_u1_new")
	require.NoError(t, err)
	require.Len(t, cloned, 1)
	assert.Equal(t, int64(1), cloned[0].JumpCount)
	assert.Zero(t, cloned[0].UserSelectCount)

	// The template is untouched
	orig, err := db.FindSong(ctx, "base_template", "B", "X")
	require.NoError(t, err)
	assert.Equal(t, int64(1), orig.RandomSelectCount)
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestMergeSongProperties(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.UpsertSong(ctx, "ns_a", "A", "X", models.SongCounters{})
	require.NoError(t, err)

	require.NoError(t, db.MergeSongProperties(ctx, "ns_a", a.ID, map[string]any{"durationSeconds": 180}))
	require.NoError(t, db.MergeSongProperties(ctx, "ns_a", a.ID, map[string]any{"album": "Blue"}))

	song, err := db.GetSongByID(ctx, "ns_a", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "180", fmt.Sprint(song.Properties["durationSeconds"]))
	assert.Equal(t, "Blue", song.Properties["album"])

	err = db.MergeSongProperties(ctx, "ns_b", a.ID, map[string]any{"album": "Blue"})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	err = db.MergeSongProperties(ctx, "ns_a", a.ID, map[string]any{"bad key": 1})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))
}
