// Package recommend ranks the graph neighbors of a song as candidates for
// what to play next.
package recommend

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"songmap/internal/config"
	"songmap/internal/metrics"
	"songmap/pkg/models"
)

// Weights are the tunable constants of the scoring model
type Weights struct {
	UserSelect    float64
	Jump          float64
	Random        float64
	NodeFactor    float64
	MinBase       float64
	DirForward    float64
	DirBackward   float64
	DirRepeat     float64
	CoolingLambda float64
}

// WeightsFromConfig converts the [ranking] config section
func WeightsFromConfig(r config.RankingConfig) Weights {
	return Weights{
		UserSelect:    r.UserSelectWeight,
		Jump:          r.JumpWeight,
		Random:        r.RandomWeight,
		NodeFactor:    r.NodeFactor,
		MinBase:       r.MinBaseScore,
		DirForward:    r.DirForward,
		DirBackward:   r.DirBackward,
		DirRepeat:     r.DirRepeat,
		CoolingLambda: r.CoolingLambda,
	}
}

// DefaultWeights returns the reference weights
func DefaultWeights() Weights {
	return WeightsFromConfig(config.DefaultRanking())
}

// NeighborFinder reads the songs adjacent to a song
type NeighborFinder interface {
	FindNeighbors(ctx context.Context, namespace string, songID int64) ([]models.Neighbor, error)
}

// Engine scores neighbors. It holds no per-request state; weights can be
// swapped at any time and apply to the next request.
type Engine struct {
	store   NeighborFinder
	weights atomic.Pointer[Weights]
	now     func() time.Time
	logger  *logrus.Logger
}

// NewEngine creates an Engine. A nil clock means time.Now.
func NewEngine(store NeighborFinder, w Weights, clock func() time.Time, logger *logrus.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	e := &Engine{store: store, now: clock, logger: logger}
	e.weights.Store(&w)
	return e
}

// SetWeights replaces the weights used by later requests
func (e *Engine) SetWeights(w Weights) {
	e.weights.Store(&w)
	e.logger.WithField("weights", fmt.Sprintf("%+v", w)).Info("Recommendation weights updated")
}

// Weights returns the weights currently in use
func (e *Engine) Weights() Weights {
	return *e.weights.Load()
}

// Previous identifies the song played just before the current one, if any
type Previous struct {
	ID    int64
	Valid bool
}

// RecommendNext ranks every neighbor of currentID in namespace, best first.
// A song with no neighbors yields an empty list. Nothing is written.
func (e *Engine) RecommendNext(ctx context.Context, namespace string, currentID int64, previous Previous) ([]models.ScoredSong, error) {
	start := time.Now()
	defer func() {
		metrics.RecommendDuration.Observe(time.Since(start).Seconds())
	}()

	neighbors, err := e.store.FindNeighbors(ctx, namespace, currentID)
	if err != nil {
		return nil, err
	}
	metrics.RecommendCandidates.Observe(float64(len(neighbors)))

	w := e.Weights()
	now := e.now()

	ranked := make([]models.ScoredSong, 0, len(neighbors))
	for _, n := range neighbors {
		ranked = append(ranked, Score(n, previous, w, now).ScoredSong(n))
	}

	slices.SortStableFunc(ranked, func(a, b models.ScoredSong) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Song.ID, b.Song.ID); c != 0 {
			return c
		}
		// OUT before IN for a song linked both ways
		return cmp.Compare(directionRank(a.Direction), directionRank(b.Direction))
	})

	e.logger.WithFields(logrus.Fields{
		"namespace":  namespace,
		"current_id": currentID,
		"candidates": len(ranked),
	}).Debug("Ranked recommendations")
	return ranked, nil
}

func directionRank(d models.Direction) int {
	if d == models.DirectionOut {
		return 0
	}
	return 1
}

// Breakdown is every factor of one neighbor's score
type Breakdown struct {
	Edge      float64
	Node      float64
	Base      float64
	Direction float64
	Freshness float64
	Final     float64
}

// Explain renders the breakdown for humans
func (b Breakdown) Explain() string {
	return fmt.Sprintf("Base:%.1f(Edge:%.1f, Node:%.1f) * Dir:%.1f * Fresh:%.2f",
		b.Base, b.Edge, b.Node, b.Direction, b.Freshness)
}

// ScoredSong attaches the breakdown to its neighbor
func (b Breakdown) ScoredSong(n models.Neighbor) models.ScoredSong {
	return models.ScoredSong{
		Song:      n.Song,
		Direction: n.Direction,
		Score:     b.Final,
		Reason:    b.Explain(),
	}
}

// Score computes the score of one neighbor at time now.
//
//	edge  = edge.userSelect*W_user + edge.jump*W_jump - edge.random*W_random
//	node  = song.userSelect*W_user - song.random*W_random
//	base  = max(edge + NodeFactor*node, MinBase)
//	dir   = DirForward for OUT, DirBackward for IN, DirRepeat for the previous song
//	fresh = 1 - exp(-lambda * minutes since last listen), 1 if never listened
//	final = base * dir * fresh
func Score(n models.Neighbor, previous Previous, w Weights, now time.Time) Breakdown {
	var b Breakdown

	b.Edge = float64(n.Edge.UserSelectCount)*w.UserSelect +
		float64(n.Edge.JumpCount)*w.Jump -
		float64(n.Edge.RandomSelectCount)*w.Random
	b.Node = float64(n.Song.UserSelectCount)*w.UserSelect -
		float64(n.Song.RandomSelectCount)*w.Random
	b.Base = math.Max(b.Edge+w.NodeFactor*b.Node, w.MinBase)

	switch {
	case previous.Valid && n.Song.ID == previous.ID:
		b.Direction = w.DirRepeat
	case n.Direction == models.DirectionOut:
		b.Direction = w.DirForward
	default:
		b.Direction = w.DirBackward
	}

	b.Freshness = 1.0
	if n.Song.ListenedAt != nil {
		minutes := math.Max(now.Sub(*n.Song.ListenedAt).Minutes(), 0)
		b.Freshness = 1 - math.Exp(-w.CoolingLambda*minutes)
	}

	b.Final = b.Base * b.Direction * b.Freshness
	return b
}
