package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/ident"
	"songmap/pkg/models"
)

const graphColumns = `g.id, g.name, g.tag, g.kind, g.cover_color, g.created_at, g.updated_at`

func scanGraph(row rowScanner, extra ...any) (models.Graph, error) {
	var g models.Graph
	var kind string
	var createdAt, updatedAt int64
	targets := append([]any{&g.ID, &g.Name, &g.Tag, &kind, &g.CoverColor, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(targets...); err != nil {
		return models.Graph{}, err
	}
	g.Kind = models.GraphKind(kind)
	g.CreatedAt = fromMillis(createdAt)
	g.UpdatedAt = fromMillis(updatedAt)
	return g, nil
}

// CreateGraph stores the metadata of g and makes ownerID its owner in one
// transaction. ID and timestamps are filled in on g. A tag that is already
// taken fails with Conflict.
func (db *Database) CreateGraph(ctx context.Context, ownerID int64, g *models.Graph) error {
	if err := ident.Validate("namespace", g.Tag); err != nil {
		return err
	}

	now := db.now()
	created, err := once(ctx, db, "create_graph", func(ctx context.Context) (models.Graph, error) {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return models.Graph{}, err
		}
		defer tx.Rollback()

		result, err := tx.ExecContext(ctx, `
			INSERT INTO graphs (name, tag, kind, cover_color, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			g.Name, g.Tag, string(g.Kind), g.CoverColor, toMillis(now), toMillis(now))
		if err != nil {
			return models.Graph{}, err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return models.Graph{}, err
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO graph_owners (user_id, graph_id) VALUES (?, ?)`, ownerID, id); err != nil {
			return models.Graph{}, err
		}
		if err := tx.Commit(); err != nil {
			return models.Graph{}, err
		}

		out := *g
		out.ID = id
		out.OwnerID = ownerID
		out.CreatedAt = fromMillis(toMillis(now))
		out.UpdatedAt = out.CreatedAt
		return out, nil
	})
	if err != nil {
		return err
	}

	*g = created
	db.logger.WithFields(logrus.Fields{
		"graph_id": g.ID,
		"owner_id": ownerID,
		"tag":      g.Tag,
	}).Info("Created graph")
	return nil
}

// ResolveGraph returns graphID's metadata if userID owns it. A missing graph
// fails with NotFound and a graph owned by someone else with Forbidden.
func (db *Database) ResolveGraph(ctx context.Context, userID, graphID int64) (*models.Graph, error) {
	return retried(ctx, db, "resolve_graph", func(ctx context.Context) (*models.Graph, error) {
		var owner sql.NullInt64
		row := db.conn.QueryRowContext(ctx, `
			SELECT `+graphColumns+`, o.user_id
			FROM graphs g LEFT JOIN graph_owners o ON o.graph_id = g.id
			WHERE g.id = ?`, graphID)
		g, err := scanGraph(row, &owner)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "graph %d not found", graphID)
		}
		if err != nil {
			return nil, err
		}
		if !owner.Valid || owner.Int64 != userID {
			return nil, apperr.Forbidden("graph %d does not belong to the current user", graphID)
		}
		g.OwnerID = owner.Int64
		return &g, nil
	})
}

// ListGraphs returns the graphs owned by userID, newest first
func (db *Database) ListGraphs(ctx context.Context, userID int64) ([]models.Graph, error) {
	return retried(ctx, db, "list_graphs", func(ctx context.Context) ([]models.Graph, error) {
		rows, err := db.conn.QueryContext(ctx, `
			SELECT `+graphColumns+`
			FROM graphs g JOIN graph_owners o ON o.graph_id = g.id
			WHERE o.user_id = ?
			ORDER BY g.created_at DESC, g.id DESC`, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		graphs := []models.Graph{}
		for rows.Next() {
			g, err := scanGraph(rows)
			if err != nil {
				return nil, err
			}
			g.OwnerID = userID
			graphs = append(graphs, g)
		}
		return graphs, rows.Err()
	})
}

// DeleteGraph removes a graph's metadata and ownership. Songs and edges
// tagged with its namespace are left in place.
func (db *Database) DeleteGraph(ctx context.Context, graphID int64) error {
	deleted, err := once(ctx, db, "delete_graph", func(ctx context.Context) (int64, error) {
		result, err := db.conn.ExecContext(ctx, `DELETE FROM graphs WHERE id = ?`, graphID)
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return apperr.New(apperr.KindNotFound, "graph %d not found", graphID)
	}

	db.logger.WithField("graph_id", graphID).Info("Deleted graph metadata")
	return nil
}

// CloneNamespace copies every song and edge of from into to. Copied songs
// keep name, artist and properties with counters reset and no listen time.
// Edges are re-created between the copies, matched by name and artist, with
// jump count seedJump and zero selection counters. Runs in one transaction
// and returns the number of songs and edges written.
func (db *Database) CloneNamespace(ctx context.Context, from, to string, seedJump int64) (songs, edges int64, err error) {
	if err := ident.Validate("namespace", from); err != nil {
		return 0, 0, err
	}
	if err := ident.Validate("namespace", to); err != nil {
		return 0, 0, err
	}

	type counts struct{ songs, edges int64 }
	c, err := once(ctx, db, "clone_namespace", func(ctx context.Context) (counts, error) {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return counts{}, err
		}
		defer tx.Rollback()

		songResult, err := tx.ExecContext(ctx, `
			INSERT INTO songs (namespace, name, artist, listened_at, listen_count, full_play_count,
				skip_count, user_select_count, random_select_count, props)
			SELECT ?, name, artist, NULL, 0, 0, 0, 0, 0, props
			FROM songs WHERE namespace = ?
			ON CONFLICT (namespace, name, artist) DO NOTHING`, to, from)
		if err != nil {
			return counts{}, err
		}

		edgeResult, err := tx.ExecContext(ctx, `
			INSERT INTO next_edges (namespace, from_id, to_id, jump_count, user_select_count, random_select_count, props)
			SELECT ?, nf.id, nt.id, ?, 0, 0, e.props
			FROM next_edges e
			JOIN songs sf ON sf.id = e.from_id
			JOIN songs st ON st.id = e.to_id
			JOIN songs nf ON nf.namespace = ? AND nf.name = sf.name AND nf.artist = sf.artist
			JOIN songs nt ON nt.namespace = ? AND nt.name = st.name AND nt.artist = st.artist
			WHERE e.namespace = ?
			ON CONFLICT (from_id, to_id) DO NOTHING`, to, seedJump, to, to, from)
		if err != nil {
			return counts{}, err
		}

		if err := tx.Commit(); err != nil {
			return counts{}, err
		}

		var c counts
		c.songs, _ = songResult.RowsAffected()
		c.edges, _ = edgeResult.RowsAffected()
		return c, nil
	})
	if err != nil {
		return 0, 0, err
	}

	db.logger.WithFields(logrus.Fields{
		"from":  from,
		"to":    to,
		"songs": c.songs,
		"edges": c.edges,
	}).Info("Cloned namespace")
	return c.songs, c.edges, nil
}
