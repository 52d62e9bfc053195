package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/ident"
	"songmap/pkg/models"
)

// The SELECT only yields a row when both songs exist in the namespace and
// differ, so a missing endpoint surfaces as no returned row.
var upsertEdgeQuery = fmt.Sprintf(`
	INSERT INTO next_edges (namespace, from_id, to_id, jump_count, user_select_count, random_select_count)
	SELECT ?, f.id, t.id, ?, ?, ?
	FROM songs f, songs t
	WHERE f.id = ? AND t.id = ? AND f.namespace = ? AND t.namespace = ? AND f.id <> t.id
	ON CONFLICT (from_id, to_id) DO UPDATE SET
		jump_count = COALESCE(jump_count, 0) + excluded.jump_count,
		user_select_count = COALESCE(user_select_count, 0) + excluded.user_select_count,
		random_select_count = COALESCE(random_select_count, 0) + excluded.random_select_count
	RETURNING %s`, columns(edgeFields, ""))

// UpsertEdge creates the NEXT edge fromID -> toID seeded with inc, or adds
// inc to the existing edge. Both songs must belong to namespace.
func (db *Database) UpsertEdge(ctx context.Context, namespace string, fromID, toID int64, inc models.EdgeCounters) (*models.Edge, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}
	if fromID == toID {
		return nil, apperr.InvalidArgument("song %d cannot follow itself", fromID)
	}
	if inc.Jump < 0 || inc.UserSelect < 0 || inc.RandomSelect < 0 {
		return nil, apperr.InvalidArgument("counter increments cannot be negative")
	}

	return retried(ctx, db, "upsert_edge", func(ctx context.Context) (*models.Edge, error) {
		row := db.conn.QueryRowContext(ctx, upsertEdgeQuery,
			namespace, inc.Jump, inc.UserSelect, inc.RandomSelect,
			fromID, toID, namespace, namespace)
		edge, err := scanEdge(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "songs %d and %d not found in graph", fromID, toID)
		}
		if err != nil {
			return nil, err
		}
		return &edge, nil
	})
}

// FindNeighbors returns every song adjacent to songID in namespace: targets
// of its outgoing edges as OUT and sources of its incoming edges as IN. A
// song linked both ways appears twice.
func (db *Database) FindNeighbors(ctx context.Context, namespace string, songID int64) ([]models.Neighbor, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT 'OUT', %[1]s, %[2]s FROM next_edges e JOIN songs s ON s.id = e.to_id
		WHERE e.from_id = ? AND e.namespace = ?
		UNION ALL
		SELECT 'IN', %[1]s, %[2]s FROM next_edges e JOIN songs s ON s.id = e.from_id
		WHERE e.to_id = ? AND e.namespace = ?`,
		columns(edgeFields, "e"), columns(songFields, "s"))

	return retried(ctx, db, "find_neighbors", func(ctx context.Context) ([]models.Neighbor, error) {
		rows, err := db.conn.QueryContext(ctx, query, songID, namespace, songID, namespace)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var neighbors []models.Neighbor
		for rows.Next() {
			var direction string
			var er edgeRow
			var sr songRow
			targets := append([]any{&direction}, er.targets()...)
			if err := rows.Scan(append(targets, sr.targets()...)...); err != nil {
				return nil, err
			}
			edge, err := er.result()
			if err != nil {
				return nil, err
			}
			song, err := sr.result()
			if err != nil {
				return nil, err
			}
			neighbors = append(neighbors, models.Neighbor{
				Direction: models.Direction(direction),
				Edge:      edge,
				Song:      song,
			})
		}
		return neighbors, rows.Err()
	})
}

// GetEdgeByID returns an edge of namespace by id
func (db *Database) GetEdgeByID(ctx context.Context, namespace string, id int64) (*models.Edge, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}
	return retried(ctx, db, "get_edge", func(ctx context.Context) (*models.Edge, error) {
		row := db.conn.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM next_edges WHERE namespace = ? AND id = ?`, columns(edgeFields, "")),
			namespace, id)
		edge, err := scanEdge(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "edge %d not found", id)
		}
		if err != nil {
			return nil, err
		}
		return &edge, nil
	})
}

// FindEdgeByNames returns the first edge of namespace running from a song
// called fromName to a song called toName.
func (db *Database) FindEdgeByNames(ctx context.Context, namespace, fromName, toName string) (*models.Edge, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM next_edges e
		JOIN songs f ON f.id = e.from_id
		JOIN songs t ON t.id = e.to_id
		WHERE e.namespace = ? AND f.name = ? AND t.name = ?
		ORDER BY e.id LIMIT 1`, columns(edgeFields, "e"))

	return retried(ctx, db, "find_edge", func(ctx context.Context) (*models.Edge, error) {
		edge, err := scanEdge(db.conn.QueryRowContext(ctx, query, namespace, fromName, toName))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "edge between %q and %q not found", fromName, toName)
		}
		if err != nil {
			return nil, err
		}
		return &edge, nil
	})
}

// GetEdgeDetail returns an edge together with both endpoint songs
func (db *Database) GetEdgeDetail(ctx context.Context, namespace string, id int64) (*models.EdgeDetail, error) {
	edge, err := db.GetEdgeByID(ctx, namespace, id)
	if err != nil {
		return nil, err
	}
	source, err := db.GetSongByID(ctx, namespace, edge.FromID)
	if err != nil {
		return nil, err
	}
	target, err := db.GetSongByID(ctx, namespace, edge.ToID)
	if err != nil {
		return nil, err
	}
	return &models.EdgeDetail{Edge: *edge, Source: *source, Target: *target}, nil
}

// ListEdges returns every edge of namespace ordered by id
func (db *Database) ListEdges(ctx context.Context, namespace string) ([]models.Edge, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}
	return retried(ctx, db, "list_edges", func(ctx context.Context) ([]models.Edge, error) {
		rows, err := db.conn.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s FROM next_edges WHERE namespace = ? ORDER BY id`, columns(edgeFields, "")),
			namespace)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		edges := []models.Edge{}
		for rows.Next() {
			edge, err := scanEdge(rows)
			if err != nil {
				return nil, err
			}
			edges = append(edges, edge)
		}
		return edges, rows.Err()
	})
}

// DeleteEdgesByNames removes the edges of namespace running from any song
// called fromName to any song called toName. Returns the number removed.
func (db *Database) DeleteEdgesByNames(ctx context.Context, namespace, fromName, toName string) (int64, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return 0, err
	}
	deleted, err := once(ctx, db, "delete_edges", func(ctx context.Context) (int64, error) {
		result, err := db.conn.ExecContext(ctx, `
			DELETE FROM next_edges
			WHERE namespace = ?
			AND from_id IN (SELECT id FROM songs WHERE namespace = ? AND name = ?)
			AND to_id IN (SELECT id FROM songs WHERE namespace = ? AND name = ?)`,
			namespace, namespace, fromName, namespace, toName)
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	})
	if err != nil {
		return 0, err
	}

	db.logger.WithFields(logrus.Fields{
		"namespace": namespace,
		"from":      fromName,
		"to":        toName,
		"deleted":   deleted,
	}).Info("Deleted edges by song names")
	return deleted, nil
}
