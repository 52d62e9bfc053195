package database

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
	"songmap/internal/ident"
)

// PropertyTarget selects the class a bulk property mutation applies to
type PropertyTarget string

const (
	TargetNodes PropertyTarget = "nodes"
	TargetEdges PropertyTarget = "edges"
)

func (t PropertyTarget) table() (string, error) {
	switch t {
	case TargetNodes:
		return "songs", nil
	case TargetEdges:
		return "next_edges", nil
	default:
		return "", apperr.InvalidArgument("unknown property target %q", string(t))
	}
}

// SetProperty sets key to value on every node or every edge of every
// namespace. The key is spliced into the JSON path, so it must pass the
// safe identifier check first. Returns the number of rows touched.
func (db *Database) SetProperty(ctx context.Context, target PropertyTarget, key string, value any) (int64, error) {
	table, err := target.table()
	if err != nil {
		return 0, err
	}
	if err := ident.Validate("property key", key); err != nil {
		db.logger.WithField("key", key).Warn("Rejected unsafe property key")
		return 0, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInvalidArgument, err, "property value cannot be encoded")
	}

	query := fmt.Sprintf(`UPDATE %s SET props = json_set(props, '$."%s"', json(?))`, table, key)
	updated, err := retried(ctx, db, "set_property", func(ctx context.Context) (int64, error) {
		result, err := db.conn.ExecContext(ctx, query, string(encoded))
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	})
	if err != nil {
		return 0, err
	}

	db.logger.WithFields(logrus.Fields{
		"target":  string(target),
		"key":     key,
		"updated": updated,
	}).Info("Batch set property")
	return updated, nil
}

// RemoveProperty removes key from every node or every edge. Not retried.
func (db *Database) RemoveProperty(ctx context.Context, target PropertyTarget, key string) (int64, error) {
	table, err := target.table()
	if err != nil {
		return 0, err
	}
	if err := ident.Validate("property key", key); err != nil {
		db.logger.WithField("key", key).Warn("Rejected unsafe property key")
		return 0, err
	}

	query := fmt.Sprintf(`UPDATE %s SET props = json_remove(props, '$."%s"') WHERE json_type(props, '$."%s"') IS NOT NULL`, table, key, key)
	removed, err := once(ctx, db, "remove_property", func(ctx context.Context) (int64, error) {
		result, err := db.conn.ExecContext(ctx, query)
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	})
	if err != nil {
		return 0, err
	}

	db.logger.WithFields(logrus.Fields{
		"target":  string(target),
		"key":     key,
		"removed": removed,
	}).Warn("Batch removed property")
	return removed, nil
}

// MergeSongProperties merges props into one song's property object
func (db *Database) MergeSongProperties(ctx context.Context, namespace string, id int64, props map[string]any) error {
	if err := ident.Validate("namespace", namespace); err != nil {
		return err
	}
	for key := range props {
		if err := ident.Validate("property key", key); err != nil {
			return err
		}
	}

	encoded, err := json.Marshal(props)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidArgument, err, "properties cannot be encoded")
	}

	_, err = retried(ctx, db, "merge_song_properties", func(ctx context.Context) (struct{}, error) {
		result, err := db.conn.ExecContext(ctx,
			`UPDATE songs SET props = json_patch(props, ?) WHERE namespace = ? AND id = ?`,
			string(encoded), namespace, id)
		if err != nil {
			return struct{}{}, err
		}
		n, err := result.RowsAffected()
		if err == nil && n == 0 {
			return struct{}{}, apperr.NotFound("song")
		}
		return struct{}{}, err
	})
	return err
}
