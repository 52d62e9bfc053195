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

var upsertSongQuery = fmt.Sprintf(`
	INSERT INTO songs (namespace, name, artist, listened_at, listen_count, full_play_count,
		skip_count, user_select_count, random_select_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (namespace, name, artist) DO UPDATE SET
		listen_count = COALESCE(listen_count, 0) + excluded.listen_count,
		full_play_count = COALESCE(full_play_count, 0) + excluded.full_play_count,
		skip_count = COALESCE(skip_count, 0) + excluded.skip_count,
		user_select_count = COALESCE(user_select_count, 0) + excluded.user_select_count,
		random_select_count = COALESCE(random_select_count, 0) + excluded.random_select_count,
		listened_at = excluded.listened_at
	RETURNING %s`, columns(songFields, ""))

// UpsertSong finds or creates the (name, artist) song in namespace and adds
// inc to its counters in one statement. A new song is seeded with inc.
func (db *Database) UpsertSong(ctx context.Context, namespace, name, artist string, inc models.SongCounters) (*models.Song, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}
	if inc.Listen < 0 || inc.FullPlay < 0 || inc.Skip < 0 || inc.UserSelect < 0 || inc.RandomSelect < 0 {
		return nil, apperr.InvalidArgument("counter increments cannot be negative")
	}

	listenedAt := toMillis(db.now())
	return retried(ctx, db, "upsert_song", func(ctx context.Context) (*models.Song, error) {
		row := db.conn.QueryRowContext(ctx, upsertSongQuery,
			namespace, name, artist, listenedAt,
			inc.Listen, inc.FullPlay, inc.Skip, inc.UserSelect, inc.RandomSelect)
		song, err := scanSong(row)
		if err != nil {
			return nil, err
		}
		return &song, nil
	})
}

// GetSongByID returns a song of namespace by id
func (db *Database) GetSongByID(ctx context.Context, namespace string, id int64) (*models.Song, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}
	return retried(ctx, db, "get_song", func(ctx context.Context) (*models.Song, error) {
		row := db.conn.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM songs WHERE namespace = ? AND id = ?`, columns(songFields, "")),
			namespace, id)
		song, err := scanSong(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "song %d not found", id)
		}
		if err != nil {
			return nil, err
		}
		return &song, nil
	})
}

// FindSong returns the song with identity (name, artist) in namespace
func (db *Database) FindSong(ctx context.Context, namespace, name, artist string) (*models.Song, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}
	return retried(ctx, db, "find_song", func(ctx context.Context) (*models.Song, error) {
		row := db.conn.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT %s FROM songs WHERE namespace = ? AND name = ? AND artist = ?`, columns(songFields, "")),
			namespace, name, artist)
		song, err := scanSong(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindNotFound, "song %q by %q not found", name, artist)
		}
		if err != nil {
			return nil, err
		}
		return &song, nil
	})
}

// GetNodeDetail returns a song of namespace with its outgoing and incoming
// edges and the songs at their far ends.
func (db *Database) GetNodeDetail(ctx context.Context, namespace string, id int64) (*models.NodeDetail, error) {
	self, err := db.GetSongByID(ctx, namespace, id)
	if err != nil {
		return nil, err
	}

	return retried(ctx, db, "get_node_detail", func(ctx context.Context) (*models.NodeDetail, error) {
		detail := &models.NodeDetail{
			Self:     *self,
			Outgoing: []models.AdjacentSong{},
			Incoming: []models.AdjacentSong{},
		}

		out, err := db.adjacent(ctx, `e.from_id = ?`, `s.id = e.to_id`, id)
		if err != nil {
			return nil, err
		}
		in, err := db.adjacent(ctx, `e.to_id = ?`, `s.id = e.from_id`, id)
		if err != nil {
			return nil, err
		}
		detail.Outgoing = append(detail.Outgoing, out...)
		detail.Incoming = append(detail.Incoming, in...)
		return detail, nil
	})
}

func (db *Database) adjacent(ctx context.Context, where, join string, id int64) ([]models.AdjacentSong, error) {
	query := fmt.Sprintf(`SELECT %s, %s FROM next_edges e JOIN songs s ON %s WHERE %s ORDER BY e.id`,
		columns(edgeFields, "e"), columns(songFields, "s"), join, where)
	rows, err := db.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.AdjacentSong
	for rows.Next() {
		edge, song, err := scanEdgeSong(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, models.AdjacentSong{Edge: edge, Song: song})
	}
	return result, rows.Err()
}

// ListSongs returns every song of namespace ordered by id
func (db *Database) ListSongs(ctx context.Context, namespace string) ([]models.Song, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return nil, err
	}
	return retried(ctx, db, "list_songs", func(ctx context.Context) ([]models.Song, error) {
		rows, err := db.conn.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s FROM songs WHERE namespace = ? ORDER BY id`, columns(songFields, "")),
			namespace)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		songs := []models.Song{}
		for rows.Next() {
			song, err := scanSong(rows)
			if err != nil {
				return nil, err
			}
			songs = append(songs, song)
		}
		return songs, rows.Err()
	})
}

// DeleteSongsByName removes every song called name in namespace together
// with all edges touching them. Songs sharing a name but not an artist are
// all removed. Returns the number of songs deleted.
func (db *Database) DeleteSongsByName(ctx context.Context, namespace, name string) (int64, error) {
	if err := ident.Validate("namespace", namespace); err != nil {
		return 0, err
	}
	deleted, err := once(ctx, db, "delete_songs", func(ctx context.Context) (int64, error) {
		// Edges go through ON DELETE CASCADE
		result, err := db.conn.ExecContext(ctx, `DELETE FROM songs WHERE namespace = ? AND name = ?`, namespace, name)
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
		"name":      name,
		"deleted":   deleted,
	}).Info("Deleted songs by name")
	return deleted, nil
}
