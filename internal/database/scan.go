package database

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"songmap/pkg/models"
)

var songFields = []string{
	"id", "namespace", "name", "artist", "listened_at", "listen_count", "full_play_count",
	"skip_count", "user_select_count", "random_select_count", "props",
}

var edgeFields = []string{
	"id", "namespace", "from_id", "to_id", "jump_count", "user_select_count", "random_select_count", "props",
}

// columns renders a column list, prefixed with alias when given.
func columns(fields []string, alias string) string {
	if alias == "" {
		return strings.Join(fields, ", ")
	}
	prefixed := make([]string, len(fields))
	for i, f := range fields {
		prefixed[i] = alias + "." + f
	}
	return strings.Join(prefixed, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// songRow holds the raw columns of a songs row while it is scanned.
type songRow struct {
	song       models.Song
	listenedAt sql.NullInt64
	props      string
}

func (r *songRow) targets() []any {
	s := &r.song
	return []any{
		&s.ID, &s.Namespace, &s.Name, &s.Artist, &r.listenedAt, &s.ListenCount, &s.FullPlayCount,
		&s.SkipCount, &s.UserSelectCount, &s.RandomSelectCount, &r.props,
	}
}

func (r *songRow) result() (models.Song, error) {
	s := r.song
	if r.listenedAt.Valid {
		t := fromMillis(r.listenedAt.Int64)
		s.ListenedAt = &t
	}
	props, err := decodeProps(r.props)
	if err != nil {
		return models.Song{}, fmt.Errorf("song %d: %w", s.ID, err)
	}
	s.Properties = props
	return s, nil
}

type edgeRow struct {
	edge  models.Edge
	props string
}

func (r *edgeRow) targets() []any {
	e := &r.edge
	return []any{
		&e.ID, &e.Namespace, &e.FromID, &e.ToID, &e.JumpCount, &e.UserSelectCount, &e.RandomSelectCount, &r.props,
	}
}

func (r *edgeRow) result() (models.Edge, error) {
	e := r.edge
	props, err := decodeProps(r.props)
	if err != nil {
		return models.Edge{}, fmt.Errorf("edge %d: %w", e.ID, err)
	}
	e.Properties = props
	return e, nil
}

func scanSong(row rowScanner) (models.Song, error) {
	var r songRow
	if err := row.Scan(r.targets()...); err != nil {
		return models.Song{}, err
	}
	return r.result()
}

func scanEdge(row rowScanner) (models.Edge, error) {
	var r edgeRow
	if err := row.Scan(r.targets()...); err != nil {
		return models.Edge{}, err
	}
	return r.result()
}

// scanEdgeSong scans a row holding edge columns followed by song columns.
func scanEdgeSong(row rowScanner) (models.Edge, models.Song, error) {
	var er edgeRow
	var sr songRow
	if err := row.Scan(append(er.targets(), sr.targets()...)...); err != nil {
		return models.Edge{}, models.Song{}, err
	}
	edge, err := er.result()
	if err != nil {
		return models.Edge{}, models.Song{}, err
	}
	song, err := sr.result()
	if err != nil {
		return models.Edge{}, models.Song{}, err
	}
	return edge, song, nil
}

// decodeProps decodes the props JSON column. Numbers keep their textual form
// so integers do not turn into floats.
func decodeProps(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	return props, nil
}
