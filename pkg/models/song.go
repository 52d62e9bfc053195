package models

import "time"

// UnknownArtist is stored when a listen does not name the artist.
const UnknownArtist = "Unknown"

// Song is a node in a listening graph. Its identity is (Name, Artist) within
// the namespace it was created in.
type Song struct {
	ID                int64          `json:"id"`
	Namespace         string         `json:"-"`
	Name              string         `json:"name"`
	Artist            string         `json:"artist"`
	ListenedAt        *time.Time     `json:"listenedAt,omitempty"`
	ListenCount       int64          `json:"listenCount"`
	FullPlayCount     int64          `json:"fullPlayCount"`
	SkipCount         int64          `json:"skipCount"`
	UserSelectCount   int64          `json:"userSelectCount"`
	RandomSelectCount int64          `json:"randomSelectCount"`
	Properties        map[string]any `json:"properties,omitempty"`
}

// SongCounters holds the per-listen increments applied by an upsert.
type SongCounters struct {
	Listen       int64
	FullPlay     int64
	Skip         int64
	UserSelect   int64
	RandomSelect int64
}

// Edge is a NEXT relationship: To was played immediately after From.
type Edge struct {
	ID                int64          `json:"id"`
	Namespace         string         `json:"-"`
	FromID            int64          `json:"fromId"`
	ToID              int64          `json:"toId"`
	JumpCount         int64          `json:"jumpCount"`
	UserSelectCount   int64          `json:"userSelectCount"`
	RandomSelectCount int64          `json:"randomSelectCount"`
	Properties        map[string]any `json:"properties,omitempty"`
}

// EdgeCounters holds the increments applied by an edge upsert.
type EdgeCounters struct {
	Jump         int64
	UserSelect   int64
	RandomSelect int64
}

// Direction tells whether a neighbor is reached along an edge (OUT) or
// against it (IN).
type Direction string

const (
	DirectionOut Direction = "OUT"
	DirectionIn  Direction = "IN"
)

// Neighbor is one adjacent song together with the edge that connects it.
type Neighbor struct {
	Direction Direction `json:"direction"`
	Edge      Edge      `json:"edge"`
	Song      Song      `json:"node"`
}

// AdjacentSong pairs an edge with the song on its far side.
type AdjacentSong struct {
	Edge Edge `json:"edge"`
	Song Song `json:"song"`
}

// NodeDetail is a song with all of its incoming and outgoing edges.
type NodeDetail struct {
	Self     Song           `json:"self"`
	Outgoing []AdjacentSong `json:"outgoing"`
	Incoming []AdjacentSong `json:"incoming"`
}

// EdgeDetail is an edge with both endpoint songs.
type EdgeDetail struct {
	Edge   Edge `json:"edge"`
	Source Song `json:"source"`
	Target Song `json:"target"`
}

// NodeResult is either a bare song or a node detail bundle, selected by
// Detail.
type NodeResult struct {
	Detail     bool        `json:"detail"`
	Song       *Song       `json:"song,omitempty"`
	NodeDetail *NodeDetail `json:"nodeDetail,omitempty"`
}

// EdgeResult is either a bare edge or an edge detail bundle, selected by
// Detail.
type EdgeResult struct {
	Detail     bool        `json:"detail"`
	Edge       *Edge       `json:"edge,omitempty"`
	EdgeDetail *EdgeDetail `json:"edgeDetail,omitempty"`
}

// ScoredSong is a recommendation candidate.
type ScoredSong struct {
	Song      Song      `json:"song"`
	Direction Direction `json:"direction"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
}

// HistoryEntry is one recency cache item.
type HistoryEntry struct {
	SongID   int64  `json:"id"`
	SongName string `json:"name"`
}
