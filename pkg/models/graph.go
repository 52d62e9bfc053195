package models

import "time"

// GraphKind is how a graph was created.
type GraphKind string

const (
	GraphKindEmpty    GraphKind = "empty"
	GraphKindTemplate GraphKind = "template"
)

// Graph is the metadata of one user-owned listening graph. Tag is the
// namespace every node and edge of the graph carries.
type Graph struct {
	ID         int64     `json:"id"`
	OwnerID    int64     `json:"ownerId"`
	Name       string    `json:"name"`
	Tag        string    `json:"nodeLabel"`
	Kind       GraphKind `json:"type"`
	CoverColor string    `json:"coverColor"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// User is an account that owns graphs.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Avatar       string    `json:"avatar"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GraphData is the whole graph in the shape the visualization expects.
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// GraphNode is a node of GraphData.
type GraphNode struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	SymbolSize int    `json:"symbolSize"`
	Category   int    `json:"category"`
}

// GraphLink is a link of GraphData.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int64  `json:"value"`
}
