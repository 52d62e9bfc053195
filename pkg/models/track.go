package models

// Track is an audio file found while scanning a music library. It is only
// used to seed the template graph and is never stored as-is.
type Track struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	TrackNumber int    `json:"trackNumber"`
	Duration    int    `json:"duration"` // in seconds
	FilePath    string `json:"-"`
}
