package types

// MediaFile represents a downloaded media file found in the output directory
type MediaFile struct {
	Filename string         `json:"filename"`
	Path     string         `json:"path"`
	Size     int64          `json:"size"`
	Format   string         `json:"format"` // "m4a", "mp4", "webm", etc.
	Metadata *MediaMetadata `json:"metadata,omitempty"`
}

// MediaMetadata represents tag metadata for a media file
type MediaMetadata struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Genre  string `json:"genre,omitempty"`
	Year   int    `json:"year,omitempty"`
}

// VideoInfo is the subset of the external tool's JSON dump used to offer formats
type VideoInfo struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Channel   string   `json:"channel,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Formats   []Format `json:"formats"`
}

// FormatChoices are the formats a user can pick from, split by stream kind
type FormatChoices struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Channel   string   `json:"channel,omitempty"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Audio     []Format `json:"audio"`
	Video     []Format `json:"video"`
}
