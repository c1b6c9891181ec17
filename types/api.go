package types

// AudioMetadata represents tags read from a downloaded audio file
type AudioMetadata struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	Format      string `json:"format,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
}

// BatchRequest is the body of POST /downloads/batch
type BatchRequest struct {
	Tracks        []JobDescriptor `json:"tracks"`
	PlaylistID    string          `json:"playlist_id,omitempty"`
	PlaylistTitle string          `json:"playlist_title,omitempty"`
}
