package cinemeta

// MetaResponse wraps a Cinemeta meta object.
type MetaResponse struct {
	Meta *Meta `json:"meta"`
}

// Meta is the subset of Cinemeta series metadata used for episode counts.
type Meta struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Videos []Video `json:"videos"`
}

// Video is one episode entry of a series.
type Video struct {
	ID      string `json:"id"`
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
	Number  int    `json:"number"`
}

// EpisodeNumber returns Episode, falling back to Number for older entries.
func (v Video) EpisodeNumber() int {
	if v.Episode > 0 {
		return v.Episode
	}
	return v.Number
}
