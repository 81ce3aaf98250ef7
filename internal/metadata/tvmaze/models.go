package tvmaze

// Show is the subset of a TVMaze show used for id lookups.
type Show struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Externals Externals `json:"externals"`
}

// Externals holds the ids of a show on other services.
type Externals struct {
	TVRage  *int    `json:"tvrage"`
	TheTVDB *int    `json:"thetvdb"`
	IMDB    *string `json:"imdb"`
}

// Episode is a single TVMaze episode. Number is null for specials.
type Episode struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Season int    `json:"season"`
	Number *int   `json:"number"`
}
