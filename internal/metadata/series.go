package metadata

import (
	"errors"
	"fmt"
)

// ErrNoNextEpisode is returned when no episode data exists past the given episode.
var ErrNoNextEpisode = errors.New("no following episode")

// SeriesData holds the ids and per-season episode counts of a series.
// Zero ids are unknown. EpisodesPerSeason is indexed by season number and
// holds the highest known episode number, with gaps filled by 0.
type SeriesData struct {
	SeriesID          string
	TVMazeID          int
	TVRageID          int
	TVDBID            int
	EpisodesPerSeason []int
}

// SetEpisode records that an episode exists, growing the season table as needed.
func (d *SeriesData) SetEpisode(season, episode int) {
	if season < 0 || episode < 0 {
		return
	}
	for len(d.EpisodesPerSeason) <= season {
		d.EpisodesPerSeason = append(d.EpisodesPerSeason, 0)
	}
	d.EpisodesPerSeason[season] = max(d.EpisodesPerSeason[season], episode)
}

// EpisodesIn returns the highest known episode number of a season.
func (d *SeriesData) EpisodesIn(season int) int {
	if d == nil || season < 0 || season >= len(d.EpisodesPerSeason) {
		return 0
	}
	return d.EpisodesPerSeason[season]
}

// Merge folds other into d. Ids already known in d win; episode counts take
// the maximum of both.
func (d *SeriesData) Merge(other *SeriesData) {
	if other == nil {
		return
	}
	if d.TVMazeID == 0 {
		d.TVMazeID = other.TVMazeID
	}
	if d.TVRageID == 0 {
		d.TVRageID = other.TVRageID
	}
	if d.TVDBID == 0 {
		d.TVDBID = other.TVDBID
	}
	for season, count := range other.EpisodesPerSeason {
		if count > 0 {
			d.SetEpisode(season, count)
		}
	}
}

// NextEpisode returns the episode following season/episode, rolling over into
// the next season once the current one is exhausted.
func NextEpisode(d *SeriesData, season, episode int) (int, int, error) {
	if episode < d.EpisodesIn(season) {
		return season, episode + 1, nil
	}
	if d.EpisodesIn(season+1) < 1 {
		return 0, 0, fmt.Errorf("%w: S%02dE%02d", ErrNoNextEpisode, season, episode)
	}
	return season + 1, 1, nil
}
