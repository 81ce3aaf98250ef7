package scheduler

import (
	"context"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Sizer is anything that can report how many entries it holds.
type Sizer interface {
	Len() int
}

// CacheStatsTask logs the size of every named cache.
func CacheStatsTask(caches map[string]Sizer, logger zerolog.Logger) TaskFunc {
	return func(context.Context) error {
		ev := logger.Info()
		for _, name := range slices.Sorted(maps.Keys(caches)) {
			ev = ev.Str(name, humanize.Comma(int64(caches[name].Len())))
		}
		ev.Msg("Cache sizes")
		return nil
	}
}
