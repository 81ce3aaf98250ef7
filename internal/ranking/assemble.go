package ranking

import "github.com/byoiap/byoiap/internal/indexer"

// Assemble groups sorted items by status: ready first, then cached, then
// items without a status, then failed ones. Only the unstatused group is
// capped per quality tier, and past the first MinPerQuality items of a tier
// items with more downvotes than upvotes are dropped.
func (r *Ranker) Assemble(items []*indexer.Item) []*indexer.Item {
	var ready, cached, unknown, failed []*indexer.Item

	var (
		tierQuality int
		tierCount   int
		inTier      bool
	)
	for _, item := range items {
		switch item.Status {
		case indexer.StatusReady:
			ready = append(ready, item)
		case indexer.StatusCached:
			cached = append(cached, item)
		case indexer.StatusFailed:
			failed = append(failed, item)
		default:
			if !inTier || item.ExpectedQuality != tierQuality {
				tierQuality, tierCount, inTier = item.ExpectedQuality, 0, true
			}
			tierCount++
			if tierCount > r.Limits.MaxPerQuality {
				continue
			}
			if tierCount > r.Limits.MinPerQuality && item.IsBad() {
				continue
			}
			unknown = append(unknown, item)
		}
	}

	out := make([]*indexer.Item, 0, len(ready)+len(cached)+len(unknown)+len(failed))
	out = append(out, ready...)
	out = append(out, cached...)
	out = append(out, unknown...)
	return append(out, failed...)
}
