package torbox

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/provider"
)

// hashesPerRequest bounds the length of checkcached request lines.
const hashesPerRequest = 50

type libraryResult struct {
	done chan struct{}
	lib  library
	err  error
}

// BuildCacheChecker starts enumerating the account library right away and
// returns a checker that combines it with a content hash cache probe.
func (c *Client) BuildCacheChecker(ctx context.Context, cfg provider.Config) provider.CacheChecker {
	res := &libraryResult{done: make(chan struct{})}
	if err := cfg.Validate(); err != nil {
		res.err = err
		close(res.done)
	} else {
		go func() {
			defer close(res.done)
			res.lib, res.err = c.fetchLibrary(ctx, cfg)
		}()
	}

	return func(ctx context.Context, items []*indexer.Item) ([]*indexer.Item, error) {
		if len(items) == 0 {
			return []*indexer.Item{}, nil
		}
		return c.checkItems(ctx, cfg, res, items)
	}
}

func urlHash(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

func (c *Client) checkItems(ctx context.Context, cfg provider.Config, res *libraryResult, items []*indexer.Item) ([]*indexer.Item, error) {
	byHash := make(map[string][]*indexer.Item, len(items))
	var hashes []string
	for _, item := range items {
		h := urlHash(item.URL)
		if _, ok := byHash[h]; !ok {
			hashes = append(hashes, h)
		}
		byHash[h] = append(byHash[h], item)
	}

	var (
		mu   sync.Mutex
		hits = make(map[*indexer.Item]*usenetFile)
	)

	p := pool.New().WithErrors().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		select {
		case <-res.done:
			return res.err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	for start := 0; start < len(hashes); start += hashesPerRequest {
		chunk := hashes[start:min(start+hashesPerRequest, len(hashes))]
		p.Go(func(ctx context.Context) error {
			entries, err := c.checkCached(ctx, cfg, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, entry := range entries {
				file := preferredFile(entry.Files, "")
				if file == nil {
					continue
				}
				for _, item := range byHash[entry.Hash] {
					hits[item] = file
				}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	available := applyStatuses(items, hits, res.lib)
	c.logger.Debug().
		Int("items", len(items)).
		Int("cached", len(hits)).
		Int("available", len(available)).
		Msg("Cache check complete")
	return available, nil
}

// applyStatuses sets item statuses from both probes and returns the items that
// are cached or ready. A finished library submission beats a cache hit, which
// beats a submission that is still downloading or has failed.
func applyStatuses(items []*indexer.Item, hits map[*indexer.Item]*usenetFile, lib library) []*indexer.Item {
	available := make([]*indexer.Item, 0)
	for _, item := range items {
		entry, inLibrary := lib[submissionName(item.Title, item.GUID)]
		file, cached := hits[item]

		switch {
		case inLibrary && entry.Status == indexer.StatusReady:
			item.Status = indexer.StatusReady
			item.PendingPayload = entry.payload()
			fillFile(item, entry.File)
		case cached:
			item.Status = indexer.StatusCached
			fillFile(item, file)
		case inLibrary:
			item.Status = entry.Status
			if entry.Status == indexer.StatusDownloading {
				item.PendingPayload = entry.payload()
			}
			continue
		default:
			continue
		}
		available = append(available, item)
	}
	return available
}

func fillFile(item *indexer.Item, file *usenetFile) {
	item.FileName = file.ShortName
	item.Mimetype = file.Mimetype
	if file.OpenSubtitlesHash != nil {
		item.OpenSubtitlesHash = *file.OpenSubtitlesHash
	}
	if file.Size > 0 {
		item.Size = file.Size
	}
}

func (c *Client) checkCached(ctx context.Context, cfg provider.Config, hashes []string) ([]cachedEntry, error) {
	q := url.Values{}
	q.Set("hash", strings.Join(hashes, ","))
	q.Set("format", "list")
	q.Set("list_files", "true")

	var resp cachedResponse
	if err := c.getJSON(ctx, cfg, "checkcached", q, &resp); err != nil {
		return nil, err
	}
	entries, err := resp.entries()
	if err != nil {
		return nil, backend.NewProtocolError(ID, "failed to decode cached entries", err)
	}
	return entries, nil
}
