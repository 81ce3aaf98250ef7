package torbox

import (
	"context"
	"net/url"
	"strconv"

	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/provider"
)

// libraryEntry is an existing submission in the account, classified for the
// cache checker.
type libraryEntry struct {
	ID     int64
	Status indexer.Status
	// File is the preferred file of finished submissions.
	File *usenetFile
}

// library maps submission names to entries.
type library map[string]libraryEntry

// fetchLibrary enumerates every submission of the account.
func (c *Client) fetchLibrary(ctx context.Context, cfg provider.Config) (library, error) {
	lib := make(library)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(libraryPageSize))

	for page := 0; ; page++ {
		q.Set("offset", strconv.Itoa(page*libraryPageSize))

		var resp listResponse
		if err := c.getJSON(ctx, cfg, "mylist", q, &resp); err != nil {
			return nil, err
		}
		if !resp.Success {
			break
		}

		for i := range resp.Data {
			d := &resp.Data[i]
			if d.Name == "" {
				continue
			}
			if entry, ok := classify(d); ok {
				lib[d.Name] = entry
			}
		}

		if len(resp.Data) < libraryPageSize {
			break
		}
	}

	c.logger.Debug().Int("entries", len(lib)).Msg("Fetched library")
	return lib, nil
}

func classify(d *usenetDownload) (libraryEntry, bool) {
	if !d.finished() {
		if d.Active {
			return libraryEntry{ID: d.ID, Status: indexer.StatusDownloading}, true
		}
		return libraryEntry{ID: d.ID, Status: indexer.StatusFailed}, true
	}

	file := preferredFile(d.Files, "")
	if file == nil {
		return libraryEntry{}, false
	}
	return libraryEntry{ID: d.ID, Status: indexer.StatusReady, File: file}, true
}

// payload returns the resume token pointing at the entry.
func (e libraryEntry) payload() string {
	p := provider.PendingPayload{SubmissionID: e.ID}
	if e.File != nil {
		p.FileID = e.File.ID
		p.HasFile = true
	}
	return p.String()
}
