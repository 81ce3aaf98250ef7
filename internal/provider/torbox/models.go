package torbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// flexID accepts ids encoded as either JSON numbers or strings.
type flexID int64

func (id *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", data, err)
	}
	*id = flexID(n)
	return nil
}

// Error codes reported by the create endpoint.
const (
	errActiveLimit = "ACTIVE_LIMIT"
)

type createResponse struct {
	Success bool            `json:"success"`
	Error   *string         `json:"error"`
	Detail  string          `json:"detail"`
	Data    json.RawMessage `json:"data"`
}

type createData struct {
	UsenetDownloadID flexID `json:"usenetdownload_id"`
}

type usenetFile struct {
	ID                int64   `json:"id"`
	Size              int64   `json:"size"`
	Mimetype          string  `json:"mimetype"`
	ShortName         string  `json:"short_name"`
	OpenSubtitlesHash *string `json:"opensubtitles_hash"`
}

type usenetDownload struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Active           bool         `json:"active"`
	DownloadPresent  bool         `json:"download_present"`
	DownloadFinished bool         `json:"download_finished"`
	Files            []usenetFile `json:"files"`
}

func (d *usenetDownload) finished() bool {
	return d.DownloadPresent && d.DownloadFinished
}

type listResponse struct {
	Success bool             `json:"success"`
	Data    []usenetDownload `json:"data"`
}

type statusResponse struct {
	Success bool            `json:"success"`
	Data    *usenetDownload `json:"data"`
}

type cachedEntry struct {
	Hash  string       `json:"hash"`
	Name  string       `json:"name"`
	Size  int64        `json:"size"`
	Files []usenetFile `json:"files"`
}

type cachedResponse struct {
	Success bool `json:"success"`
	// Data is a list of entries, or an empty object when nothing is cached.
	Data json.RawMessage `json:"data"`
}

func (r *cachedResponse) entries() ([]cachedEntry, error) {
	data := bytes.TrimSpace(r.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, nil
	}
	var entries []cachedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

type requestDLResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data"`
}
