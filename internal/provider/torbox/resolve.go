package torbox

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/provider"
)

// Resolve turns src into a signed download URL, submitting it first when the
// account does not hold it yet.
func (c *Client) Resolve(ctx context.Context, cfg provider.Config, src provider.DownloadSource) (provider.ResolveResult, error) {
	if err := cfg.Validate(); err != nil {
		return provider.ResolveResult{}, err
	}
	payload, err := provider.ParsePendingPayload(src.PendingPayload)
	if err != nil {
		return provider.ResolveResult{}, err
	}

	log := c.logger.With().Str("title", src.Title).Str("payload", src.PendingPayload).Logger()

	if payload.HasFile {
		dl, err := c.requestDownload(ctx, cfg, payload.SubmissionID, payload.FileID)
		if err != nil {
			return provider.ResolveResult{}, err
		}
		log.Info().Msg("Resolved from payload")
		return provider.ResolveResult{Status: provider.Succeeded, URL: dl}, nil
	}

	submissionID := payload.SubmissionID
	if submissionID == 0 {
		id, outcome, err := c.submit(ctx, cfg, src)
		if err != nil || outcome != 0 {
			return provider.ResolveResult{Status: outcome}, err
		}
		submissionID = id
	}

	return c.status(ctx, cfg, submissionID, src.FileName)
}

// submit returns the id of the submission for src, creating it when the
// library does not contain one yet. A non-zero status reports a rejected
// submission.
func (c *Client) submit(ctx context.Context, cfg provider.Config, src provider.DownloadSource) (int64, provider.ResolveStatus, error) {
	lib, err := c.fetchLibrary(ctx, cfg)
	if err != nil {
		return 0, 0, err
	}
	if entry, ok := lib[submissionName(src.Title, src.GUID)]; ok {
		c.logger.Debug().Int64("id", entry.ID).Str("title", src.Title).Msg("Reusing existing submission")
		return entry.ID, 0, nil
	}

	created, err := c.createDownload(ctx, cfg, src, true)
	if err != nil {
		return 0, 0, err
	}

	switch {
	case created.Error == nil || *created.Error == "":
		var data createData
		if err := json.Unmarshal(created.Data, &data); err != nil {
			return 0, 0, backend.NewProtocolError(ID, "failed to decode created download", err)
		}
		if data.UsenetDownloadID == 0 {
			return 0, 0, backend.NewProtocolError(ID, "created download has no id", nil)
		}
		c.logger.Info().Int64("id", int64(data.UsenetDownloadID)).Str("title", src.Title).Msg("Submitted download")
		return int64(data.UsenetDownloadID), 0, nil
	case *created.Error == errActiveLimit:
		c.logger.Warn().Str("title", src.Title).Msg("Active download limit reached")
		return 0, provider.LimitReached, nil
	default:
		c.logger.Warn().Str("error", *created.Error).Str("detail", created.Detail).Msg("Submission rejected")
		return 0, provider.UnknownFailure, nil
	}
}

// status inspects a submission and requests a download URL once it finished.
func (c *Client) status(ctx context.Context, cfg provider.Config, submissionID int64, fileName string) (provider.ResolveResult, error) {
	q := url.Values{}
	q.Set("id", strconv.FormatInt(submissionID, 10))

	var resp statusResponse
	if err := c.getJSON(ctx, cfg, "mylist", q, &resp); err != nil {
		return provider.ResolveResult{}, err
	}

	pending := provider.PendingPayload{SubmissionID: submissionID}.String()
	d := resp.Data
	switch {
	case d == nil:
		// Fresh submissions may sit in the queue before they are listed.
		return provider.ResolveResult{Status: provider.Pending, Payload: pending}, nil
	case !d.finished() && d.Active:
		return provider.ResolveResult{Status: provider.Pending, Payload: pending}, nil
	case !d.finished():
		return provider.ResolveResult{Status: provider.Failed}, nil
	}

	file := preferredFile(d.Files, fileName)
	if file == nil {
		c.logger.Warn().Int64("id", submissionID).Str("fileName", fileName).Msg("Finished submission has no playable file")
		return provider.ResolveResult{Status: provider.UnknownFailure}, nil
	}

	dl, err := c.requestDownload(ctx, cfg, submissionID, file.ID)
	if err != nil {
		return provider.ResolveResult{}, err
	}
	c.logger.Info().Int64("id", submissionID).Str("file", file.ShortName).Msg("Resolved download")
	return provider.ResolveResult{Status: provider.Succeeded, URL: dl}, nil
}
