package resolve

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/byoiap/byoiap/internal/backend"
)

const followUpTimeout = 5 * time.Minute

// HTTPFollowUp returns a FollowUp that issues a detached GET to the URL and
// ignores the response.
func HTTPFollowUp(client *http.Client, logger zerolog.Logger) func(rawURL string) {
	log := logger.With().Str("component", "resolve-followup").Logger()
	return func(rawURL string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				log.Warn().Err(err).Str("url", rawURL).Msg("Invalid follow-up url")
				return
			}
			resp, err := backend.Do(client, "followup", req)
			if err != nil {
				log.Debug().Err(err).Str("url", rawURL).Msg("Follow-up request failed")
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
}
