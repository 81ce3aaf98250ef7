//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/byoiap/byoiap/internal/addon"
	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/mediaid"
	"github.com/byoiap/byoiap/internal/ranking"
)

// Manifest describes the addon to media players.
type Manifest struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Description   string                `json:"description"`
	Version       string                `json:"version"`
	Catalogs      []string              `json:"catalogs"`
	Resources     []string              `json:"resources"`
	Types         []string              `json:"types"`
	IDPrefixes    []string              `json:"idPrefixes"`
	BehaviorHints ManifestBehaviorHints `json:"behaviorHints"`
}

// ManifestBehaviorHints tell players whether the addon needs configuring.
type ManifestBehaviorHints struct {
	Configurable          bool `json:"configurable"`
	ConfigurationRequired bool `json:"configurationRequired"`
}

// Version is reported in the manifest.
var Version = "0.0.1"

func manifest(configured bool) Manifest {
	return Manifest{
		ID:          "community.byoiap",
		Name:        ranking.AddonName,
		Description: "Bring Your Own Indexer and Provider",
		Version:     Version,
		Catalogs:    []string{},
		Resources:   []string{"stream"},
		Types:       []string{"movie", "series"},
		IDPrefixes:  []string{"tt"},
		BehaviorHints: ManifestBehaviorHints{
			Configurable:          true,
			ConfigurationRequired: !configured,
		},
	}
}

// StreamsResponse is the body of a stream listing.
type StreamsResponse struct {
	Streams []ranking.Stream `json:"streams"`
}

const streamsCacheControl = "private, max-age=3600"

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getManifest(c echo.Context) error {
	return c.JSON(http.StatusOK, manifest(c.Param("config") != ""))
}

func (s *Server) getStreams(c echo.Context) error {
	token := c.Param("config")
	cfg, err := s.codec.Decode(token)
	if err != nil {
		return toHTTPError(err)
	}

	rawID, err := url.PathUnescape(strings.TrimSuffix(c.Param("id"), ".json"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid media id")
	}
	id, err := mediaid.Parse(rawID)
	if err != nil {
		return toHTTPError(err)
	}

	streams, err := s.addon.QueryStreams(c.Request().Context(), addon.StreamRequest{
		Config: cfg,
		Token:  token,
		Origin: s.origin(c),
		ID:     id,
	})
	if err != nil {
		return toHTTPError(err)
	}

	c.Response().Header().Set("Cache-Control", streamsCacheControl)
	return c.JSON(http.StatusOK, StreamsResponse{Streams: streams})
}

func (s *Server) resolve(c echo.Context) error {
	cfg, err := s.codec.Decode(c.Param("config"))
	if err != nil {
		return toHTTPError(err)
	}

	requestURL, err := url.Parse(s.origin(c) + c.Request().URL.RequestURI())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request url")
	}

	out, err := s.addon.Resolve(c.Request().Context(), cfg, requestURL)
	if err != nil {
		return toHTTPError(err)
	}

	c.Response().Header().Set("Cache-Control", out.CacheControl())
	return c.Redirect(http.StatusSeeOther, out.RedirectURL)
}

func (s *Server) cacheNext(c echo.Context) error {
	cfg, err := s.codec.Decode(c.Param("config"))
	if err != nil {
		return toHTTPError(err)
	}

	rawID, err := url.PathUnescape(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid media id")
	}
	id, err := mediaid.Parse(rawID)
	if err != nil {
		return toHTTPError(err)
	}

	if err := s.addon.PrecacheNext(c.Request().Context(), cfg, id, c.QueryParam("title")); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// origin returns the configured public origin or the one the request came in on.
func (s *Server) origin(c echo.Context) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/")
	}
	return c.Scheme() + "://" + c.Request().Host
}

// toHTTPError maps validation errors to 400 and everything else to 500.
func toHTTPError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	if backend.IsValidation(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
