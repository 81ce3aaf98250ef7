package addon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byoiap/byoiap/internal/backend"
	"github.com/byoiap/byoiap/internal/indexer"
	"github.com/byoiap/byoiap/internal/provider"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Indexer = indexer.Config{ID: "newznab", URL: "https://indexer.example/api", APIKey: "idx-key"}
	cfg.Provider = provider.Config{ID: "torbox", APIKey: "tb-key"}
	return cfg
}

func TestCodec_RoundTrip(t *testing.T) {
	codec, err := NewCodec(nil)
	require.NoError(t, err)
	assert.False(t, codec.Named())

	cfg := testConfig()
	cfg.Shared.PreferredQualities = []int{1080, 2160}
	cfg.Shared.PendingRetrySeconds = 60
	cfg.Provider.ProxyFile = true

	token, err := codec.Encode(cfg)
	require.NoError(t, err)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "=")

	decoded, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
}

func TestCodec_DecodeFillsDefaults(t *testing.T) {
	cfg, err := decodeJSON([]byte(`{
		"indexer": {"id": "newznab", "url": "https://indexer.example/api", "apiKey": "k"},
		"provider": {"id": "torbox", "apiKey": "t"},
		"shared": {"preferredAudioLanguages": ["de"]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Shared.NextEpisodeCacheCount)
	assert.Equal(t, 180, cfg.Shared.PendingRetrySeconds)
	assert.Equal(t, []int{}, cfg.Shared.PreferredQualities)
	assert.Equal(t, []string{"de"}, cfg.Shared.PreferredAudioLanguages)
	assert.Equal(t, []string{"en"}, cfg.Shared.PreferredSubtitleLanguages)
}

func TestCodec_DecodeErrors(t *testing.T) {
	codec, err := NewCodec(nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "!!!"},
		{"not brotli", "aGVsbG8gd29ybGQ"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.token)
			assert.True(t, backend.IsValidation(err), "got %v", err)
		})
	}

	invalid := testConfig()
	invalid.Shared.NextEpisodeCacheCount = 11
	_, err = codec.Encode(invalid)
	assert.True(t, backend.IsValidation(err))
}

func TestSharedConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SharedConfig)
		valid  bool
	}{
		{"defaults", func(*SharedConfig) {}, true},
		{"max cache count", func(s *SharedConfig) { s.NextEpisodeCacheCount = 10 }, true},
		{"negative cache count", func(s *SharedConfig) { s.NextEpisodeCacheCount = -1 }, false},
		{"max retry", func(s *SharedConfig) { s.PendingRetrySeconds = 600 }, true},
		{"retry too long", func(s *SharedConfig) { s.PendingRetrySeconds = 601 }, false},
		{"too many qualities", func(s *SharedConfig) { s.PreferredQualities = make([]int, 11) }, false},
		{"too many subtitle languages", func(s *SharedConfig) { s.PreferredSubtitleLanguages = make([]string, 11) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultConfig().Shared
			tt.modify(&s)
			err := s.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, backend.IsValidation(err))
			}
		})
	}
}

func TestSharedConfig_PreferencesNormalizeLanguages(t *testing.T) {
	s := DefaultConfig().Shared
	s.PreferredAudioLanguages = []string{"en", " English ", "ja"}
	prefs := s.Preferences()
	assert.Equal(t, []string{"en", "en", "ja"}, prefs.AudioLanguages)
	assert.Equal(t, []string{"en"}, prefs.SubtitleLanguages)
}

func TestCodec_NamedProfiles(t *testing.T) {
	// Keys arrive lowercased from the configuration file.
	codec, err := NewCodec(map[string]map[string]any{
		"family": {
			"indexer":  map[string]any{"id": "newznab", "url": "https://indexer.example/api", "apikey": "k"},
			"provider": map[string]any{"id": "torbox", "apikey": "t"},
			"shared":   map[string]any{"nextepisodecachecount": 3},
		},
	})
	require.NoError(t, err)
	assert.True(t, codec.Named())
	assert.Equal(t, []string{"family"}, codec.Profiles())

	cfg, err := codec.Decode("family")
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Indexer.APIKey)
	assert.Equal(t, "t", cfg.Provider.APIKey)
	assert.Equal(t, 3, cfg.Shared.NextEpisodeCacheCount)
	assert.Equal(t, 180, cfg.Shared.PendingRetrySeconds)

	_, err = codec.Decode("stranger")
	assert.True(t, backend.IsValidation(err))

	_, err = codec.Encode(testConfig())
	assert.True(t, backend.IsValidation(err))
}

func TestCodec_InvalidNamedProfile(t *testing.T) {
	_, err := NewCodec(map[string]map[string]any{
		"broken": {"indexer": map[string]any{"id": "newznab"}},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "broken"))
}
