package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, Default().Metadata, cfg.Metadata)
	assert.Equal(t, Default().Ranking, cfg.Ranking)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
  public_url: https://byoiap.example.com
logging:
  level: debug
named:
  family:
    indexer:
      id: newznab
      url: http://hydra:5076/api
      apiKey: secret
    provider:
      id: torbox
      apiKey: tb
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("BYOIAP_LOGGING_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://byoiap.example.com", cfg.Server.PublicURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.Contains(t, cfg.Named, "family")
	assert.Contains(t, cfg.Named["family"], "indexer")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.PublicURL = "byoiap.example.com"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ranking.MinPerQuality = 30
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.RequestsPerMinute = -1
	assert.Error(t, cfg.Validate())
}

func TestYAML(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, Default().Resolve, back.Resolve)
}
