package addon

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/andybalholm/brotli"

	"github.com/byoiap/byoiap/internal/backend"
)

// maxTokenSize bounds the decompressed size of a config token.
const maxTokenSize = 64 * 1024

// Codec converts configurations to and from config tokens. A token is either
// the base64url form of the brotli-compressed JSON configuration or, when the
// server defines named profiles, the name of one of them.
type Codec struct {
	named map[string]Config
}

// NewCodec creates a codec. named maps profile names to raw configurations as
// read from the server configuration file; a non-empty map switches the codec
// to named mode.
func NewCodec(named map[string]map[string]any) (*Codec, error) {
	c := &Codec{}
	if len(named) == 0 {
		return c, nil
	}

	c.named = make(map[string]Config, len(named))
	for name, raw := range named {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("named profile %q: %w", name, err)
		}
		cfg, err := decodeJSON(data)
		if err != nil {
			return nil, fmt.Errorf("named profile %q: %w", name, err)
		}
		c.named[name] = cfg
	}
	return c, nil
}

// Named reports whether tokens are profile names.
func (c *Codec) Named() bool {
	return len(c.named) > 0
}

// Profiles returns the profile names in sorted order.
func (c *Codec) Profiles() []string {
	names := make([]string, 0, len(c.named))
	for name := range c.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode returns the token of cfg. It fails in named mode, where only the
// server's profiles can be used.
func (c *Codec) Encode(cfg Config) (string, error) {
	if c.Named() {
		return "", backend.NewValidationError("server uses named profiles; configurations cannot be encoded")
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress config: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to compress config: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode returns the validated configuration a token stands for.
func (c *Codec) Decode(token string) (Config, error) {
	if c.Named() {
		cfg, ok := c.named[token]
		if !ok {
			return Config{}, backend.NewValidationError(fmt.Sprintf("unknown profile %q", token))
		}
		return cfg, nil
	}

	compressed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Config{}, backend.NewValidationError("config token is not base64url")
	}
	data, err := io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(compressed)), maxTokenSize+1))
	if err != nil {
		return Config{}, backend.NewValidationError("config token is not brotli compressed")
	}
	if len(data) > maxTokenSize {
		return Config{}, backend.NewValidationError("config token is too large")
	}
	return decodeJSON(data)
}

// decodeJSON fills missing shared settings with their defaults and validates
// the result.
func decodeJSON(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, backend.NewValidationError("config is not valid JSON: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
