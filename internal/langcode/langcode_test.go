package langcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"English", "en"},
		{"english", "en"},
		{"French", "fr"},
		{"Deutsch", "de"},
		{"en", "en"},
		{"sv", "sv"},
		{"US", "en"},
		{"MX", "es"},
		{"DE", "de"},
		{"Klingon", "Klingon"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestExtract(t *testing.T) {
	assert.Equal(t, []string{"en", "fr"}, Extract("English, French"))
	assert.Equal(t, []string{"en", "es"}, Extract("US - MX"))
	assert.Empty(t, Extract(" - "))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"en", "fr"}, Dedupe([]string{"en", "en", "fr"}))
	assert.Equal(t, []string{"fr", "en"}, Dedupe([]string{"fr", "en", "fr", "en"}))
	assert.Empty(t, Dedupe(nil))
}

func TestFlag(t *testing.T) {
	assert.Equal(t, "\U0001F1FA\U0001F1F8", Flag("en"))
	assert.Equal(t, "\U0001F1EF\U0001F1F5", Flag("ja"))
	assert.Equal(t, FallbackFlag, Flag(""))
	assert.Equal(t, FallbackFlag, Flag("not a language"))
}
