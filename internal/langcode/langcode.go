// Package langcode maps the language strings found in indexer feeds to
// two-letter ISO 639-1 codes and renders codes as flag emoji.
package langcode

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// FallbackFlag is shown for codes without a known country.
const FallbackFlag = "�"

var knownCodes = []string{
	"af", "am", "ar", "az", "be", "bg", "bn", "bs", "ca", "cs", "cy", "da", "de", "el", "en",
	"es", "et", "eu", "fa", "fi", "fr", "ga", "gl", "gu", "he", "hi", "hr", "hu", "hy", "id",
	"is", "it", "ja", "ka", "kk", "km", "kn", "ko", "ky", "lo", "lt", "lv", "mk", "ml", "mn",
	"mr", "ms", "mt", "my", "nb", "ne", "nl", "no", "pa", "pl", "ps", "pt", "ro", "ru", "si",
	"sk", "sl", "sq", "sr", "sv", "sw", "ta", "te", "tg", "th", "tk", "tl", "tr", "uk", "ur",
	"uz", "vi", "yi", "zh", "zu",
}

var wordPattern = regexp.MustCompile(`\w+`)

var (
	tablesOnce sync.Once
	nameToCode map[string]string
	codeSet    map[string]struct{}
)

func loadTables() {
	tablesOnce.Do(func() {
		nameToCode = make(map[string]string, len(knownCodes)*2)
		codeSet = make(map[string]struct{}, len(knownCodes))
		english := display.English.Languages()

		for _, code := range knownCodes {
			codeSet[code] = struct{}{}
			tag := language.Make(code)
			if name := english.Name(tag); name != "" {
				nameToCode[strings.ToLower(name)] = code
			}
			if name := display.Self.Name(tag); name != "" {
				if _, taken := nameToCode[strings.ToLower(name)]; !taken {
					nameToCode[strings.ToLower(name)] = code
				}
			}
		}
	})
}

// FromName returns the code for an English or native language name such as
// "English" or "Deutsch".
func FromName(name string) (string, bool) {
	loadTables()
	code, ok := nameToCode[strings.ToLower(name)]
	return code, ok
}

// FromCountry returns the most likely language spoken in the country with the
// given ISO 3166 code, e.g. "MX" → "es".
func FromCountry(country string) (string, bool) {
	region, err := language.ParseRegion(country)
	if err != nil || !region.IsCountry() {
		return "", false
	}
	tag, err := language.Compose(region)
	if err != nil {
		return "", false
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return "", false
	}
	code := base.String()
	if len(code) != 2 {
		return "", false
	}
	return code, true
}

// Normalize converts a single language word to a two-letter code. Lowercase
// two-letter words that already are language codes are kept; otherwise
// language names are tried before country codes. Unknown words are returned
// unchanged.
func Normalize(word string) string {
	loadTables()
	if len(word) == 2 && word == strings.ToLower(word) {
		if _, ok := codeSet[word]; ok {
			return word
		}
	}
	if code, ok := FromName(word); ok {
		return code
	}
	if code, ok := FromCountry(word); ok {
		return code
	}
	return word
}

// Extract splits a free-form language list ("English, French" or "US - MX")
// into normalized codes. Duplicates are kept; see Dedupe.
func Extract(s string) []string {
	words := wordPattern.FindAllString(s, -1)
	codes := make([]string, 0, len(words))
	for _, w := range words {
		codes = append(codes, Normalize(w))
	}
	return codes
}

// Dedupe removes repeated codes, keeping first-seen order.
func Dedupe(codes []string) []string {
	if len(codes) == 0 {
		return codes
	}
	seen := make(map[string]struct{}, len(codes))
	out := codes[:0:0]
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Flag renders the flag of the country most associated with a language code.
func Flag(code string) string {
	if code == "" {
		return FallbackFlag
	}
	tag, err := language.Parse(code)
	if err != nil {
		return FallbackFlag
	}
	region, confidence := tag.Region()
	if confidence == language.No || !region.IsCountry() {
		return FallbackFlag
	}

	var b strings.Builder
	for _, r := range region.String() {
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}
