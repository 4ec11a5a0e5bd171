package translate

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/whisper/polyglot/internal/language"
)

// WhatlangDetector detects languages with whatlanggo's trigram model and
// reports ISO 639-1 codes. Candidates are limited to the languages of a
// registry: on short input the unrestricted model routinely picks an
// unrelated language ("hello" scores as Somali), so only registry languages
// are compared and anything outside the registry is reported as undetected.
type WhatlangDetector struct {
	// MinConfidence rejects detections below this score. Zero accepts any
	// detection that matched at least one trigram.
	MinConfidence float64

	opts  whatlanggo.Options
	codes map[string]struct{}
}

// NewWhatlangDetector returns a detector restricted to the languages of
// langs.
func NewWhatlangDetector(langs *language.Registry) *WhatlangDetector {
	d := &WhatlangDetector{
		opts:  whatlanggo.Options{Whitelist: make(map[whatlanggo.Lang]bool)},
		codes: make(map[string]struct{}),
	}
	for _, code := range langs.Codes() {
		d.codes[code] = struct{}{}
	}
	for lang := range whatlanggo.Langs {
		if _, ok := d.codes[lang.Iso6391()]; ok {
			d.opts.Whitelist[lang] = true
		}
	}
	return d
}

func (d *WhatlangDetector) Detect(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrUndetected
	}
	info := whatlanggo.DetectWithOptions(text, d.opts)
	if info.Lang < 0 || info.Confidence <= 0 {
		return "", ErrUndetected
	}
	if d.MinConfidence > 0 && info.Confidence < d.MinConfidence {
		return "", ErrUndetected
	}
	// Scripts with a single language (Han, Tamil, Gurmukhi...) bypass the
	// whitelist inside whatlanggo.
	code := info.Lang.Iso6391()
	if _, ok := d.codes[code]; !ok {
		return "", ErrUndetected
	}
	return code, nil
}
