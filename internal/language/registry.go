// Package language maps human-readable language names to the codes used by
// translation providers and back. The table is built once at startup and is
// read-only afterwards, so a Registry is safe for concurrent use.
package language

import (
	"sort"
	"strings"
)

// Entry is one name/code pair.
type Entry struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Unknown is the language name reported when detection fails.
const Unknown = "unknown"

// DefaultEntries is the set of languages supported out of the box.
var DefaultEntries = []Entry{
	{Name: "hindi", Code: "hi"},
	{Name: "tamil", Code: "ta"},
	{Name: "telugu", Code: "te"},
	{Name: "bengali", Code: "bn"},
	{Name: "marathi", Code: "mr"},
	{Name: "gujarati", Code: "gu"},
	{Name: "kannada", Code: "kn"},
	{Name: "malayalam", Code: "ml"},
	{Name: "punjabi", Code: "pa"},
	{Name: "odia", Code: "or"},
	{Name: "english", Code: "en"},
	{Name: "urdu", Code: "ur"},
	{Name: "assamese", Code: "as"},
	{Name: "sanskrit", Code: "sa"},
}

// Registry is a bidirectional name <-> code lookup table.
type Registry struct {
	byName map[string]string
	byCode map[string]string
	names  []string
}

// NewRegistry builds a Registry from entries. Names and codes are stored
// lower-cased; a later duplicate overrides an earlier one.
func NewRegistry(entries []Entry) *Registry {
	r := &Registry{
		byName: make(map[string]string, len(entries)),
		byCode: make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		code := strings.ToLower(strings.TrimSpace(e.Code))
		if name == "" || code == "" {
			continue
		}
		r.byName[name] = code
		r.byCode[code] = name
	}
	r.names = make([]string, 0, len(r.byName))
	for name := range r.byName {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// Default returns a Registry seeded with DefaultEntries.
func Default() *Registry {
	return NewRegistry(DefaultEntries)
}

// CodeOf returns the provider code for name. Unknown names are returned
// lower-cased, so callers may pass a code directly.
func (r *Registry) CodeOf(name string) string {
	key := strings.ToLower(name)
	if code, ok := r.byName[key]; ok {
		return code
	}
	return key
}

// NameOf returns the display name for code, or code itself when unmapped.
func (r *Registry) NameOf(code string) string {
	if name, ok := r.byCode[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// Supports reports whether name (or a code) is in the table.
func (r *Registry) Supports(nameOrCode string) bool {
	key := strings.ToLower(nameOrCode)
	if _, ok := r.byName[key]; ok {
		return true
	}
	_, ok := r.byCode[key]
	return ok
}

// Names returns all language names in alphabetical order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Codes returns a copy of the name -> code table.
func (r *Registry) Codes() map[string]string {
	out := make(map[string]string, len(r.byName))
	for k, v := range r.byName {
		out[k] = v
	}
	return out
}
