package parse

import (
	"regexp"
	"strings"
	"sync"
)

// learnRe matches titles of the shape "Full subject name (ABBR) - ..." from
// which the abbreviation mapping is harvested.
var learnRe = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z\s\.]+?)\s*\(([A-Z]{2,6})\)`)

// AbbrevMap is the learned abbreviation -> full subject name table. Long
// titles teach it ("Functional programming (FP) - ..." teaches FP), short
// titles consume it ("FP 479" expands to "Functional programming"). Safe for
// concurrent use. The zero value and a nil pointer are both usable empty maps.
type AbbrevMap struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewAbbrevMap returns an empty map.
func NewAbbrevMap() *AbbrevMap {
	return &AbbrevMap{m: make(map[string]string)}
}

// LearnFrom scans titles for the teaching shape and records any new
// abbreviation mappings. First learned wins; relearning never overwrites.
// Returns the number of new mappings.
func (a *AbbrevMap) LearnFrom(titles []string) int {
	if a == nil {
		return 0
	}
	learned := 0
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil {
		a.m = make(map[string]string)
	}
	for _, t := range titles {
		m := learnRe.FindStringSubmatch(strings.TrimSpace(t))
		if m == nil {
			continue
		}
		abbrev := strings.ToUpper(m[2])
		name := titleCase(strings.TrimSpace(m[1]))
		if abbrev == "" || name == "" {
			continue
		}
		if _, exists := a.m[abbrev]; !exists {
			a.m[abbrev] = name
			learned++
		}
	}
	return learned
}

// Expand returns the full name for an abbreviation, or "" when unknown.
func (a *AbbrevMap) Expand(abbrev string) string {
	if a == nil {
		return ""
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.m[strings.ToUpper(abbrev)]
}

// Snapshot returns a copy of the current table, for persisting to
// subject_map.json.
func (a *AbbrevMap) Snapshot() map[string]string {
	if a == nil {
		return map[string]string{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.m))
	for k, v := range a.m {
		out[k] = v
	}
	return out
}

// Load merges a previously persisted table. Existing entries win.
func (a *AbbrevMap) Load(m map[string]string) {
	if a == nil || len(m) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil {
		a.m = make(map[string]string, len(m))
	}
	for k, v := range m {
		k = strings.ToUpper(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if _, exists := a.m[k]; !exists {
			a.m[k] = v
		}
	}
}
