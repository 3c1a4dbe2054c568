// internal/export/names.go
package export

import (
	"strconv"
	"strings"
)

// nameRegistry hands out unique exported names. Every exported name lives in
// the arena exactly once; index maps it back to its slot so a candidate can
// be checked for collisions before it is taken.
type nameRegistry struct {
	maxLen   int // 0 means unlimited
	reserved map[string]bool
	arena    []string
	index    map[string]int
}

func newNameRegistry(maxLen int) *nameRegistry {
	return &nameRegistry{maxLen: maxLen, index: make(map[string]int)}
}

// lpKeywords are read as values or section headers by LP parsers, whatever
// their case.
var lpKeywords = map[string]bool{
	"inf": true, "infinity": true, "free": true,
	"st": true, "end": true, "bounds": true, "binary": true, "binaries": true,
	"general": true, "generals": true, "minimize": true, "maximize": true,
}

// newLPNameRegistry is a registry whose names avoid LP keywords.
func newLPNameRegistry() *nameRegistry {
	r := newNameRegistry(0)
	r.reserved = lpKeywords
	return r
}

func (r *nameRegistry) taken(name string) bool {
	_, ok := r.index[name]
	return ok
}

func (r *nameRegistry) register(name string) int {
	slot := len(r.arena)
	r.arena = append(r.arena, name)
	r.index[name] = slot
	return slot
}

// canonicalize maps name to an exported name that is legal for the encoding
// and unused in seen, and registers it. Equal inputs registered in the same
// order always produce the same outputs.
func canonicalize(name string, seen *nameRegistry) (string, error) {
	base := sanitize(name)
	if seen.reserved[strings.ToLower(base)] {
		base = "v_" + base
	}
	if seen.maxLen > 0 && len(base) > seen.maxLen {
		base = base[:seen.maxLen]
	}
	if !seen.taken(base) {
		seen.register(base)
		return base, nil
	}

	for n := 1; ; n++ {
		suffix := strconv.Itoa(n)
		if seen.maxLen > 0 && len(suffix) >= seen.maxLen {
			return "", &ExportError{Reason: "cannot derive a unique name for " + strconv.Quote(name)}
		}
		stem := base
		if seen.maxLen > 0 && len(stem)+len(suffix) > seen.maxLen {
			stem = stem[:seen.maxLen-len(suffix)]
		}
		candidate := stem + suffix
		if !seen.taken(candidate) {
			seen.register(candidate)
			return candidate, nil
		}
	}
}

// sanitize keeps ASCII letters, digits and underscores; everything else
// becomes an underscore. Names may not start with a digit.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		return "_"
	}
	if s[0] >= '0' && s[0] <= '9' {
		return "v_" + s
	}
	return s
}
