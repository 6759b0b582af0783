package catalog

import (
	"fmt"
	"strings"
)

// maxIdentifier is the identifier length cap kept from the distilled design.
// SQLite itself does not enforce one, but generated names must stay portable
// and stable.
const maxIdentifier = 63

// GenerateName builds a deterministic identifier from fixed and variable
// parts: era__<parts joined by __>. When the result exceeds the cap, the
// variable parts are shortened evenly until it fits; the fixed prefix and any
// numeric suffix always survive.
func GenerateName(parts ...string) string {
	return generateName("era", parts, 0)
}

// generateName renders prefix__parts[__n]. suffix 0 means no suffix.
func generateName(prefix string, parts []string, suffix int) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = sanitize(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	tail := ""
	if suffix > 0 {
		tail = fmt.Sprintf("_%d", suffix)
	}
	name := prefix + "__" + strings.Join(cleaned, "__") + tail
	if len(name) <= maxIdentifier {
		return name
	}

	// Shorten the variable parts until the whole name fits. Each round
	// trims the longest remaining part.
	budget := maxIdentifier - len(prefix) - 2 - len(tail) - 2*(len(cleaned)-1)
	if budget < len(cleaned) {
		budget = len(cleaned) // one byte per part at minimum
	}
	for total(cleaned) > budget {
		longest := 0
		for i := range cleaned {
			if len(cleaned[i]) > len(cleaned[longest]) {
				longest = i
			}
		}
		if len(cleaned[longest]) <= 1 {
			break
		}
		cleaned[longest] = cleaned[longest][:len(cleaned[longest])-1]
	}
	return prefix + "__" + strings.Join(cleaned, "__") + tail
}

func total(parts []string) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n
}

// sanitize keeps identifier-safe characters only.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// uniqueName returns the first collision-free name for the parts, probing
// taken() with suffix counters 0, 1, 2, ...
func uniqueName(taken func(string) bool, parts ...string) string {
	for n := 0; ; n++ {
		candidate := generateName("era", parts, n)
		if !taken(candidate) {
			return candidate
		}
	}
}
