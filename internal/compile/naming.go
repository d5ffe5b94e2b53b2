package compile

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var goKeywords = map[string]bool{
	"break": true, "case": true, "chan": true, "const": true,
	"continue": true, "default": true, "defer": true, "else": true,
	"fallthrough": true, "for": true, "func": true, "go": true,
	"goto": true, "if": true, "import": true, "interface": true,
	"map": true, "package": true, "range": true, "return": true,
	"select": true, "struct": true, "switch": true, "type": true,
	"var": true,
}

// slug turns a user-facing label into a plain lower-case identifier.
// Labels come from callers and may carry accents or punctuation, so the
// label is decomposed first and everything outside [a-z0-9] becomes an
// underscore.
func slug(label string) string {
	s := norm.NFKD.String(strings.ToLower(label))
	var b strings.Builder
	pending := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		pending = true
	}
	out := b.String()
	if out == "" {
		out = "v"
	}
	if goKeywords[out] || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}

// snake lowers a Go field name to snake_case.
func snake(field string) string {
	var b strings.Builder
	var prev rune
	for i, r := range field {
		if unicode.IsUpper(r) && i > 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
		prev = r
	}
	return b.String()
}

func snakePath(path []string) string {
	parts := make([]string, len(path))
	for i, f := range path {
		parts[i] = snake(f)
	}
	return strings.Join(parts, "_")
}
