// Package pathrules implements path normalization, confinement, and
// visibility classification against base paths, blacklist regexes, and
// whitelist prefixes (spec.md §4.1).
package pathrules

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// CompileBlacklist compiles a set of regex patterns for use with
// IsBlacklisted. Empty patterns are skipped. Patterns are matched
// case-insensitively, matching the original implementation's
// re.IGNORECASE compile flag.
func CompileBlacklist(patterns []string) ([]*regexp.Regexp, error) {
	seen := make(map[string]bool, len(patterns))
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		rx, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, err
		}
		out = append(out, rx)
	}
	return out, nil
}

// IsBlacklisted reports whether rel matches any blacklist regex starting
// at position 0 (an anchored "match", not a free "search").
func IsBlacklisted(blacklist []*regexp.Regexp, rel string) bool {
	for _, rx := range blacklist {
		if loc := rx.FindStringIndex(rel); loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}

// IsWhitelisted reports whether rel is visible under whitelist: true when
// whitelist is empty, or when rel equals some prefix or lies strictly
// beneath one ("prefix/").
func IsWhitelisted(whitelist []string, rel string) bool {
	if len(whitelist) == 0 {
		return true
	}
	for _, base := range whitelist {
		if rel == base || strings.HasPrefix(rel, base+"/") {
			return true
		}
	}
	return false
}

// ValidateInternal trims whitespace and separators, joins rel with
// base[0], normalizes, and requires the normalized absolute path to
// remain under base[0]. It returns the normalized relative path; the
// caller must separately check IsWhitelisted, matching the original
// implementation's split between path confinement and visibility.
func ValidateInternal(basePaths []string, rel string) (bool, string) {
	if len(basePaths) == 0 {
		return false, ""
	}
	trimmed := strings.TrimSpace(rel)
	if trimmed == "" {
		return false, ""
	}
	trimmed = strings.Trim(trimmed, string(filepath.Separator))
	base := basePaths[0]
	full := filepath.Clean(filepath.Join(base, trimmed))
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return false, ""
	}
	relOut, err := filepath.Rel(base, full)
	if err != nil {
		return false, ""
	}
	return true, filepath.ToSlash(relOut)
}

// ValidateExternal accepts any absolute or relative path, returning its
// absolute, cleaned form. Used for transfer sources that live outside the
// configured base paths.
func ValidateExternal(p string) (bool, string) {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return false, ""
	}
	trimmed = strings.TrimRight(trimmed, string(filepath.Separator))
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return false, ""
	}
	return true, abs
}

// DeepestIndexedParent returns the deepest proper ancestor of rel that
// is already present in the catalog (per exists), or "." when none is,
// so that re-indexing starting at the returned path is sufficient to
// pick up rel. It walks upward from rel only as far as needed and
// returns "." for rel "." itself.
func DeepestIndexedParent(rel string, exists func(string) bool) string {
	p := rel
	if p == "" {
		p = "."
	}
	for p != "." {
		parent := path.Dir(p)
		if exists(parent) {
			return parent
		}
		p = parent
	}
	return "."
}
