// Package cli provides shared utilities for CLI commands.
package cli

import (
	"fmt"
	"path"
	"strings"

	"github.com/forest6511/safelogger/pkg/vault"
)

// ExpandPattern expands a glob pattern against record names.
// If the pattern contains glob characters (*?[), it performs glob matching.
// Otherwise, it performs exact matching.
func ExpandPattern(pattern string, names []string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	if !hasGlob(pattern) {
		for _, name := range names {
			if name == pattern {
				return []string{pattern}, nil
			}
		}
		return nil, fmt.Errorf("record '%s' not found", pattern)
	}

	var matches []string
	for _, name := range names {
		if matched, _ := path.Match(pattern, name); matched {
			matches = append(matches, name)
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("no records match pattern '%s'", pattern)
	}
	return matches, nil
}

// ExpandPatterns expands multiple glob patterns against record names.
// Returns unique matching names preserving order of first match.
func ExpandPatterns(patterns []string, names []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string

	for _, pattern := range patterns {
		matches, err := ExpandPattern(pattern, names)
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			if !seen[name] {
				seen[name] = true
				result = append(result, name)
			}
		}
	}
	return result, nil
}

// FilterRecords returns the records whose name matches query, ignoring
// case. A glob query must match the whole name; any other query matches
// names containing it. An empty query matches everything.
func FilterRecords(query string, records []vault.PreviewRecord) ([]vault.PreviewRecord, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return records, nil
	}

	glob := hasGlob(query)
	if glob {
		if _, err := path.Match(query, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", query, err)
		}
	}

	var out []vault.PreviewRecord
	for _, rec := range records {
		name := strings.ToLower(rec.Name)
		var matched bool
		if glob {
			matched, _ = path.Match(query, name)
		} else {
			matched = strings.Contains(name, query)
		}
		if matched {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RecordNames returns the names of records in order.
func RecordNames(records []vault.PreviewRecord) []string {
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}
	return names
}

// MaskPassword masks a password, keeping a short suffix:
// | Length  | Format          | Example   |
// |---------|-----------------|-----------|
// | 1-4     | All *           | ****      |
// | 5-8     | Show last 2     | ******XY  |
// | 9+      | Show last 4     | ****WXYZ  |
func MaskPassword(password string) string {
	runes := []rune(password)
	length := len(runes)

	switch {
	case length <= 4:
		return strings.Repeat("*", length)
	case length <= 8:
		return strings.Repeat("*", length-2) + string(runes[length-2:])
	default:
		return strings.Repeat("*", length-4) + string(runes[length-4:])
	}
}

func hasGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}
