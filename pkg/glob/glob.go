// Package glob wraps doublestar to give the Backup Codec's source
// selection a compliant glob matcher (**, ?, character classes)
// instead of a regex-mimicking one.
package glob

import "github.com/bmatcuk/doublestar/v4"

// Match reports whether name matches pattern under doublestar semantics.
// An invalid pattern is treated as a non-match.
func Match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	if err != nil {
		return false
	}
	return ok
}

// Included reports whether name should be selected: it must match at
// least one include pattern (or includes is empty, meaning "all"), and
// must not match any exclude pattern.
func Included(name string, includes, excludes []string) bool {
	if len(includes) > 0 {
		matched := false
		for _, pattern := range includes {
			if Match(pattern, name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, pattern := range excludes {
		if Match(pattern, name) {
			return false
		}
	}
	return true
}
