package capture

import "strings"

// ShouldForward reports whether a captured line passes the exclusion
// patterns for its source. An empty pattern set forwards everything; a line
// containing any one of the patterns is dropped. Note that the empty string
// is a substring of every line, so an empty-string pattern excludes all
// output.
func ShouldForward(line string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(line, pattern) {
			return false
		}
	}
	return true
}
