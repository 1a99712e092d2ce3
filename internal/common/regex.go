package common

import (
	"regexp"
	"strings"
)

// CompilePattern compiles a detection pattern, making it case-insensitive
// unless the pattern already carries flags.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(pattern, "(?") {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
