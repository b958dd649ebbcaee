package export

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTrailingWS = regexp.MustCompile(`(?m)[ \t]+$`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
)

// normalizeTranscript tidies a stored transcript for a report cell. The stored text is never changed.
// Conservative: words, tabs inside lines and single blank lines are kept.
func normalizeTranscript(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTrailingWS.ReplaceAllString(s, "")
	// collapse too many blank lines
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
