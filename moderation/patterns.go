package moderation

import "regexp"

// Structural patterns scanned independently of any word list. A match
// marks the content as carrying sensitive data.
var sensitivePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{"phone", regexp.MustCompile(`\b(?:\+?\d{1,3}[ .\-]?)?(?:\(\d{3}\)|\d{3})[ .\-]?\d{3}[ .\-]?\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

func scanSensitive(text string) []string {
	var matches []string
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			matches = append(matches, p.name)
		}
	}
	return matches
}
