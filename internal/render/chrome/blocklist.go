package chrome

import "strings"

// defaultBlockedPatterns are blocked across all renders: analytics,
// tracking, and ad networks that add latency and never contribute to
// the printed page. Patterns use * wildcards matched against the full
// request URL, case-insensitive.
var defaultBlockedPatterns = []string{
	"*2mdn.net*",
	"*doubleclick.net*",
	"*google-analytics.com*",
	"*analytics.google.com*",
	"*googleadservices.com*",
	"*googlesyndication.com*",
	"*googletagmanager.com*",
	"*googletagservices.com*",
	"*facebook.com*",
	"*hotjar.com*",
	"*clarity.ms*",
	"*ampproject.org*",
	"*static.cloudflareinsights.com*",
}

// Blocklist holds compiled request blocking rules for a render
type Blocklist struct {
	patterns []string
}

// NewBlocklist combines the global rules with the job's custom patterns.
// Patterns are lowercased; blank entries are dropped.
func NewBlocklist(customPatterns []string) *Blocklist {
	all := make([]string, 0, len(defaultBlockedPatterns)+len(customPatterns))
	all = append(all, defaultBlockedPatterns...)
	all = append(all, customPatterns...)

	bl := &Blocklist{patterns: make([]string, 0, len(all))}
	for _, pat := range all {
		pat = strings.ToLower(strings.TrimSpace(pat))
		if pat == "" {
			continue
		}
		bl.patterns = append(bl.patterns, pat)
	}
	return bl
}

// IsBlocked reports whether a request URL matches any blocking rule
func (bl *Blocklist) IsBlocked(requestURL string) bool {
	url := strings.ToLower(requestURL)
	for _, pat := range bl.patterns {
		if matchWildcard(pat, url) {
			return true
		}
	}
	return false
}

// matchWildcard matches s against a pattern where * matches any run of
// characters. A pattern without wildcards must match exactly.
func matchWildcard(pattern, s string) bool {
	segments := strings.Split(pattern, "*")

	// Leading segment is anchored to the start, trailing to the end.
	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]

	last := segments[len(segments)-1]
	if len(segments) == 1 {
		return s == ""
	}
	if !strings.HasSuffix(s, last) {
		return false
	}
	s = s[:len(s)-len(last)]

	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}
	return true
}
