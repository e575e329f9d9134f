package extract

import (
	"regexp"
	"strings"
)

// replyChainRe matches a leading run of reply/forward markers in English,
// German-client and Hebrew mail clients, with optional bracketed counters
// such as "Re[2]:" or "RE (3):".
var replyChainRe = regexp.MustCompile(
	`(?i)^(?:\s*(?:re|fwd?|aw|wg|השב|תשובה|הועבר|העבר)\s*(?:\[\d+\]|\(\d+\))?\s*[:：])+`,
)

// NormalizeSubject strips any leading chain of reply/forward markers and
// collapses whitespace. NormalizeSubject(NormalizeSubject(s)) == NormalizeSubject(s).
func NormalizeSubject(subject string) string {
	s := replyChainRe.ReplaceAllString(subject, "")
	return strings.Join(strings.Fields(s), " ")
}
