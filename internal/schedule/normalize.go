package schedule

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// vesselPrefixes are hull designators dropped from the front of a name.
var vesselPrefixes = map[string]bool{"MV": true, "MS": true, "MT": true}

// NormalizeVessel folds a vessel name for comparison: accents removed,
// upper-cased, punctuation turned into spaces and a leading "M/V" style
// designator dropped.
func NormalizeVessel(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return ' '
	}, folded)

	words := strings.Fields(folded)
	if len(words) > 1 {
		switch {
		case vesselPrefixes[words[0]]:
			words = words[1:]
		case len(words) > 2 && words[0] == "M" && words[1] == "V":
			words = words[2:]
		}
	}
	return strings.Join(words, " ")
}

// normalizeCode folds voyage numbers, flight numbers and port codes.
func normalizeCode(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
}

// editDistance returns the Levenshtein distance between a and b, or
// limit+1 as soon as the distance is known to exceed limit.
func editDistance(a, b string, limit int) int {
	ra, rb := []rune(a), []rune(b)
	if abs(len(ra)-len(rb)) > limit {
		return limit + 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return max(len(ra), len(rb))
	}

	row := make([]int, len(rb)+1)
	prevRow := make([]int, len(rb)+1)
	for j := range prevRow {
		prevRow[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		row[0] = i
		best := row[0]
		for j := 1; j <= len(rb); j++ {
			cost := 0
			if ra[i-1] != rb[j-1] {
				cost = 1
			}
			row[j] = min(row[j-1]+1, prevRow[j]+1, prevRow[j-1]+cost)
			best = min(best, row[j])
		}
		if best > limit {
			return limit + 1
		}
		row, prevRow = prevRow, row
	}
	return min(prevRow[len(rb)], limit+1)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
