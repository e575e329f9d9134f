package extract

import "strings"

// containerLetterValue returns the ISO 6346 numeric equivalent of an upper
// case letter. Values start at A=10 and skip multiples of 11.
func containerLetterValue(c byte) int {
	v := 10
	for ch := byte('A'); ch < c; ch++ {
		v++
		if v%11 == 0 {
			v++
		}
	}
	return v
}

// ValidContainerNumber reports whether s is an ISO 6346 container number
// (owner code, category U/J/Z, six digit serial, check digit) whose check
// digit validates. Embedded spaces are ignored.
func ValidContainerNumber(s string) bool {
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(s) != 11 {
		return false
	}
	switch s[3] {
	case 'U', 'J', 'Z':
	default:
		return false
	}

	sum := 0
	for i := 0; i < 10; i++ {
		c := s[i]
		var v int
		switch {
		case i < 4 && c >= 'A' && c <= 'Z':
			v = containerLetterValue(c)
		case i >= 4 && c >= '0' && c <= '9':
			v = int(c - '0')
		default:
			return false
		}
		sum += v << i
	}

	last := s[10]
	if last < '0' || last > '9' {
		return false
	}
	return int(last-'0') == sum%11%10
}
