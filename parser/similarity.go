package parser

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Ratio scores two strings from 0 to 100 by their longest common
// subsequence, ignoring case. Two empty strings are identical.
func Ratio(a, b string) float64 {
	return ratio([]rune(strings.ToLower(a)), []rune(strings.ToLower(b)))
}

// PartialRatio is Ratio of the shorter string against the best aligned
// window of the longer one, so "dune" fully matches "dune by frank herbert".
// Windows hanging off either end of the longer string are considered too.
func PartialRatio(a, b string) float64 {
	short := []rune(strings.ToLower(a))
	long := []rune(strings.ToLower(b))
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		if len(long) == 0 {
			return 100
		}
		return 0
	}
	if len(short) == len(long) {
		return ratio(short, long)
	}

	n := len(short)
	best := 0.0
	consider := func(window []rune) bool {
		if score := ratio(short, window); score > best {
			best = score
		}
		return best == 100
	}

	for i := 0; i+n <= len(long); i++ {
		if consider(long[i : i+n]) {
			return best
		}
	}
	for i := 1; i < n; i++ {
		if consider(long[:i]) {
			return best
		}
	}
	for i := len(long) - n + 1; i < len(long); i++ {
		if consider(long[i:]) {
			return best
		}
	}
	return best
}

func ratio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	lcs := matchr.LongestCommonSubsequence(string(a), string(b))
	return 200 * float64(lcs) / float64(total)
}
