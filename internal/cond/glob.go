package cond

// MatchGlob reports whether s matches pattern in full.
//
// The only metacharacter is '*', which matches any run (possibly empty) of
// characters except '/'. Matching is anchored: the whole of s must match,
// so "v*" matches "v1.2" but not "rev1". This mirrors ref-filter globbing
// in common CI trigger declarations, where '/' separates ref path segments.
func MatchGlob(pattern, s string) bool {
	// Iterative match with single-level backtracking over the last '*'.
	pi, si := 0, 0
	starPi, starSi := -1, -1

	for si < len(s) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			starPi = pi
			starSi = si
			pi++
		case pi < len(pattern) && pattern[pi] == s[si]:
			pi++
			si++
		case starPi >= 0 && s[starSi] != '/':
			// Extend the last '*' by one more character.
			starSi++
			pi = starPi + 1
			si = starSi
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
