// Package steps implements the six generation-stage services plus the
// consistency-check, rewrite, and rollback siblings described in the
// pipeline contract. Each service is a small struct holding its provider
// client, persistence handle and cost ledger (plus, for writing, its
// context collaborators); none retains mutable state across calls.
package steps

import "regexp"

var fencedJSONRe = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")

// ExtractJSON applies the structured-stage parsing rule: prefer a
// fenced ```json code block, else the largest balanced {...} substring.
// ok is false if neither form is present.
func ExtractJSON(text string) (extracted string, ok bool) {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return largestBalancedBraces(text)
}

// largestBalancedBraces scans every '{' as a candidate start and keeps
// the longest span that returns to brace depth zero.
func largestBalancedBraces(text string) (string, bool) {
	runes := []rune(text)
	bestStart, bestEnd := -1, -1

	for i, r := range runes {
		if r != '{' {
			continue
		}
		depth := 0
		for j := i; j < len(runes); j++ {
			switch runes[j] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					if j-i > bestEnd-bestStart {
						bestStart, bestEnd = i, j
					}
					j = len(runes) // stop scanning this start, found its close
				}
			}
		}
	}

	if bestStart < 0 {
		return "", false
	}
	return string(runes[bestStart : bestEnd+1]), true
}
