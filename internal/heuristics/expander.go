package heuristics

import "strings"

// Expand strips filler phrases and, for short queries, appends the legal
// expansion sharing the most words with the original query.
//
// Filler phrases are removed as raw substrings, so a phrase embedded in a
// longer word is cut out of it as well.
func (t *Tables) Expand(query string) string {
	expanded := query
	for _, phrase := range t.FillerPhrases {
		expanded = strings.ReplaceAll(expanded, phrase, "")
	}

	if len(strings.Fields(expanded)) < t.MinExpandedWords {
		if best := t.bestExpansion(query); best != "" {
			expanded += " " + best
		}
	}

	return strings.Join(strings.Fields(expanded), " ")
}

// bestExpansion picks the first declared expansion with maximum overlap.
// maxOverlap starts below zero, so the first expansion wins when nothing
// overlaps.
func (t *Tables) bestExpansion(query string) string {
	queryWords := wordSet(query)
	best := ""
	maxOverlap := -1
	for _, expansion := range t.Expansions {
		overlap := 0
		for w := range wordSet(expansion) {
			if _, ok := queryWords[w]; ok {
				overlap++
			}
		}
		if overlap > maxOverlap {
			maxOverlap = overlap
			best = expansion
		}
	}
	return best
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
