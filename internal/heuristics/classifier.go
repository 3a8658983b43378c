package heuristics

import "strings"

// Match reports which rule classified a query as legal.
type Match struct {
	Rule  string // "keyword" or "pattern"
	Value string
}

// Classify returns the first keyword stem or question pattern found in the
// lowercased query.
func (t *Tables) Classify(query string) (Match, bool) {
	q := strings.ToLower(query)
	for _, kw := range t.LegalKeywords {
		if strings.Contains(q, kw) {
			return Match{Rule: "keyword", Value: kw}, true
		}
	}
	for _, p := range t.LegalPatterns {
		if strings.Contains(q, p) {
			return Match{Rule: "pattern", Value: p}, true
		}
	}
	return Match{}, false
}

// IsLegal reports whether the query looks like a legal question.
func (t *Tables) IsLegal(query string) bool {
	_, ok := t.Classify(query)
	return ok
}
