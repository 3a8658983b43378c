package heuristics

import "strings"

// Rejection names the rule that failed an answer. The zero value means the
// answer was accepted.
type Rejection string

const (
	RejectTooShort    Rejection = "too_short"
	RejectRefusal     Rejection = "refusal"
	RejectNoLegalTerm Rejection = "no_legal_terms"
)

// Review applies the quality rules to a generated answer.
func (t *Tables) Review(answer string) Rejection {
	words := len(strings.Fields(answer))
	if words < t.MinAnswerWords {
		return RejectTooShort
	}

	lower := strings.ToLower(answer)
	if words < t.RefusalWordLimit {
		for _, phrase := range t.RefusalPhrases {
			if strings.Contains(lower, phrase) {
				return RejectRefusal
			}
		}
	}

	for _, term := range t.AnswerLegalTerms {
		if strings.Contains(lower, term) {
			return ""
		}
	}
	return RejectNoLegalTerm
}

// IsAcceptable reports whether the answer is fit to return for query.
func (t *Tables) IsAcceptable(query, answer string) bool {
	return t.Review(answer) == ""
}
