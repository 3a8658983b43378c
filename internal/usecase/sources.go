package usecase

import (
	"fmt"
	"strings"

	"legalguardian/internal/domain"
)

const sourcesHeader = "📚 Источники информации:"

// References returns the distinct non-blank references of chunks in first-seen order.
func References(chunks []domain.RetrievedResult) []string {
	seen := make(map[string]struct{}, len(chunks))
	refs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ref := strings.TrimSpace(c.Reference)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

// FormatWithSources appends a numbered citation block to answer. The answer is
// returned unchanged when chunks carry no usable reference.
func FormatWithSources(answer string, chunks []domain.RetrievedResult) string {
	refs := References(chunks)
	if len(refs) == 0 {
		return answer
	}

	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\n")
	b.WriteString(sourcesHeader)
	for i, ref := range refs {
		fmt.Fprintf(&b, "\n%d. %s", i+1, ref)
	}
	return b.String()
}
