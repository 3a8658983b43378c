// Package heuristics holds the versioned keyword tables behind the legal
// question classifier, the query expander and the answer quality gate.
package heuristics

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed tables.json
var defaultTables []byte

//go:embed schema.json
var tablesSchema []byte

const (
	defaultMinExpandedWords = 3
	defaultMinAnswerWords   = 15
	defaultRefusalWordLimit = 50
)

// Tables is one immutable version of the heuristic data.
type Tables struct {
	Version          string   `json:"version"`
	LegalKeywords    []string `json:"legal_keywords"`
	LegalPatterns    []string `json:"legal_patterns"`
	FillerPhrases    []string `json:"filler_phrases"`
	Expansions       []string `json:"expansions"`
	RefusalPhrases   []string `json:"refusal_phrases"`
	AnswerLegalTerms []string `json:"answer_legal_terms"`
	MinExpandedWords int      `json:"min_expanded_words"`
	MinAnswerWords   int      `json:"min_answer_words"`
	RefusalWordLimit int      `json:"refusal_word_limit"`
}

// Default returns the tables compiled into the binary.
func Default() *Tables {
	t, err := Parse(defaultTables)
	if err != nil {
		panic(fmt.Sprintf("heuristics: embedded tables are invalid: %v", err))
	}
	return t
}

// LoadFile reads and validates tables from path.
func LoadFile(path string) (*Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("heuristics: read %s: %w", path, err)
	}
	t, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("heuristics: %s: %w", path, err)
	}
	return t, nil
}

// Parse validates raw JSON against the table schema and decodes it.
func Parse(raw []byte) (*Tables, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var t Tables
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	t.normalize()
	return &t, nil
}

// Validate checks raw JSON against the embedded schema.
func Validate(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(tablesSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validate tables: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New("invalid tables: " + strings.Join(msgs, "; "))
}

// normalize lowercases the tables matched against lowercased text. Filler
// phrases are removed case-sensitively and stay as written.
func (t *Tables) normalize() {
	t.LegalKeywords = lowerAll(t.LegalKeywords)
	t.LegalPatterns = lowerAll(t.LegalPatterns)
	t.RefusalPhrases = lowerAll(t.RefusalPhrases)
	t.AnswerLegalTerms = lowerAll(t.AnswerLegalTerms)
	if t.MinExpandedWords <= 0 {
		t.MinExpandedWords = defaultMinExpandedWords
	}
	if t.MinAnswerWords <= 0 {
		t.MinAnswerWords = defaultMinAnswerWords
	}
	if t.RefusalWordLimit <= 0 {
		t.RefusalWordLimit = defaultRefusalWordLimit
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
