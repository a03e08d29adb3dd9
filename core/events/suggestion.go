package events

import "strings"

const (
	KindSuggestion Kind = "suggestion.received"
)

// Suggestion carries one suggestion payload from the assistant endpoint.
type Suggestion struct {
	Base
	Text  string
	Words []string
}

func NewSuggestion(text string) Suggestion {
	return Suggestion{Base: NewBase(KindSuggestion), Text: text, Words: SplitWords(text)}
}

// SplitWords splits a comma separated suggestion into its trimmed, non-empty
// parts.
func SplitWords(text string) []string {
	parts := strings.Split(text, ",")
	words := make([]string, 0, len(parts))
	for _, part := range parts {
		if word := strings.TrimSpace(part); word != "" {
			words = append(words, word)
		}
	}
	return words
}
