package nlp

import (
	_ "embed"
	"strings"
)

//go:embed stopwords.txt
var englishStopwords string

// Stopwords is a set of tokens dropped during normalization.
type Stopwords map[string]struct{}

// EnglishStopwords returns a fresh copy of the built-in English stopword set.
func EnglishStopwords() Stopwords {
	return NewStopwords(strings.Fields(englishStopwords)...)
}

// NewStopwords builds a set from the given words. Words are lowercased.
func NewStopwords(words ...string) Stopwords {
	s := make(Stopwords, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			s[w] = struct{}{}
		}
	}
	return s
}

func (s Stopwords) Contains(token string) bool {
	_, ok := s[token]
	return ok
}
