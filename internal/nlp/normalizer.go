// Package nlp turns free text into the canonical token sequences the FAQ
// matcher compares: lowercase, strip punctuation, tokenize, drop stopwords,
// lemmatize.
package nlp

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Normalizer is safe for concurrent use once built.
type Normalizer struct {
	stopwords Stopwords
	lemmas    Lemmatizer
}

type Option func(*Normalizer)

// WithStopwords replaces the stopword set.
func WithStopwords(s Stopwords) Option {
	return func(n *Normalizer) { n.stopwords = s }
}

// WithLemmatizer replaces the lemmatizer.
func WithLemmatizer(l Lemmatizer) Option {
	return func(n *Normalizer) { n.lemmas = l }
}

// NewNormalizer returns a normalizer using the English stopword list and the
// rule lemmatizer unless overridden.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		stopwords: EnglishStopwords(),
		lemmas:    NewRuleLemmatizer(nil),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.stopwords == nil {
		n.stopwords = Stopwords{}
	}
	return n
}

// Normalize returns the token sequence for text in input order. Empty or
// whitespace-only input yields an empty slice.
func (n *Normalizer) Normalize(text string) []string {
	// cases.Caser keeps state, so one per call.
	lowered := cases.Lower(language.Und).String(text)
	fields := strings.Fields(stripPunctuation(lowered))

	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if n.stopwords.Contains(tok) {
			continue
		}
		lemma := tok
		if n.lemmas != nil {
			lemma = n.lemmas.Lemma(tok)
		}
		// A reduction must not produce a stopword, or a second pass would drop it.
		if lemma == "" || n.stopwords.Contains(lemma) {
			lemma = tok
		}
		tokens = append(tokens, lemma)
	}
	return tokens
}

// stripPunctuation removes every rune that is neither a word rune nor whitespace.
func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

func isWordRune(r rune) bool {
	return r == '_' ||
		unicode.IsLetter(r) ||
		unicode.IsDigit(r) ||
		unicode.IsNumber(r) ||
		unicode.IsMark(r)
}
