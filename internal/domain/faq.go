package domain

// FAQItem is a raw question/answer record as it arrives in a dataset.
type FAQItem struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// FAQEntry is a validated FAQ item together with its normalized question tokens.
// Tokens is never empty for an entry that made it into an index.
type FAQEntry struct {
	OriginalQuestion string   `json:"original_question"`
	Tokens           []string `json:"tokens"`
	Answer           string   `json:"answer"`
}

// MatchResult is the outcome of matching one utterance against the active index.
type MatchResult struct {
	Answer          string  `json:"answer"`
	MatchedQuestion string  `json:"matched_question,omitempty"` // empty when Fallback is true
	Score           float64 `json:"score"`
	Fallback        bool    `json:"fallback"`
}
