package nlp

import "strings"

// Lemmatizer reduces a lowercase token to its dictionary base form.
type Lemmatizer interface {
	Lemma(token string) string
}

// RuleLemmatizer is a dictionary-free lemmatizer: an exception table for
// irregular forms followed by noun inflection rules. Every output is a fixed
// point of Lemma, so normalizing already-normalized text is a no-op.
type RuleLemmatizer struct {
	exceptions map[string]string
}

// NewRuleLemmatizer returns a lemmatizer seeded with the default exception
// table. extra entries override or extend it.
func NewRuleLemmatizer(extra map[string]string) *RuleLemmatizer {
	exc := make(map[string]string, len(defaultExceptions)+len(extra))
	for k, v := range defaultExceptions {
		exc[k] = v
	}
	for k, v := range extra {
		exc[strings.ToLower(k)] = strings.ToLower(v)
	}
	return &RuleLemmatizer{exceptions: exc}
}

var defaultExceptions = map[string]string{
	"children": "child",
	"men":      "man",
	"women":    "woman",
	"people":   "person",
	"feet":     "foot",
	"teeth":    "tooth",
	"mice":     "mouse",
	"geese":    "goose",
	"wives":    "wife",
	"knives":   "knife",
	"lives":    "life",
	"leaves":   "leaf",
	"halves":   "half",
	"indices":  "index",
	"matrices": "matrix",
	"criteria": "criterion",
	"running":  "run",
	"ran":      "run",
	"went":     "go",
	"gone":     "go",
	"going":    "go",
	"paid":     "pay",
	"bought":   "buy",
	"sent":     "send",
	"better":   "good",
	"best":     "good",
}

// suffix rules are tried in order; the first match wins.
var nounRules = []struct {
	suffix, replace string
	minLen          int
}{
	{"sses", "ss", 5},
	{"ches", "ch", 5},
	{"shes", "sh", 5},
	{"xes", "x", 4},
	{"ies", "y", 5},
}

func (l *RuleLemmatizer) Lemma(token string) string {
	if base, ok := l.exceptions[token]; ok {
		return base
	}
	if len(token) <= 3 {
		return token
	}
	return l.irregular(inflect(token))
}

// irregular maps a rule output that is itself an irregular form ("runnings"
// -> "running" -> "run") so the result stays a fixed point.
func (l *RuleLemmatizer) irregular(token string) string {
	if base, ok := l.exceptions[token]; ok {
		return base
	}
	return token
}

func inflect(token string) string {
	for _, r := range nounRules {
		if len(token) >= r.minLen && strings.HasSuffix(token, r.suffix) {
			return strings.TrimSuffix(token, r.suffix) + r.replace
		}
	}
	if strings.HasSuffix(token, "s") &&
		!strings.HasSuffix(token, "ss") &&
		!strings.HasSuffix(token, "us") &&
		!strings.HasSuffix(token, "is") {
		return token[:len(token)-1]
	}
	return token
}
