// Package similarity scores lexical overlap between two token sets.
package similarity

import (
	"sort"
	"unicode/utf8"
)

const (
	jaccardWeight = 0.6
	partialWeight = 0.4
)

// Score returns 0.6*Jaccard + 0.4*PartialOverlap in [0,1]. Inputs are
// treated as sets; duplicates and order are ignored. An empty side scores 0.
func Score(a, b []string) float64 {
	sa, sb := toSet(a), toSet(b)
	s := jaccardWeight*jaccard(sa, sb) + partialWeight*partialOverlap(sa, sb)
	return clamp(s)
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both are empty.
func Jaccard(a, b []string) float64 {
	return jaccard(toSet(a), toSet(b))
}

// PartialOverlap is the symmetric character-set overlap: the mean of the
// directional overlaps a→b and b→a. It is 0 if either side is empty.
func PartialOverlap(a, b []string) float64 {
	return partialOverlap(toSet(a), toSet(b))
}

// tokenSet keeps members sorted so floating-point sums are reproducible.
type tokenSet struct {
	words []string
	has   map[string]struct{}
}

func (s tokenSet) len() int { return len(s.words) }

func jaccard(a, b tokenSet) float64 {
	if a.len() == 0 && b.len() == 0 {
		return 0
	}
	inter := 0
	for _, w := range a.words {
		if _, ok := b.has[w]; ok {
			inter++
		}
	}
	union := a.len() + b.len() - inter
	return float64(inter) / float64(union)
}

func partialOverlap(a, b tokenSet) float64 {
	if a.len() == 0 || b.len() == 0 {
		return 0
	}
	return (directional(a, b) + directional(b, a)) / 2
}

// directional averages, over every token in from, its best tokenOverlap
// against any token in to.
func directional(from, to tokenSet) float64 {
	sum := 0.0
	for _, w1 := range from.words {
		best := 0.0
		for _, w2 := range to.words {
			if r := tokenOverlap(w1, w2); r > best {
				best = r
				if best == 1 {
					break
				}
			}
		}
		sum += best
	}
	return sum / float64(from.len())
}

// tokenOverlap is |charset(w1) ∩ charset(w2)| / max(len(w1), len(w2)).
// Repeated letters count once, so "hello" vs "help" is 3/5. Identical
// tokens are a full match regardless of repeated letters.
func tokenOverlap(w1, w2 string) float64 {
	if w1 == w2 {
		return 1
	}
	n1, n2 := utf8.RuneCountInString(w1), utf8.RuneCountInString(w2)
	longest := max(n1, n2)
	if longest == 0 {
		return 0
	}
	set := make(map[rune]struct{}, n1)
	for _, r := range w1 {
		set[r] = struct{}{}
	}
	common := 0
	for _, r := range w2 {
		if _, ok := set[r]; ok {
			common++
			delete(set, r)
		}
	}
	return float64(common) / float64(longest)
}

func toSet(tokens []string) tokenSet {
	s := tokenSet{has: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		if _, dup := s.has[t]; dup {
			continue
		}
		s.has[t] = struct{}{}
		s.words = append(s.words, t)
	}
	sort.Strings(s.words)
	return s
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
