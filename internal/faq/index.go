// Package faq builds immutable FAQ index snapshots and matches free-text
// queries against the active one.
package faq

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"faqbot/internal/domain"
	"faqbot/internal/metrics"
)

// Tokenizer turns text into normalized tokens. *nlp.Normalizer implements it.
type Tokenizer interface {
	Normalize(text string) []string
}

// Index is an immutable snapshot of normalized FAQ entries in dataset order.
type Index struct {
	entries    []domain.FAQEntry
	dropped    int
	generation uint64
	builtAt    time.Time
}

// Build validates items and normalizes their questions.
//
// Validation is all-or-nothing: one item with an empty question or answer
// (after trimming) rejects the whole dataset with a *ValidationError.
// Items that validate but normalize to zero tokens are dropped with a
// warning instead; only when every item drops does Build fail.
func Build(items []domain.FAQItem, tok Tokenizer, logger *slog.Logger) (*Index, error) {
	if len(items) == 0 {
		return nil, ErrEmptyDataset
	}

	clean := make([]domain.FAQItem, len(items))
	for i, it := range items {
		q, a := strings.TrimSpace(it.Question), strings.TrimSpace(it.Answer)
		switch {
		case q == "":
			return nil, &ValidationError{Index: i, Field: "question", Reason: "cannot be empty"}
		case a == "":
			return nil, &ValidationError{Index: i, Field: "answer", Reason: "cannot be empty"}
		}
		clean[i] = domain.FAQItem{Question: q, Answer: a}
	}

	idx := &Index{
		entries: make([]domain.FAQEntry, 0, len(clean)),
		builtAt: time.Now(),
	}
	for i, it := range clean {
		tokens := tok.Normalize(it.Question)
		if len(tokens) == 0 {
			idx.dropped++
			if logger != nil {
				logger.Warn("skipping FAQ entry with no usable tokens", "item", i, "question", it.Question)
			}
			continue
		}
		idx.entries = append(idx.entries, domain.FAQEntry{
			OriginalQuestion: it.Question,
			Tokens:           tokens,
			Answer:           it.Answer,
		})
	}
	if len(idx.entries) == 0 {
		return nil, ErrNoUsableEntries
	}
	return idx, nil
}

func (i *Index) Len() int { return len(i.entries) }

// Dropped is the number of items excluded for normalizing to zero tokens.
func (i *Index) Dropped() int { return i.dropped }

// Generation is assigned on publish; 0 means never published.
func (i *Index) Generation() uint64 { return i.generation }

func (i *Index) BuiltAt() time.Time { return i.builtAt }

// Entries returns a copy of the entries.
func (i *Index) Entries() []domain.FAQEntry {
	out := make([]domain.FAQEntry, len(i.entries))
	copy(out, i.entries)
	return out
}

// Holder owns the active index reference. Readers Load a snapshot once and
// keep using it; publishing swaps the pointer atomically.
type Holder struct {
	active atomic.Pointer[Index]
	gen    atomic.Uint64
	mu     sync.Mutex // orders concurrent publishes
	tok    Tokenizer
	logger *slog.Logger
}

func NewHolder(tok Tokenizer, logger *slog.Logger) *Holder {
	return &Holder{tok: tok, logger: logger}
}

// Tokenizer returns the tokenizer used to build indexes, so queries are
// normalized the same way.
func (h *Holder) Tokenizer() Tokenizer { return h.tok }

// Load returns the active snapshot, or nil before the first publish.
func (h *Holder) Load() *Index { return h.active.Load() }

// Publish makes idx the active snapshot under a new generation and returns
// the published copy. idx itself is not modified.
func (h *Holder) Publish(idx *Index) *Index {
	h.mu.Lock()
	defer h.mu.Unlock()

	pub := *idx
	pub.generation = h.gen.Add(1)
	h.active.Store(&pub)

	metrics.IndexPublishes.WithLabelValues("published").Inc()
	metrics.IndexEntries.Set(float64(pub.Len()))
	if h.logger != nil {
		h.logger.Info("FAQ index published",
			"generation", pub.generation, "entries", pub.Len(), "dropped", pub.dropped)
	}
	return &pub
}

// Rebuild builds a new index off to the side and publishes it. On error the
// active index is left untouched.
func (h *Holder) Rebuild(items []domain.FAQItem) (*Index, error) {
	idx, err := Build(items, h.tok, h.logger)
	if err != nil {
		metrics.IndexPublishes.WithLabelValues("rejected").Inc()
		if h.logger != nil {
			h.logger.Warn("FAQ dataset rejected, keeping active index", "err", err)
		}
		return nil, err
	}
	return h.Publish(idx), nil
}
