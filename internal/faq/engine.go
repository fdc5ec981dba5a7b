package faq

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"faqbot/internal/domain"
	"faqbot/internal/metrics"
	"faqbot/internal/similarity"
)

// DefaultThreshold is the minimum score for a real answer.
const DefaultThreshold = 0.3

// DefaultFallbacks are returned, one at random, when nothing scores high enough.
var DefaultFallbacks = []string{
	"I'm sorry, I couldn't find a specific answer to your question.",
	"Could you please rephrase your question?",
	"I don't have enough information to answer that. Can you be more specific?",
	"I'm afraid I don't understand. Could you try asking differently?",
}

// RandSource picks fallback responses. *rand.Rand satisfies it.
type RandSource interface {
	Intn(n int) int
}

type EngineConfig struct {
	Index     *Holder
	Fallbacks []string   // default: DefaultFallbacks
	Rand      RandSource // default: time-seeded math/rand
	CacheSize int        // hot-query cache entries; <= 0 disables the cache
	Logger    *slog.Logger
}

// Engine matches utterances against the holder's active index. It is safe
// for concurrent use; the index read path takes no locks.
type Engine struct {
	index     *Holder
	fallbacks []string
	rng       RandSource
	rngMu     sync.Mutex
	cache     *lru.Cache
	logger    *slog.Logger
}

// best is the winning entry position in a snapshot, -1 for none.
type best struct {
	entry int
	score float64
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("faq engine: index holder is required")
	}
	fallbacks := cfg.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = DefaultFallbacks
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		index:     cfg.Index,
		fallbacks: append([]string(nil), fallbacks...),
		rng:       rng,
		logger:    cfg.Logger,
	}
	if cfg.CacheSize > 0 {
		c, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("faq engine: query cache: %w", err)
		}
		e.cache = c
	}
	return e, nil
}

// Match returns the best-scoring entry's answer when its score reaches
// threshold, otherwise a random fallback. Ties go to the earliest entry.
// The only error is a threshold outside [0, 1].
func (e *Engine) Match(query string, threshold float64) (domain.MatchResult, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		metrics.MatchesTotal.WithLabelValues("invalid").Inc()
		return domain.MatchResult{}, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	started := time.Now()
	defer func() { metrics.MatchDuration.Observe(time.Since(started).Seconds()) }()

	// One snapshot for the whole call; a concurrent publish does not affect it.
	idx := e.index.Load()
	tokens := e.index.Tokenizer().Normalize(query)
	b := e.bestMatch(idx, tokens)
	metrics.MatchScore.Observe(b.score)

	if b.entry >= 0 && b.score >= threshold {
		entry := idx.entries[b.entry]
		metrics.MatchesTotal.WithLabelValues("answer").Inc()
		e.logger.Debug("FAQ matched", "question", entry.OriginalQuestion, "score", b.score)
		return domain.MatchResult{
			Answer:          entry.Answer,
			MatchedQuestion: entry.OriginalQuestion,
			Score:           b.score,
		}, nil
	}

	metrics.MatchesTotal.WithLabelValues("fallback").Inc()
	e.logger.Debug("no FAQ above threshold", "best_score", b.score, "threshold", threshold)
	return domain.MatchResult{
		Answer:   e.fallback(),
		Score:    b.score,
		Fallback: true,
	}, nil
}

func (e *Engine) bestMatch(idx *Index, tokens []string) best {
	if idx == nil {
		return best{entry: -1}
	}
	key := cacheKey(idx.generation, tokens)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			metrics.MatchCacheHits.Inc()
			return v.(best)
		}
	}

	b := best{entry: -1, score: -1}
	for i, entry := range idx.entries {
		// Strict comparison keeps the earliest entry on ties.
		if s := similarity.Score(tokens, entry.Tokens); s > b.score {
			b = best{entry: i, score: s}
		}
	}
	if b.entry < 0 {
		b.score = 0
	}

	if e.cache != nil {
		e.cache.Add(key, b)
	}
	return b
}

func (e *Engine) fallback() string {
	e.rngMu.Lock()
	i := e.rng.Intn(len(e.fallbacks))
	e.rngMu.Unlock()
	return e.fallbacks[i]
}

// cacheKey scopes a decision to one index generation, so a publish retires
// every earlier key.
func cacheKey(generation uint64, tokens []string) string {
	return strconv.FormatUint(generation, 10) + "\x00" + strings.Join(tokens, "\x1f")
}
