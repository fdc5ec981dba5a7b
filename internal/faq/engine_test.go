package faq

import (
	"errors"
	"math"
	"sync"
	"testing"

	"faqbot/internal/domain"
	"faqbot/internal/nlp"
)

// fixedRand always picks the same fallback position.
type fixedRand struct{ n int }

func (f fixedRand) Intn(n int) int { return f.n % n }

func newTestEngine(t *testing.T, items []domain.FAQItem, cacheSize int) (*Engine, *Holder) {
	t.Helper()
	h := NewHolder(nlp.NewNormalizer(), testLogger())
	if items != nil {
		if _, err := h.Rebuild(items); err != nil {
			t.Fatal(err)
		}
	}
	e, err := NewEngine(EngineConfig{
		Index:     h,
		Rand:      fixedRand{n: 1},
		CacheSize: cacheSize,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return e, h
}

func TestMatch_ExactSingleToken(t *testing.T) {
	e, _ := newTestEngine(t, []domain.FAQItem{item("Hello", "Hi there")}, 0)
	res, err := e.Match("hello", DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "Hi there" || res.MatchedQuestion != "Hello" || res.Score != 1.0 || res.Fallback {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMatch_UnrelatedQueryFallsBack(t *testing.T) {
	items := []domain.FAQItem{
		item("What are your business hours?", "We are open Monday to Friday from 9 AM to 5 PM."),
		item("How can I contact customer support?", "Call 1-800-SUPPORT."),
		item("Hello", "Hi there"),
	}
	e, _ := newTestEngine(t, items, 0)
	res, err := e.Match("completely unrelated gibberish zzqx", DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fallback || res.MatchedQuestion != "" {
		t.Fatalf("expected fallback, got %+v", res)
	}
	if res.Answer != DefaultFallbacks[1] {
		t.Fatalf("expected injected fallback %q, got %q", DefaultFallbacks[1], res.Answer)
	}
	for _, it := range items {
		if res.Answer == it.Answer {
			t.Fatal("fallback must never be a real FAQ answer")
		}
	}
}

func TestMatch_EmptyQuery(t *testing.T) {
	e, _ := newTestEngine(t, DefaultItems(), 0)
	for _, q := range []string{"", "   ", "the of and"} {
		res, err := e.Match(q, DefaultThreshold)
		if err != nil {
			t.Fatalf("Match(%q) error: %v", q, err)
		}
		if !res.Fallback || res.Score != 0 {
			t.Errorf("Match(%q) = %+v, want fallback with score 0", q, res)
		}
	}
}

func TestMatch_NoIndexPublished(t *testing.T) {
	e, _ := newTestEngine(t, nil, 0)
	res, err := e.Match("hello", DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fallback {
		t.Fatalf("expected fallback without an index, got %+v", res)
	}
}

func TestMatch_InvalidThreshold(t *testing.T) {
	e, _ := newTestEngine(t, DefaultItems(), 0)
	for _, th := range []float64{-0.01, 1.01, math.NaN(), math.Inf(1)} {
		if _, err := e.Match("hello", th); !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("threshold %v: expected ErrInvalidThreshold, got %v", th, err)
		}
	}
	for _, th := range []float64{0, 1} {
		if _, err := e.Match("hello", th); err != nil {
			t.Errorf("threshold %v should be accepted: %v", th, err)
		}
	}
}

func TestMatch_TieBreakEarliestEntry(t *testing.T) {
	e, _ := newTestEngine(t, []domain.FAQItem{
		item("Shipping", "unrelated"),
		item("Reset password", "first"),
		item("reset passwords!", "second"),
	}, 0)
	for i := 0; i < 50; i++ {
		res, err := e.Match("how do I reset my password", DefaultThreshold)
		if err != nil {
			t.Fatal(err)
		}
		if res.Answer != "first" {
			t.Fatalf("run %d: expected earliest entry, got %+v", i, res)
		}
	}
}

func TestMatch_ThresholdBoundary(t *testing.T) {
	e, _ := newTestEngine(t, []domain.FAQItem{item("hello", "hi")}, 0)
	// "help" vs "hello" overlaps partially: well above 0.2, below 0.3.
	low, err := e.Match("help", 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if low.Fallback || low.Answer != "hi" {
		t.Fatalf("expected a match at 0.2, got %+v", low)
	}
	if res, _ := e.Match("help", low.Score); res.Fallback {
		t.Fatalf("score equal to threshold should match, got %+v", res)
	}
	if res, _ := e.Match("help", DefaultThreshold); !res.Fallback {
		t.Fatalf("expected fallback at %v, got %+v", DefaultThreshold, res)
	}
}

func TestMatch_FailedRebuildKeepsBehavior(t *testing.T) {
	e, h := newTestEngine(t, DefaultItems(), 0)
	queries := []string{"hello", "hi", "help", "how do I use this", "1", "nonsense qqq"}

	before := make([]domain.MatchResult, len(queries))
	for i, q := range queries {
		before[i], _ = e.Match(q, DefaultThreshold)
	}

	bad := append(DefaultItems(), domain.FAQItem{Question: "valid", Answer: " "})
	if _, err := h.Rebuild(bad); err == nil {
		t.Fatal("expected rebuild to fail")
	}

	for i, q := range queries {
		after, _ := e.Match(q, DefaultThreshold)
		if after != before[i] {
			t.Errorf("%q changed after failed rebuild: %+v -> %+v", q, before[i], after)
		}
	}
}

func TestMatch_CacheFollowsGeneration(t *testing.T) {
	e, h := newTestEngine(t, []domain.FAQItem{item("Refund policy", "30 days")}, 16)
	first, _ := e.Match("refund policy", DefaultThreshold)
	again, _ := e.Match("refund policy", DefaultThreshold)
	if first != again || first.Answer != "30 days" {
		t.Fatalf("cached result differs: %+v vs %+v", first, again)
	}

	if _, err := h.Rebuild([]domain.FAQItem{item("Refund policy", "60 days")}); err != nil {
		t.Fatal(err)
	}
	res, _ := e.Match("refund policy", DefaultThreshold)
	if res.Answer != "60 days" {
		t.Fatalf("stale cache after publish: %+v", res)
	}
}

func TestMatch_ConcurrentWithPublishes(t *testing.T) {
	datasetA := []domain.FAQItem{item("Refund policy", "A"), item("Shipping time", "A-ship")}
	datasetB := []domain.FAQItem{item("Refund policy", "B"), item("Shipping time", "B-ship")}
	e, h := newTestEngine(t, datasetA, 8)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			ds := datasetA
			if i%2 == 1 {
				ds = datasetB
			}
			if _, err := h.Rebuild(ds); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	var readers sync.WaitGroup
	for g := 0; g < 8; g++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 200; i++ {
				res, err := e.Match("refund policy", DefaultThreshold)
				if err != nil {
					t.Error(err)
					return
				}
				if res.Answer != "A" && res.Answer != "B" {
					t.Errorf("unexpected answer %q", res.Answer)
					return
				}
			}
		}()
	}
	readers.Wait()
	close(stop)
	wg.Wait()
}

func TestNewEngine_RequiresHolder(t *testing.T) {
	if _, err := NewEngine(EngineConfig{}); err == nil {
		t.Fatal("expected error without holder")
	}
}

func TestNewEngine_CustomFallbacks(t *testing.T) {
	h := NewHolder(nlp.NewNormalizer(), testLogger())
	e, err := NewEngine(EngineConfig{Index: h, Fallbacks: []string{"only"}, Rand: fixedRand{n: 7}})
	if err != nil {
		t.Fatal(err)
	}
	res, _ := e.Match("anything", DefaultThreshold)
	if res.Answer != "only" {
		t.Fatalf("got %q", res.Answer)
	}
}
