package nlp

import (
	"reflect"
	"testing"
)

func TestNormalize_Empty(t *testing.T) {
	n := NewNormalizer()
	for _, in := range []string{"", "   ", "\t\n", "?!.,"} {
		got := n.Normalize(in)
		if got == nil || len(got) != 0 {
			t.Errorf("Normalize(%q) = %#v, want empty non-nil slice", in, got)
		}
	}
}

func TestNormalize_Pipeline(t *testing.T) {
	n := NewNormalizer()
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello", []string{"hello"}},
		{"Hello!!!", []string{"hello"}},
		{"How do I use this?", []string{"use"}},
		{"What are your business hours?", []string{"business", "hour"}},
		{"How can I contact customer support?", []string{"contact", "customer", "support"}},
		{"Where are the children's books?", []string{"child", "book"}},
		{"  RESET   my   PASSWORDS  ", []string{"reset", "password"}},
		{"1", []string{"1"}},
		{"snake_case stays", []string{"snake_case", "stay"}},
		{"Café menus", []string{"café", "menus"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := n.Normalize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_PreservesOrderAndDuplicates(t *testing.T) {
	n := NewNormalizer()
	got := n.Normalize("refund refund policy")
	want := []string{"refund", "refund", "policy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNormalize_IdempotentOnCleanText(t *testing.T) {
	n := NewNormalizer()
	inputs := []string{
		"reset password account settings",
		"shipping boxes classes children running",
		"owns runnings glasses series stories",
		"business hours contact customer support",
	}
	for _, in := range inputs {
		once := n.Normalize(in)
		twice := n.Normalize(joinTokens(once))
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("not idempotent for %q: %v then %v", in, once, twice)
		}
	}
}

func TestNormalize_CustomStopwordsAndLemmatizer(t *testing.T) {
	n := NewNormalizer(WithStopwords(NewStopwords("Foo")), WithLemmatizer(nil))
	got := n.Normalize("foo the bars")
	want := []string{"the", "bars"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	n := NewNormalizer()
	a := n.Normalize("Where can I track my orders?")
	for i := 0; i < 10; i++ {
		if b := n.Normalize("Where can I track my orders?"); !reflect.DeepEqual(a, b) {
			t.Fatalf("run %d: %v != %v", i, a, b)
		}
	}
}

func joinTokens(tokens []string) string {
	out := ""
	for i, t := range tokens {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
