package questions

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"What is your Target-Market?":   "what is your target market",
		"  ¿Cuál es   el precio?  ":     "cuál es el precio",
		"CAC / LTV -- ratio??":          "cac ltv ratio",
		"":                              "",
		"!!!":                           "",
		"Price & margin (avg.) in 2025": "price margin avg in 2025",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"What is the break-even point?",
		"  multiple   spaces\tand\nnewlines ",
		"Ünïcode—dashes…and emoji 🚀?",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestIsDuplicate(t *testing.T) {
	asked := []string{"What is your target market?", "How will you charge customers?"}
	if !IsDuplicate("what is your TARGET market", asked) {
		t.Error("expected case/punctuation variant to be a duplicate")
	}
	if IsDuplicate("What is your pricing?", asked) {
		t.Error("did not expect a new question to be a duplicate")
	}
}

func TestIsQuestion(t *testing.T) {
	if !IsQuestion("Who pays? ") {
		t.Error("short question should count")
	}
	if IsQuestion("This is a summary of the pillars covered so far.") {
		t.Error("statement should not count")
	}
	if IsQuestion(strings.Repeat("long ", 100) + "?") {
		t.Error("overlong text should not count")
	}
	for _, s := range []string{"?", " ?? ", "¿?"} {
		if IsQuestion(s) {
			t.Errorf("IsQuestion(%q) = true, punctuation only should not count", s)
		}
	}
}

func TestResolveReturnsNewCandidate(t *testing.T) {
	got, err := Resolve("What is your CAC?", []string{"What is your market?"}, []string{"Bank 1?"})
	if err != nil || got != "What is your CAC?" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestResolveNeverReturnsDuplicate(t *testing.T) {
	asked := []string{"What is your market?", "Bank 1?"}
	bank := []string{"bank 1", "Bank 2?", "Bank 3?"}

	got, err := Resolve("what is your MARKET?", asked, bank)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Bank 2?" {
		t.Fatalf("expected first unused bank entry, got %q", got)
	}
	if IsDuplicate(got, asked) {
		t.Fatal("Resolve returned a duplicate")
	}
}

func TestResolveEmptyCandidateUsesBank(t *testing.T) {
	got, err := Resolve("  ", nil, []string{"Bank 1?"})
	if err != nil || got != "Bank 1?" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestResolvePunctuationOnlyUsesBank(t *testing.T) {
	got, err := Resolve("?!?", []string{"What is your market?"}, []string{"Bank 1?"})
	if err != nil || got != "Bank 1?" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestResolveBankExhausted(t *testing.T) {
	asked := []string{"A?", "B?"}
	_, err := Resolve("a?", asked, []string{"A?", "b"})
	if !errors.Is(err, ErrNoUniqueQuestion) {
		t.Fatalf("expected ErrNoUniqueQuestion, got %v", err)
	}
}

func TestResolvePassesNarrativeThrough(t *testing.T) {
	narrative := "Thanks. Your market and pricing are clear now."
	got, err := Resolve(narrative, []string{narrative}, nil)
	if err != nil || got != narrative {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestUnique(t *testing.T) {
	got := Unique([]string{"Q1?", "q1", " Q2? ", "", "Asked?"}, []string{"asked"})
	if strings.Join(got, "|") != "Q1?|Q2?" {
		t.Fatalf("Unique = %v", got)
	}
}

func TestDefaultBank(t *testing.T) {
	b := DefaultBank()
	if len(b.Questions) != 18 {
		t.Errorf("expected 18 bank questions, got %d", len(b.Questions))
	}
	if len(b.Initial) != 3 {
		t.Errorf("expected 3 initial questions, got %d", len(b.Initial))
	}
	if got := Unique(b.Questions, nil); len(got) != len(b.Questions) {
		t.Error("default bank contains duplicates after normalization")
	}
}

func TestLoadBankFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	if err := os.WriteFile(path, []byte("questions:\n  - One?\n  - Two?\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := LoadBank(path)
	if err != nil {
		t.Fatalf("LoadBank failed: %v", err)
	}
	if len(b.Questions) != 2 || len(b.Initial) != 2 {
		t.Fatalf("unexpected bank: %+v", b)
	}

	if _, err := ParseBank([]byte("initial: [x]\n")); err == nil {
		t.Fatal("expected error for bank without questions")
	}
}
