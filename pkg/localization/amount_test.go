package localization

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"german locale with EUR suffix", "1.234,56 EUR", "1234.56", nil},
		{"us locale with EUR suffix", "1,234.56 EUR", "1234.56", nil},
		{"ambiguous three-digit grouping", "1,234", "", ErrAmbiguousAmount},
		{"german locale euro sign", "500,00€", "500", nil},
		{"unambiguous no separator", "100", "100", nil},
		{"no digits at all", "kein Betrag angegeben", "", ErrNoAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAmount(tc.input)
			if tc.wantErr != nil {
				if err != tc.wantErr {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want, _ := decimal.NewFromString(tc.want)
			if !got.Equal(want) {
				t.Fatalf("ParseAmount(%q) = %s, want %s", tc.input, got, want)
			}
		})
	}
}

func TestPreprocessRestoresLexiconDigraphs(t *testing.T) {
	result := Preprocess("Die Gesamtforderung betraegt fuer den Schuldner 500 EUR.")
	if result.Corrections == 0 {
		t.Fatalf("expected at least one digraph correction, got 0: %q", result.Text)
	}
}

func TestPreprocessNeverTouchesNonLexiconWords(t *testing.T) {
	result := Preprocess("Das Museum bleibt unveraendert in diesem Text.")
	if got := result.Text; got == "" {
		t.Fatalf("preprocess produced empty output")
	}
	// "Museum" itself must never be rewritten by the digraph pass.
	if !containsWord(result.Text, "Museum") {
		t.Fatalf("expected 'Museum' to survive preprocessing unchanged, got %q", result.Text)
	}
}

func containsWord(haystack, word string) bool {
	for i := 0; i+len(word) <= len(haystack); i++ {
		if haystack[i:i+len(word)] == word {
			return true
		}
	}
	return false
}
