// Package localization implements the text preprocessor, German-locale
// amount parser, and field validators of spec §4.F, grounded on
// golang.org/x/text/unicode/norm for NFKC normalization (already part of
// the teacher's dependency graph, promoted here to direct use) and
// shopspring/decimal for exact monetary precision.
package localization

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// germanLexicon is the conservative allow-list of German words whose OCR'd
// digraph form ("ue", "oe", "ae") is restored to its Umlaut form. Restoring
// digraphs blindly would corrupt genuine German words like "Museum" or
// "Abenteuer"; gating on lexicon membership keeps the restoration
// conservative per spec.
var germanLexicon = buildLexicon([]string{
	"für", "über", "möchte", "können", "müssen", "größe", "grüße",
	"schön", "früh", "später", "nämlich", "wäre", "wären", "während",
	"zurück", "natürlich", "gläubiger", "schuldner", "forderung",
	"gesamtforderung", "forderungshöhe", "schulden", "restschuld",
	"hauptforderung", "zinsen", "kosten", "aktenzeichen", "österreich",
	"prüfung", "betrüger", "täuschung", "täter", "höhe", "löschung",
	"mahnung", "verzögerung", "bußgeld", "straße", "köln", "düsseldorf",
	"münchen", "würde", "wünsche", "grüßen", "rückmeldung", "ergänzung",
})

func buildLexicon(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = true
	}
	return m
}

var digraphToUmlaut = map[string]string{
	"ue": "ü", "Ue": "Ü", "UE": "Ü",
	"oe": "ö", "Oe": "Ö", "OE": "Ö",
	"ae": "ä", "Ae": "Ä", "AE": "Ä",
}

// PreprocessResult carries the normalized text and a count of OCR
// restorations applied, so callers never treat corrections as a confidence
// penalty (spec: "does not reduce confidence for corrections").
type PreprocessResult struct {
	Text         string
	Corrections  int
}

// Preprocess applies NFKC normalization, then a conservative, lexicon-gated
// digraph-to-Umlaut OCR restoration pass over whole words. It never touches
// digits.
func Preprocess(input string) PreprocessResult {
	normalized := norm.NFKC.String(input)
	restored, count := restoreDigraphs(normalized)
	return PreprocessResult{Text: restored, Corrections: count}
}

func restoreDigraphs(s string) (string, int) {
	var b strings.Builder
	corrections := 0
	for _, word := range splitKeepingSeparators(s) {
		if !isWordToken(word) {
			b.WriteString(word)
			continue
		}
		candidate, changed := tryRestoreWord(word)
		if changed && germanLexicon[strings.ToLower(candidate)] {
			b.WriteString(candidate)
			corrections++
		} else {
			b.WriteString(word)
		}
	}
	return b.String(), corrections
}

// tryRestoreWord substitutes every digraph occurrence in word and reports
// whether any substitution happened.
func tryRestoreWord(word string) (string, bool) {
	changed := false
	result := word
	for digraph, umlaut := range digraphToUmlaut {
		if strings.Contains(result, digraph) {
			result = strings.ReplaceAll(result, digraph, umlaut)
			changed = true
		}
	}
	return result, changed
}

func isWordToken(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

// splitKeepingSeparators tokenizes s into runs of letters and runs of
// everything else, preserving every byte so reassembly is lossless.
func splitKeepingSeparators(s string) []string {
	var tokens []string
	var cur strings.Builder
	var curIsLetter bool
	first := true
	for _, r := range s {
		isLetter := unicode.IsLetter(r)
		if first {
			curIsLetter = isLetter
			first = false
		}
		if isLetter != curIsLetter {
			tokens = append(tokens, cur.String())
			cur.Reset()
			curIsLetter = isLetter
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// digitLetterSubstitution is applied only to fields the caller explicitly
// flags as name/address data (spec: never on general text).
var digitLetterSubstitution = map[rune]rune{
	'3': 'e', '0': 'o', '1': 'l',
}

// RestoreNameField applies the digit->letter OCR heuristic to a value the
// caller asserts is a name or address field. It must never be called on
// free text bodies.
func RestoreNameField(value string) string {
	var b strings.Builder
	for _, r := range value {
		if replacement, ok := digitLetterSubstitution[r]; ok {
			b.WriteRune(replacement)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
