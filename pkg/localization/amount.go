package localization

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrAmbiguousAmount is returned when a number string could plausibly be
// either locale's grouping convention and cannot be disambiguated — this is
// distinct from "no number found at all" (spec §4.F, I8).
var ErrAmbiguousAmount = errors.New("ambiguous amount: cannot determine locale")

// ErrNoAmount is returned when the input carries no parseable number.
var ErrNoAmount = errors.New("no amount found")

var currencySuffix = regexp.MustCompile(`(?i)\s*(eur|€)\s*$`)

// ParseAmount parses a single number string, trying German locale
// (1.234,56) first and falling back to US locale (1,234.56). An optional
// trailing EUR/€ currency marker is accepted and stripped. Decimal
// precision is preserved throughout via shopspring/decimal.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = currencySuffix.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, ErrNoAmount
	}

	if !hasDigit(s) {
		return decimal.Decimal{}, ErrNoAmount
	}

	if d, ok := parseGermanLocale(s); ok {
		return d, nil
	}
	if d, ok := parseUSLocale(s); ok {
		return d, nil
	}
	if d, ok := parseUnambiguous(s); ok {
		return d, nil
	}
	return decimal.Decimal{}, ErrAmbiguousAmount
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// germanPattern matches 1.234,56 / 1234,56 / 1.234.567,89
var germanPattern = regexp.MustCompile(`^\d{1,3}(\.\d{3})+,\d+$|^\d+,\d{1,2}$`)

func parseGermanLocale(s string) (decimal.Decimal, bool) {
	if !germanPattern.MatchString(s) {
		return decimal.Decimal{}, false
	}
	normalized := strings.ReplaceAll(s, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// usPattern matches 1,234.56 / 1234.56 / 1,234,567.89
var usPattern = regexp.MustCompile(`^\d{1,3}(,\d{3})+\.\d+$|^\d+\.\d{1,2}$`)

func parseUSLocale(s string) (decimal.Decimal, bool) {
	if !usPattern.MatchString(s) {
		return decimal.Decimal{}, false
	}
	normalized := strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseUnambiguous handles plain digit strings such as "1234". A lone
// thousands separator with no fractional part ("1.234", "1,234") is not
// accepted here, so ParseAmount reports it as ErrAmbiguousAmount.
func parseUnambiguous(s string) (decimal.Decimal, bool) {
	if regexp.MustCompile(`^\d+$`).MatchString(s) {
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// labeledAmountPatterns scans for German creditor-amount labels, in the
// priority order the spec lists: Gesamtforderung first, then its synonyms,
// then Hauptforderung on its own (Zinsen and Kosten are not matched or
// added).
var labeledAmountPatterns = []*regexp.Regexp{
	mustLabelPattern(`gesamtforderung`),
	mustLabelPattern(`forderungsh[oö]he`),
	mustLabelPattern(`schulden`),
	mustLabelPattern(`offener?\s+betrag`),
	mustLabelPattern(`restschuld`),
	mustLabelPattern(`gesamtsumme`),
	mustLabelPattern(`hauptforderung`),
}

func mustLabelPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + label + `\s*[:\-]?\s*([0-9][0-9.,]*)\s*(eur|€)?`)
}

var anyCurrencyAmount = regexp.MustCompile(`(?i)([0-9][0-9.,]*)\s*(eur|€)`)

// ExtractPlausibleAmount scans free text for the most plausible debt amount:
// labeled amounts first (in spec priority order), falling back to any
// currency-tagged number. Returns ErrNoAmount if nothing matches.
func ExtractPlausibleAmount(text string) (decimal.Decimal, error) {
	for _, pattern := range labeledAmountPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if d, err := ParseAmount(m[1]); err == nil {
				return d, nil
			}
		}
	}
	if m := anyCurrencyAmount.FindStringSubmatch(text); m != nil {
		if d, err := ParseAmount(m[1]); err == nil {
			return d, nil
		}
	}
	return decimal.Decimal{}, ErrNoAmount
}

// FormatEUR renders a decimal in German locale for display/logging.
func FormatEUR(d decimal.Decimal) string {
	s := d.StringFixed(2)
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}
	grouped := groupThousands(intPart)
	out := grouped + "," + parts[1] + " EUR"
	if neg {
		out = "-" + out
	}
	return out
}

func groupThousands(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var parts []string
	for n > 3 {
		parts = append([]string{digits[n-3:]}, parts...)
		digits = digits[:n-3]
		n = len(digits)
	}
	parts = append([]string{digits}, parts...)
	return strings.Join(parts, ".")
}

// MustParseInt parses a value the caller already knows is a plain integer
// string, returning 0 if it is not one.
func MustParseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
