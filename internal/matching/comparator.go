package matching

import (
	"math"
	"strconv"
	"strings"
)

// neutralScore is returned when either side of a comparison is missing.
// Absent data neither strongly helps nor penalizes the aggregate, which
// avoids over- or under-grouping listings with sparse specs.
const neutralScore = 0.5

// displacementTolerance treats 1.5 and 1.5L variants as the same engine
// while keeping 1.5 and 1.6 apart.
const displacementTolerance = 0.1

// CompareExact returns 1.0 on exact normalized equality, else 0.0.
// Used for brand and model, where partial credit would group unrelated
// vehicles.
func CompareExact(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return neutralScore
	}
	if na == nb {
		return 1.0
	}
	return 0.0
}

// CompareYear compares model years with a tolerance of one year, which
// accommodates model-year labeling ambiguity at point of sale. Unparsable
// non-empty input scores 0.0.
func CompareYear(a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return neutralScore
	}
	ya, okA := parseYear(a)
	yb, okB := parseYear(b)
	if !okA || !okB {
		return 0.0
	}
	switch diff := abs(ya - yb); {
	case diff == 0:
		return 1.0
	case diff == 1:
		return 0.6
	default:
		return 0.0
	}
}

// CompareTokenOverlap scores two free-text fields by shared whitespace
// tokens over the union. Partial trim names ("LX" vs "LX Turbo") still
// score above zero.
func CompareTokenOverlap(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return neutralScore
	}
	if na == nb {
		return 1.0
	}

	tokensA := tokenSet(na)
	tokensB := tokenSet(nb)

	shared := 0
	for tok := range tokensA {
		if tokensB[tok] {
			shared++
		}
	}
	union := len(tokensA) + len(tokensB) - shared
	if union == 0 {
		return 0.0
	}
	return float64(shared) / float64(union)
}

// CompareEngine compares engine specs by displacement when both sides carry
// one ("1.5 Turbo" vs "1.5 TSI" → 1.0), falling back to token overlap on the
// full spec string otherwise.
func CompareEngine(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return neutralScore
	}

	da, okA := ExtractDisplacement(a)
	db, okB := ExtractDisplacement(b)
	if okA && okB {
		if math.Abs(da-db) < displacementTolerance {
			return 1.0
		}
		return 0.0
	}
	return CompareTokenOverlap(na, nb)
}

// ExtractDisplacement pulls the displacement token out of an engine spec
// ("3.5" from "v6 3.5"). Only digit-separator-digit tokens qualify, so
// cylinder counts and valve counts are never mistaken for a displacement.
// Matches the raw string: normalization drops commas, which would mangle
// "1,5" before the shape check.
func ExtractDisplacement(s string) (float64, bool) {
	match := displacementRegex.FindString(s)
	if match == "" {
		return 0, false
	}
	val, err := strconv.ParseFloat(NormalizeNumber(match), 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

// parseYear extracts a plausible 4-digit year from a string
// (handles "2020", "2020 modelo", etc)
func parseYear(s string) (int, bool) {
	for _, tok := range ExtractNumbers(s) {
		if len(tok) != 4 {
			continue
		}
		year, err := strconv.Atoi(tok)
		if err == nil && year >= 1900 && year <= 2100 {
			return year, true
		}
	}
	return 0, false
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
