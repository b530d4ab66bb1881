// Package parser converts the raw string values scraped from marketplace
// pages (prices, kilometers, years) into numeric form. Values that cannot be
// parsed return ok=false; they are excluded from aggregates but never abort
// processing.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	digitRunRegex = regexp.MustCompile(`\d+`)
	yearRegex     = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

// ParsePrice parses Colombian-market price strings like "$ 85.000.000",
// "85.000.000 COP" or "$85,000,000". Dots and commas are thousands
// separators unless a trailing two-digit group follows, which is treated as
// decimals.
func ParsePrice(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	// Keep only digits and separators
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s = strings.Trim(b.String(), ".,")
	if s == "" {
		return 0, false
	}

	// Decimal part only when the last separator group has exactly two digits
	decimals := ""
	if idx := strings.LastIndexAny(s, ".,"); idx >= 0 && len(s)-idx-1 == 2 {
		decimals = s[idx+1:]
		s = s[:idx]
	}

	integer := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if integer == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(integer, 64)
	if err != nil {
		return 0, false
	}
	if decimals != "" {
		frac, err := strconv.ParseFloat(decimals, 64)
		if err == nil {
			value += frac / 100
		}
	}
	return value, true
}

// ParseKilometers parses mileage strings like "120.000 Km" or "85000 kms"
func ParseKilometers(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	// Separators inside the number are always thousands marks for mileage
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")

	match := digitRunRegex.FindString(s)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseYear extracts a plausible model year from a string
func ParseYear(raw string) (int, bool) {
	match := yearRegex.FindString(raw)
	if match == "" {
		return 0, false
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return year, true
}
