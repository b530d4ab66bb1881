package matching

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"meli-tracker-api/internal/model"
)

// Profile is the set of comparable fields used in scoring. Both listings and
// canonical vehicles project into it before any comparison, so the scorer
// never touches the full records.
type Profile struct {
	Brand   string
	Model   string
	Year    string
	Edition string
	Engine  string
}

// ProfileFromListing projects a listing's comparison fields
func ProfileFromListing(l *model.Listing) Profile {
	return Profile{
		Brand:   l.Brand,
		Model:   l.Model,
		Year:    l.Year,
		Edition: l.Edition,
		Engine:  l.Engine,
	}
}

// ProfileFromCanonical projects a canonical vehicle's representative fields
func ProfileFromCanonical(cv *model.CanonicalVehicle) Profile {
	return Profile{
		Brand:   cv.Brand,
		Model:   cv.Model,
		Year:    cv.Year,
		Edition: cv.Edition,
		Engine:  cv.Engine,
	}
}

// Fingerprint returns the normalized identity of a profile. The database
// enforces uniqueness on it, so two listings racing to create the same
// canonical vehicle collide instead of producing duplicates.
func (p Profile) Fingerprint() string {
	engine := Normalize(p.Engine)
	if disp, ok := ExtractDisplacement(p.Engine); ok {
		engine = fmt.Sprintf("%.1f", disp)
	}

	year := ""
	if y, ok := parseYear(p.Year); ok {
		year = fmt.Sprintf("%d", y)
	}

	return strings.Join([]string{
		Normalize(p.Brand),
		Normalize(p.Model),
		year,
		Normalize(p.Edition),
		engine,
	}, "|")
}

var titleCaser = cases.Title(language.LatinAmericanSpanish)

// DisplayTitle generates a standardized human-readable title,
// e.g. "Honda Civic 2020 LX"
func (p Profile) DisplayTitle() string {
	var parts []string
	if p.Brand != "" {
		parts = append(parts, titleCaser.String(Normalize(p.Brand)))
	}
	if p.Model != "" {
		parts = append(parts, titleCaser.String(Normalize(p.Model)))
	}
	if year, ok := parseYear(p.Year); ok {
		parts = append(parts, fmt.Sprintf("%d", year))
	}
	if p.Edition != "" {
		parts = append(parts, strings.ToUpper(Normalize(p.Edition)))
	}
	return strings.Join(parts, " ")
}
