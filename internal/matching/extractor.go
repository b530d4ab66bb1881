package matching

import (
	"regexp"
	"sort"
	"strings"
)

var (
	// Regex patterns for feature extraction from listing titles
	yearRegex         = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	displacementRegex = regexp.MustCompile(`\b(\d[.,]\d)\b`)
	valvesRegex       = regexp.MustCompile(`\b(\d+)v\b`)
)

// carBrands are the marketplace's known brands, matched longest-first so
// "land rover" wins over "rover" and "great wall" over "great".
var carBrands = []string{
	"alfa romeo", "audi", "baic", "bmw", "byd", "changan", "chery",
	"chevrolet", "chrysler", "citroen", "cupra", "daewoo", "daihatsu",
	"dfsk", "dodge", "dongfeng", "fiat", "ford", "foton", "geely", "gmc",
	"great wall", "gwm", "honda", "hyundai", "isuzu", "jac", "jaguar",
	"jeep", "jetour", "kia", "lada", "land rover", "lexus", "lifan",
	"mahindra", "mazda", "mercedes benz", "mg", "mini", "mitsubishi",
	"nissan", "opel", "peugeot", "porsche", "ram", "renault", "seat",
	"skoda", "ssangyong", "subaru", "suzuki", "tesla", "toyota",
	"volkswagen", "volvo", "xiaomi", "zotye",
}

// engineKeywords are tokens that belong to the engine spec rather than the
// edition when they follow a displacement
var engineKeywords = map[string]bool{
	"turbo": true, "tsi": true, "tdi": true, "thp": true, "mpfi": true,
	"diesel": true, "hibrido": true, "hybrid": true, "electrico": true,
}

var transmissionKeywords = map[string]string{
	"automatico":   "automatico",
	"automatica":   "automatico",
	"aut":          "automatico",
	"mecanico":     "mecanico",
	"mecanica":     "mecanico",
	"mt":           "mecanico",
	"secuencial":   "automatico",
	"cvt":          "automatico",
	"tiptronic":    "automatico",
	"triptonic":    "automatico",
	"sincronico":   "mecanico",
	"sincronica":   "mecanico",
	"semiautomati": "automatico",
}

// bodyTypes maps canonical body types to the keywords sellers use for them
var bodyTypes = map[string][]string{
	"sedan":       {"sedan"},
	"hatchback":   {"hatchback", "hatch"},
	"suv":         {"suv", "camioneta"},
	"pickup":      {"pickup", "pick up"},
	"coupe":       {"coupe"},
	"convertible": {"convertible", "cabrio"},
	"wagon":       {"wagon", "familiar"},
	"van":         {"van", "furgon"},
}

// spanishStopWords are filler words dropped before model/edition harvesting
var spanishStopWords = map[string]bool{
	"el": true, "la": true, "de": true, "que": true, "y": true, "a": true,
	"en": true, "un": true, "es": true, "se": true, "no": true, "con": true,
	"por": true, "para": true, "al": true, "del": true, "los": true,
	"las": true, "una": true, "como": true, "muy": true, "modelo": true,
	"vendo": true, "venta": true, "unico": true, "dueno": true, "full": true,
	"equipo": true, "excelente": true, "estado": true, "hermoso": true,
	"km": true, "kms": true, "perfecto": true,
}

func init() {
	sort.Slice(carBrands, func(i, j int) bool {
		return len(carBrands[i]) > len(carBrands[j])
	})
}

// TitleExtraction holds the structured fields pulled out of a free-text
// listing title
type TitleExtraction struct {
	Brand        string
	Model        string
	Year         string
	Edition      string
	Engine       string
	Transmission string
	BodyType     string
}

// ExtractFromTitle parses a marketplace listing title like
// "HONDA CIVIC LX 2020 1.5 TURBO" into comparison fields. Fields that cannot
// be determined stay empty; callers treat empty as unknown.
func ExtractFromTitle(title string) TitleExtraction {
	normalized := Normalize(title)
	if normalized == "" {
		return TitleExtraction{}
	}

	var ext TitleExtraction

	// Year
	if m := yearRegex.FindString(normalized); m != "" {
		ext.Year = m
	}

	// Engine: displacement plus any engine keyword that follows it
	if m := displacementRegex.FindString(normalized); m != "" {
		ext.Engine = NormalizeNumber(m)
		rest := normalized[strings.Index(normalized, m)+len(m):]
		for _, tok := range strings.Fields(rest) {
			if engineKeywords[tok] || valvesRegex.MatchString(tok) {
				ext.Engine += " " + tok
			} else {
				break
			}
		}
	}

	// Brand: longest known brand present as a whole-word phrase
	for _, brand := range carBrands {
		if containsPhrase(normalized, brand) {
			ext.Brand = brand
			break
		}
	}

	// Transmission and body type from keywords anywhere in the title
	tokens := strings.Fields(normalized)
	for _, tok := range tokens {
		if tr, ok := transmissionKeywords[tok]; ok && ext.Transmission == "" {
			ext.Transmission = tr
		}
	}
	for body, keywords := range bodyTypes {
		for _, kw := range keywords {
			if containsPhrase(normalized, kw) {
				ext.BodyType = body
				break
			}
		}
		if ext.BodyType != "" {
			break
		}
	}

	// Model and edition come from the tokens after the brand: the first
	// non-noise token is the model, the following ones the edition
	if ext.Brand != "" {
		after := normalized[strings.Index(normalized, ext.Brand)+len(ext.Brand):]
		var editionTokens []string
		for _, tok := range strings.Fields(after) {
			if isNoiseToken(tok, &ext) {
				continue
			}
			if ext.Model == "" {
				ext.Model = tok
				continue
			}
			editionTokens = append(editionTokens, tok)
			if len(editionTokens) == 2 {
				break
			}
		}
		ext.Edition = strings.Join(editionTokens, " ")
	}

	return ext
}

// isNoiseToken reports whether a token carries no model/edition information
// (years, displacements, transmission, body type, stop words, engine words)
func isNoiseToken(tok string, ext *TitleExtraction) bool {
	if spanishStopWords[tok] || engineKeywords[tok] {
		return true
	}
	if _, ok := transmissionKeywords[tok]; ok {
		return true
	}
	if yearRegex.MatchString(tok) || displacementRegex.MatchString(tok) || valvesRegex.MatchString(tok) {
		return true
	}
	for _, keywords := range bodyTypes {
		for _, kw := range keywords {
			if tok == kw {
				return true
			}
		}
	}
	// Bare numbers (prices, mileage) are never model/edition names
	if numberRegex.FindString(tok) == tok {
		return true
	}
	return false
}

// containsPhrase reports whether phrase occurs in s on word boundaries
func containsPhrase(s, phrase string) bool {
	idx := strings.Index(s, phrase)
	for idx >= 0 {
		before := idx == 0 || s[idx-1] == ' '
		end := idx + len(phrase)
		after := end == len(s) || s[end] == ' '
		if before && after {
			return true
		}
		next := strings.Index(s[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}
