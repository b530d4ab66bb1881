package matching

// Decision thresholds used by callers of Score. The scorer itself never
// applies them.
const (
	// ThresholdExact confirms a specific already-retrieved candidate,
	// e.g. when re-checking a listing against its current canonical vehicle.
	ThresholdExact = 0.90

	// ThresholdBroad is used when sweeping multiple candidates for the best
	// match. The caller must still pick the single highest-scoring candidate
	// above it, never the first one found.
	ThresholdBroad = 0.85
)

// Comparator scores two raw field values in [0,1]
type Comparator func(a, b string) float64

type fieldWeight struct {
	name    string
	get     func(Profile) string
	compare Comparator
	weight  float64
	gate    bool // a 0.0 score disqualifies the candidate outright
}

// scoringTable defines the weighted-field comparison. Weights sum to 1.0.
// Brand and model are hard gates: a mismatch zeroes the whole score
// regardless of the other fields.
var scoringTable = []fieldWeight{
	{"brand", func(p Profile) string { return p.Brand }, CompareExact, 0.30, true},
	{"model", func(p Profile) string { return p.Model }, CompareExact, 0.30, true},
	{"year", func(p Profile) string { return p.Year }, CompareYear, 0.20, false},
	{"edition", func(p Profile) string { return p.Edition }, CompareTokenOverlap, 0.10, false},
	{"engine", func(p Profile) string { return p.Engine }, CompareEngine, 0.10, false},
}

// Score computes the weighted similarity between a candidate listing profile
// and a canonical vehicle profile. Returns a value in [0,1].
func Score(candidate, canonical Profile) float64 {
	total := 0.0
	for _, fw := range scoringTable {
		s := fw.compare(fw.get(candidate), fw.get(canonical))
		if fw.gate && s == 0.0 {
			return 0.0
		}
		total += s * fw.weight
	}
	return total
}

// FieldScores returns the per-field breakdown, used for debug logging of
// grouping decisions
func FieldScores(candidate, canonical Profile) map[string]float64 {
	scores := make(map[string]float64, len(scoringTable))
	for _, fw := range scoringTable {
		scores[fw.name] = fw.compare(fw.get(candidate), fw.get(canonical))
	}
	return scores
}
