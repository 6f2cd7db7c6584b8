// Package confidence scores how well a provider's place name matches the
// name an itinerary asked for.
package confidence

import (
	"strings"

	"golang.org/x/text/cases"
)

// Score levels, highest first.
const (
	Exact             = 1.0
	CandidateContains = 0.9
	QueryContains     = 0.85
	WordOverlapBase   = 0.7
	WordOverlapSpan   = 0.2
	AnyOverlap        = 0.5
	NoOverlap         = 0.3

	// MajorityOverlap is the word-overlap ratio at which the graded
	// WordOverlapBase tier applies.
	MajorityOverlap = 0.5
)

// Score returns a value in [0,1] for how closely candidate matches query.
// Comparison is case-folded and whitespace-trimmed. The first matching
// rule wins: exact, candidate contains query, query contains candidate,
// majority word overlap, any word overlap, none.
func Score(query, candidate string) float64 {
	q := fold(query)
	c := fold(candidate)

	switch {
	case q == c:
		return Exact
	case strings.Contains(c, q):
		return CandidateContains
	case strings.Contains(q, c):
		return QueryContains
	}

	ratio := overlap(q, c)
	switch {
	case ratio >= MajorityOverlap:
		return clamp(WordOverlapBase + ratio*WordOverlapSpan)
	case ratio > 0:
		return AnyOverlap
	default:
		return NoOverlap
	}
}

// overlap is the share of distinct query words also present in candidate.
func overlap(q, c string) float64 {
	qWords := uniqueWords(q)
	if len(qWords) == 0 {
		return 0
	}
	cWords := uniqueWords(c)

	shared := 0
	for w := range qWords {
		if _, ok := cWords[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(qWords))
}

func uniqueWords(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func fold(s string) string {
	// A Caser is stateful; build one per call.
	return cases.Fold().String(strings.TrimSpace(s))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
