package intent

import "sort"

// conflictRule captures one generic intent's penalty factor and the set of
// specific-intent competitors whose presence triggers it, grounded on
// pattern_matcher_v2.py's INTENT_CONFLICTS table.
type conflictRule struct {
	penalty     float64
	competitors []Name
}

var conflictRules = map[Name]conflictRule{
	ListEnumeration: {
		penalty:     0.65,
		competitors: []Name{RelationshipMapping, CrossReference, Aggregation, NegativeLogic},
	},
	FactualRetrieval: {
		penalty:     0.75,
		competitors: []Name{Comparison, Aggregation, Temporal, CrossReference},
	},
	DefinitionExplanation: {
		penalty:     0.70,
		competitors: []Name{SimpleLookup, Comparison, Aggregation},
	},
}

// Boost thresholds/factors, grounded on pattern_matcher_v2.py's BOOST_RULES.
const (
	multiPatternThreshold = 2
	multiPatternFactor    = 1.25

	earlyPositionMaxStart = 20
	earlyPositionFactor   = 1.10

	longMatchMinLength = 30
	longMatchFactor    = 1.15
)

// findAllMatches runs every pattern of every intent against query and
// returns one PatternMatch per successful regex match.
func findAllMatches(lib *Library, query string) map[Name][]PatternMatch {
	out := make(map[Name][]PatternMatch)
	for name, patterns := range lib.byIntent {
		for _, p := range patterns {
			if p.compiled == nil {
				continue
			}
			loc := p.compiled.FindStringIndex(query)
			if loc == nil {
				continue
			}
			out[name] = append(out[name], PatternMatch{
				Intent:     name,
				Pattern:    p.Regex,
				Confidence: p.Confidence,
				Start:      loc[0],
				End:        loc[1],
			})
		}
	}
	return out
}

// scoreIntent builds the raw (pre-adjustment) IntentScore for one intent's
// matches: base_score is the sum of per-pattern confidences.
func scoreIntent(name Name, matches []PatternMatch) IntentScore {
	score := IntentScore{Intent: name, Matches: matches}
	for _, m := range matches {
		score.BaseScore += m.Confidence
	}
	score.Final = score.BaseScore
	return score
}

// applyScoringRules mutates scores in place: conflict penalties, then
// multiplicative boosts, then normalization to [0, 1].
func applyScoringRules(scores map[Name]*IntentScore) {
	for name, rule := range conflictRules {
		s, ok := scores[name]
		if !ok || s.Final == 0 {
			continue
		}
		for _, competitor := range rule.competitors {
			if c, has := scores[competitor]; has && c.Final > 0 {
				s.Final *= rule.penalty
				s.Penalties = append(s.Penalties, string(competitor))
				break
			}
		}
	}

	for _, s := range scores {
		if len(s.Matches) >= multiPatternThreshold {
			s.Final *= multiPatternFactor
			s.Boosts = append(s.Boosts, "multi_pattern")
		}

		earliest := -1
		longest := 0
		for _, m := range s.Matches {
			if earliest == -1 || m.Start < earliest {
				earliest = m.Start
			}
			if m.Length() > longest {
				longest = m.Length()
			}
		}
		if earliest >= 0 && earliest <= earlyPositionMaxStart {
			s.Final *= earlyPositionFactor
			s.Boosts = append(s.Boosts, "early_position")
		}
		if longest >= longMatchMinLength {
			s.Final *= longMatchFactor
			s.Boosts = append(s.Boosts, "long_match")
		}

		if s.Final > 1.0 {
			s.Final = 1.0
		}
	}
}

// tier1Result is the winner plus whatever multi-intent flag the scoring
// round produced.
type tier1Result struct {
	Winner     IntentScore
	MultiIntent bool
	Runners    []IntentScore // all non-zero candidates, sorted descending, for diagnostics
}

// matchTier1 runs the full Tier-1 pipeline: find matches, score, apply
// conflict penalties and boosts, normalize, and pick a winner.
func matchTier1(lib *Library, query string, multiThreshold float64) (tier1Result, bool) {
	raw := findAllMatches(lib, query)
	if len(raw) == 0 {
		return tier1Result{}, false
	}

	scores := make(map[Name]*IntentScore, len(raw))
	for name, matches := range raw {
		s := scoreIntent(name, matches)
		scores[name] = &s
	}
	applyScoringRules(scores)

	candidates := make([]IntentScore, 0, len(scores))
	for _, s := range scores {
		if s.Final > 0 {
			candidates = append(candidates, *s)
		}
	}
	if len(candidates) == 0 {
		return tier1Result{}, false
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Final > candidates[j].Final })

	multiIntent := false
	aboveMulti := 0
	for _, c := range candidates {
		if c.Final >= multiThreshold {
			aboveMulti++
		}
	}
	if aboveMulti >= 2 {
		multiIntent = true
	}

	return tier1Result{Winner: candidates[0], MultiIntent: multiIntent, Runners: candidates}, true
}
