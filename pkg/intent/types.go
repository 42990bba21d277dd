// Package intent implements the classifier (C8): given a user query it
// decides one of 15 analytical intents, a language, a complexity, and a
// composed system prompt for downstream answer generation. Classification
// is two-tier: a fast regex pattern matcher with multi-dimensional scoring,
// falling back to (or verified by) an LLM call for low/medium confidence.
package intent

import "time"

// Name is one of the 15 closed-set intent labels.
type Name string

const (
	SimpleLookup         Name = "simple_lookup"
	ListEnumeration      Name = "list_enumeration"
	YesNo                Name = "yes_no"
	DefinitionExplanation Name = "definition_explanation"
	FactualRetrieval     Name = "factual_retrieval"
	Comparison           Name = "comparison"
	Aggregation          Name = "aggregation"
	Temporal             Name = "temporal"
	RelationshipMapping  Name = "relationship_mapping"
	ContextualExplanation Name = "contextual_explanation"
	NegativeLogic        Name = "negative_logic"
	CrossReference       Name = "cross_reference"
	Synthesis            Name = "synthesis"
	DocumentNavigation   Name = "document_navigation"
	ExceptionHandling    Name = "exception_handling"
)

// All enumerates the closed set, in the same grouping as the original
// service's config (core retrieval, analytical, advanced logic, meta).
var All = []Name{
	SimpleLookup, ListEnumeration, YesNo, DefinitionExplanation, FactualRetrieval,
	Comparison, Aggregation, Temporal, RelationshipMapping, ContextualExplanation,
	NegativeLogic, CrossReference, Synthesis,
	DocumentNavigation, ExceptionHandling,
}

// Valid reports whether n belongs to the closed set.
func (n Name) Valid() bool {
	for _, v := range All {
		if v == n {
			return true
		}
	}
	return false
}

// complexAnswerIntents recommend the complex answer-generation model; every
// other intent recommends the simple one (§4.8 "Answer model").
var complexAnswerIntents = map[Name]struct{}{
	CrossReference:        {},
	Synthesis:             {},
	NegativeLogic:         {},
	RelationshipMapping:   {},
	Aggregation:           {},
	Temporal:              {},
	ContextualExplanation: {},
	ExceptionHandling:     {},
}

// IsComplex reports whether n recommends the complex answer-generation model.
func (n Name) IsComplex() bool {
	_, ok := complexAnswerIntents[n]
	return ok
}

// Complexity is the coarse reasoning-depth bucket carried alongside Name.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// ResponseStyle controls answer verbosity.
type ResponseStyle string

const (
	StyleConcise       ResponseStyle = "concise"
	StyleBalanced      ResponseStyle = "balanced"
	StyleComprehensive ResponseStyle = "comprehensive"
)

// ResponseFormat controls answer markup.
type ResponseFormat string

const (
	FormatMarkdown ResponseFormat = "markdown"
	FormatPlain    ResponseFormat = "plain"
)

// ConfidenceLevel buckets a final_score for reporting purposes.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceReject ConfidenceLevel = "reject"
)

// Confidence thresholds, §4.8. These are the fixed defaults; a Classifier
// may be built with a different Thresholds value (see WithThresholds) to
// take operator-configured cut points instead.
const (
	ThresholdReject   = 0.40
	ThresholdFallback = 0.60
	ThresholdMedium   = 0.50
	ThresholdHigh     = 0.70
	ThresholdVeryHigh = 0.90
	ThresholdMulti    = 0.85
)

// Thresholds holds the confidence cut points used by Tier-1 level
// classification, rejection/fallback handling, and confidence reporting.
type Thresholds struct {
	Reject   float64
	Fallback float64
	Medium   float64
	High     float64
	VeryHigh float64
	Multi    float64
}

// DefaultThresholds returns the fixed §4.8 cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Reject:   ThresholdReject,
		Fallback: ThresholdFallback,
		Medium:   ThresholdMedium,
		High:     ThresholdHigh,
		VeryHigh: ThresholdVeryHigh,
		Multi:    ThresholdMulti,
	}
}

// LevelFor buckets a confidence score using th.
func LevelFor(confidence float64, th Thresholds) ConfidenceLevel {
	switch {
	case confidence < th.Reject:
		return ConfidenceReject
	case confidence >= th.VeryHigh:
		return ConfidenceHigh
	case confidence >= th.High:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Request is the classifier's input.
type Request struct {
	Query           string
	EnableCitations bool
	ResponseStyle   ResponseStyle
	ResponseFormat  ResponseFormat
}

// PatternMatch records one regex hit against the query.
type PatternMatch struct {
	Intent     Name
	Pattern    string
	Confidence float64
	Start      int
	End        int
}

// Length reports the matched span's width, used by the long-match boost.
func (m PatternMatch) Length() int { return m.End - m.Start }

// IntentScore accumulates Tier-1 scoring for one candidate intent.
type IntentScore struct {
	Intent    Name
	BaseScore float64
	Matches   []PatternMatch
	Penalties []string
	Boosts    []string
	Final     float64
}

// Result is the classifier's output (the Intent API's response envelope,
// §6, minus the HTTP framing).
type Result struct {
	Intent              Name
	Language            string
	OutputLanguages     []string
	Complexity          Complexity
	RequiresMath        bool
	Confidence          float64
	ConfidenceLevel     ConfidenceLevel
	SystemPrompt        string
	RecommendedModel    string
	RecommendedMaxTokens int
	ResponseStyle       ResponseStyle
	ResponseStyleOverridden bool
	UsedPattern         string
	PatternScoring      *IntentScore
	AnalysisTime        time.Duration
	Tier                int // 1 or 2
}

// Stats mirrors the original service's /v1/stats surface (§4.8
// "Stats surface (supplemented)").
type Stats struct {
	TotalPatterns        int
	MatchCountByIntent    map[Name]int64
	RejectedQueries       int64
	LowConfidenceQueries  int64
	LastPatternReload     time.Time
}
