package intent

import "github.com/ragpipe/ragcore/pkg/modelregistry"

// analyticalIntents get the larger max_tokens budget and default to a
// comprehensive response style (§4.8 "max_tokens", "response_style").
var analyticalIntents = map[Name]struct{}{
	Comparison:            {},
	Aggregation:           {},
	Temporal:              {},
	RelationshipMapping:   {},
	ContextualExplanation: {},
	NegativeLogic:         {},
	CrossReference:        {},
	Synthesis:             {},
	ExceptionHandling:     {},
}

// RecommendModel resolves the registry model id for n's answer-generation
// task: the complex model for analytically deep intents, the simple model
// otherwise.
func RecommendModel(registry *modelregistry.Registry, n Name) (string, error) {
	task := modelregistry.TaskAnswerGenerationSimple
	if n.IsComplex() {
		task = modelregistry.TaskAnswerGenerationComplex
	}
	model, err := registry.ModelForTask(task)
	if err != nil {
		return "", err
	}
	return model.ID, nil
}

// RecommendMaxTokens implements the §4.8 max_tokens table: 512 for short
// factual answers, 3072 for enumerations, 2048 for analytical intents, and
// 1024 as the default medium budget.
func RecommendMaxTokens(n Name) int {
	switch n {
	case YesNo, SimpleLookup:
		return 512
	case ListEnumeration:
		return 3072
	}
	if _, ok := analyticalIntents[n]; ok {
		return 2048
	}
	return 1024
}

// RecommendResponseStyle picks a default response style from n alone,
// before any user override is applied.
func RecommendResponseStyle(n Name) ResponseStyle {
	switch n {
	case YesNo, SimpleLookup:
		return StyleConcise
	}
	if _, ok := analyticalIntents[n]; ok {
		return StyleComprehensive
	}
	return StyleBalanced
}

// ValidateResponseStyle enforces that analytical intents never answer at
// "concise" style: a user request for concise on an analytical intent is
// upgraded to balanced, with overridden=true so the caller can surface a
// warning rather than reject the request outright (§4.8, resolved as an
// always-200 behavior per the Open Questions decision in the design ledger).
func ValidateResponseStyle(n Name, requested ResponseStyle) (style ResponseStyle, overridden bool) {
	if requested == "" {
		return RecommendResponseStyle(n), false
	}
	if _, analytical := analyticalIntents[n]; analytical && requested == StyleConcise {
		return StyleBalanced, true
	}
	return requested, false
}
