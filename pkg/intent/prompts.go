package intent

import (
	"fmt"
	"strings"
)

// intentGuidance is the per-intent instruction fragment folded into the
// composed system prompt, indexed by the same 15-intent taxonomy used for
// classification.
var intentGuidance = map[Name]string{
	SimpleLookup:          "Answer with the single fact requested, directly and without elaboration.",
	ListEnumeration:       "Enumerate every relevant item as a list; do not omit items present in the context.",
	YesNo:                 "Lead with a direct yes or no, then give the minimal supporting fact.",
	DefinitionExplanation: "Define the term or concept clearly before adding supporting detail.",
	FactualRetrieval:      "State the requested fact(s) plainly, citing the source chunk.",
	Comparison:            "Compare the named items attribute by attribute; use a table when more than two attributes are compared.",
	Aggregation:           "Compute or summarize the requested aggregate across all matching items in context; show the arithmetic.",
	Temporal:              "Order the answer chronologically and be explicit about dates or sequence.",
	RelationshipMapping:   "Trace the relationship between the named entities and state it explicitly.",
	ContextualExplanation: "Explain the surrounding context and reasoning, not just the isolated fact.",
	NegativeLogic:         "Explicitly address the negative/exclusionary condition in the query (what is absent, excluded, or not the case).",
	CrossReference:        "Cross-reference every matching passage in context and reconcile any differences.",
	Synthesis:             "Synthesize a single coherent answer from multiple context chunks rather than quoting one in isolation.",
	DocumentNavigation:    "Point to the specific document, section, or location the user is asking to navigate to.",
	ExceptionHandling:     "Identify and call out exceptions, edge cases, or special conditions that apply.",
}

// complexityGuidance adjusts depth independent of intent.
var complexityGuidance = map[Complexity]string{
	ComplexitySimple:   "Keep the answer short.",
	ComplexityModerate: "Give a complete but efficient answer.",
	ComplexityComplex:  "Reason carefully through the steps before answering; the question has several moving parts.",
}

var styleGuidance = map[ResponseStyle]string{
	StyleConcise:       "Be concise: a few sentences at most.",
	StyleBalanced:      "Balance completeness and brevity.",
	StyleComprehensive: "Be comprehensive: cover every relevant angle found in the context.",
}

// ComposeSystemPrompt builds the downstream answer-generation system prompt
// from the classifier's decision plus the caller's citation/format/style
// preferences (§4.8 "system_prompt").
func ComposeSystemPrompt(result Result, enableCitations bool, format ResponseFormat) string {
	var b strings.Builder
	b.WriteString("You are a retrieval-augmented assistant answering from the supplied context chunks only.\n")

	if g, ok := intentGuidance[result.Intent]; ok {
		b.WriteString(g)
		b.WriteString("\n")
	}
	if g, ok := complexityGuidance[result.Complexity]; ok {
		b.WriteString(g)
		b.WriteString("\n")
	}
	if g, ok := styleGuidance[result.ResponseStyle]; ok {
		b.WriteString(g)
		b.WriteString("\n")
	}
	if result.RequiresMath {
		b.WriteString("Show any calculation explicitly before stating the final number.\n")
	}

	if enableCitations {
		b.WriteString("Cite the source chunk for every claim using its chunk id in brackets, e.g. [chunk_0003].\n")
	} else {
		b.WriteString("Do not include citations.\n")
	}

	switch format {
	case FormatPlain:
		b.WriteString("Respond in plain text, no markdown formatting.\n")
	default:
		b.WriteString("Respond in markdown.\n")
	}

	if len(result.OutputLanguages) > 1 {
		b.WriteString(fmt.Sprintf("Write the answer in each of the following languages, in order: %s.\n", strings.Join(result.OutputLanguages, ", ")))
	} else if len(result.OutputLanguages) == 1 && result.OutputLanguages[0] != "en" {
		b.WriteString(fmt.Sprintf("Write the answer in language %q.\n", result.OutputLanguages[0]))
	}

	if result.ResponseStyleOverridden {
		b.WriteString("Note: the requested response style was upgraded from concise to balanced because this query requires analytical depth.\n")
	}

	return b.String()
}
