package metadata

import (
	"fmt"
	"strings"

	"github.com/ragpipe/ragcore/pkg/llmgateway"
)

const systemPrompt = `You are a metadata extraction engine. Given a chunk of text, return a single JSON object with exactly these keys: keywords, topics, questions, summary, semantic_keywords, entity_relationships, attributes. Respond with JSON only, no commentary, no markdown fences.`

// buildPrompt assembles the chat messages for one extraction call, naming
// every required key and its length cap so the model's output needs no
// more than the mandatory post-processing pipeline to become well-formed.
func buildPrompt(text string, opts Options) []llmgateway.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract metadata from the following text.\n\n")
	fmt.Fprintf(&b, "Required keys and formats:\n")
	fmt.Fprintf(&b, "- keywords: up to %d literal salient terms, comma-separated, max %d characters total.\n", opts.KeywordsCount, capKeywords)
	fmt.Fprintf(&b, "- topics: up to %d high-level themes, comma-separated, max %d characters total.\n", opts.TopicsCount, capTopics)
	fmt.Fprintf(&b, "- questions: up to %d natural-language questions this text answers, pipe-separated (\" | \"), max %d characters total.\n", opts.QuestionsCount, capQuestions)
	fmt.Fprintf(&b, "- summary: a %d-sentence summary, max %d characters.\n", opts.SummaryLength, capSummary)
	fmt.Fprintf(&b, "- semantic_keywords: synonyms or industry expansions of the keywords, comma-separated, disjoint from keywords, max %d characters total.\n", capSemanticKeywords)
	fmt.Fprintf(&b, "- entity_relationships: triplets in the form \"Entity1 -> relation -> Entity2\", pipe-separated (\" | \"), max %d characters total.\n", capEntityRelationships)
	fmt.Fprintf(&b, "- attributes: \"key: value\" pairs, comma-separated, max %d characters total.\n\n", capAttributes)
	fmt.Fprintf(&b, "Text:\n%s\n", text)

	return []llmgateway.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}
