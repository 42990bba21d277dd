package metadata

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// reasoningTagPattern strips generic reasoning tags a model may emit before
// its actual JSON answer, independent of any specific model's registered
// strip pattern (the gateway already strips the registered one; this is a
// defensive second pass against raw tags like <think>/<reasoning>).
var reasoningTagPattern = regexp.MustCompile(`(?is)<(?:think|reasoning|thought)>.*?</(?:think|reasoning|thought)>`)

var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// placeholderKeywords is the fixed generic-term set dropped from keywords,
// case-insensitively.
var placeholderKeywords = map[string]bool{
	"full product names": true,
	"company names":      true,
	"technical terms":    true,
	"key terms":          true,
	"relevant keywords":  true,
	"important terms":    true,
	"n/a":                true,
	"none":               true,
}

// parseAndClean runs the mandatory post-processing pipeline over one raw
// LLM response: JSON parse with repair fallbacks, then dedup/filter/
// validate/truncate. Returns a ParseError if no parse strategy succeeds.
func parseAndClean(raw string) (Fields, error) {
	parsed, err := parseJSONWithRepair(raw)
	if err != nil {
		return Fields{}, err
	}

	f := Fields{
		Keywords:            parsed["keywords"],
		Topics:              parsed["topics"],
		Questions:           parsed["questions"],
		Summary:             parsed["summary"],
		SemanticKeywords:    parsed["semantic_keywords"],
		EntityRelationships: parsed["entity_relationships"],
		Attributes:          parsed["attributes"],
	}

	f.Keywords = filterPlaceholders(f.Keywords)
	f.SemanticKeywords = dedupeAgainst(f.SemanticKeywords, f.Keywords)
	f.EntityRelationships = validateTriplets(f.EntityRelationships)

	f.Keywords = truncateField(f.Keywords, capKeywords)
	f.Topics = truncateField(f.Topics, capTopics)
	f.Questions = truncateField(f.Questions, capQuestions)
	f.Summary = truncateField(f.Summary, capSummary)
	f.SemanticKeywords = truncateField(f.SemanticKeywords, capSemanticKeywords)
	f.EntityRelationships = truncateField(f.EntityRelationships, capEntityRelationships)
	f.Attributes = truncateField(f.Attributes, capAttributes)

	return f, nil
}

// parseJSONWithRepair tries, in order: direct unmarshal, reasoning-tag
// stripped unmarshal, markdown-fenced extraction, balanced-brace
// extraction. The first that yields valid JSON wins.
func parseJSONWithRepair(raw string) (map[string]string, error) {
	candidates := []string{raw}
	candidates = append(candidates, reasoningTagPattern.ReplaceAllString(raw, ""))

	if m := codeFencePattern.FindStringSubmatch(raw); len(m) == 2 {
		candidates = append(candidates, m[1])
	}

	if b := extractBalancedBraces(raw); b != "" {
		candidates = append(candidates, b)
	}

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		var m map[string]string
		if err := json.Unmarshal([]byte(c), &m); err == nil {
			return m, nil
		}
		if repaired := repairTrailingCommas(c); repaired != c {
			var m2 map[string]string
			if err := json.Unmarshal([]byte(repaired), &m2); err == nil {
				return m2, nil
			}
		}
	}
	return nil, pipelineerr.NewParseError("metadata.parseJSONWithRepair", errNoValidJSON)
}

var errNoValidJSON = jsonParseSentinel("no parse strategy produced valid JSON")

type jsonParseSentinel string

func (e jsonParseSentinel) Error() string { return string(e) }

// extractBalancedBraces returns the first top-level {...} substring with
// balanced braces, ignoring braces inside string literals.
func extractBalancedBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// repairTrailingCommas removes a comma immediately before a closing brace
// or bracket, the most common malformed-JSON defect in truncated LLM output.
var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

func repairTrailingCommas(s string) string {
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// filterPlaceholders drops any comma-separated keyword whose lowercase form
// is a known generic placeholder.
func filterPlaceholders(keywords string) string {
	items := splitAndTrim(keywords, ",")
	kept := items[:0:0]
	for _, item := range items {
		if placeholderKeywords[strings.ToLower(item)] {
			continue
		}
		kept = append(kept, item)
	}
	return strings.Join(kept, ", ")
}

// dedupeAgainst removes any comma-separated item in semanticKeywords that
// case-insensitively equals an item in keywords.
func dedupeAgainst(semanticKeywords, keywords string) string {
	exclude := make(map[string]bool)
	for _, k := range splitAndTrim(keywords, ",") {
		exclude[strings.ToLower(k)] = true
	}
	items := splitAndTrim(semanticKeywords, ",")
	kept := items[:0:0]
	for _, item := range items {
		if exclude[strings.ToLower(item)] {
			continue
		}
		kept = append(kept, item)
	}
	return strings.Join(kept, ", ")
}

// validateTriplets keeps only entity_relationships items that contain at
// least two arrow tokens ("→" or "->"), rejoining survivors with " | ".
func validateTriplets(entityRelationships string) string {
	items := splitAndTrim(entityRelationships, "|")
	kept := items[:0:0]
	for _, item := range items {
		if countArrows(item) >= 2 {
			kept = append(kept, item)
		}
	}
	return strings.Join(kept, " | ")
}

func countArrows(s string) int {
	return strings.Count(s, "→") + strings.Count(s, "->")
}

func splitAndTrim(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	raw := strings.Split(s, sep)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// truncateField trims a field to at most limit characters, cutting back to
// the last "," or "|" separator before the limit so no item is left
// half-written.
func truncateField(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	lastSep := strings.LastIndexAny(cut, ",|")
	if lastSep <= 0 {
		return cut
	}
	return cut[:lastSep]
}
