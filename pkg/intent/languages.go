package intent

import (
	"regexp"
	"strings"
)

// languagePattern pairs an ISO-639-1 code with the regexes that request it
// as an output language, grounded on intent_api.py's detect_output_languages.
type languagePattern struct {
	code     string
	patterns []*regexp.Regexp
}

var outputLanguagePatterns = []languagePattern{
	{code: "fr", patterns: []*regexp.Regexp{
		regexp.MustCompile(`\b(french|en fran[cç]ais|in french)\b`),
		regexp.MustCompile(`\bfr\b`),
	}},
	{code: "es", patterns: []*regexp.Regexp{
		regexp.MustCompile(`\b(spanish|en espa[nñ]ol|in spanish)\b`),
		regexp.MustCompile(`\bes\b`),
	}},
	{code: "de", patterns: []*regexp.Regexp{
		regexp.MustCompile(`\b(german|auf deutsch|in german)\b`),
		regexp.MustCompile(`\bde\b`),
	}},
	{code: "zh", patterns: []*regexp.Regexp{
		regexp.MustCompile(`\b(chinese|mandarin|in chinese)\b`),
		regexp.MustCompile(`\bzh\b`),
	}},
	{code: "ja", patterns: []*regexp.Regexp{
		regexp.MustCompile(`\b(japanese|in japanese)\b`),
		regexp.MustCompile(`\bja\b`),
	}},
}

var bothPattern = regexp.MustCompile(`\b(?:both|in)\s+\w+\s+and\s+\w+\b`)

// DetectOutputLanguages determines which languages the answer should be
// written in (distinct from the query's own input language), e.g. "explain
// in both French and English" yields ["en", "fr"]. Defaults to ["en"] when
// nothing matches.
func DetectOutputLanguages(query string) []string {
	lower := strings.ToLower(query)

	var languages []string
	seen := make(map[string]bool)
	for _, lp := range outputLanguagePatterns {
		for _, re := range lp.patterns {
			if re.MatchString(lower) {
				if !seen[lp.code] {
					languages = append(languages, lp.code)
					seen[lp.code] = true
				}
				break
			}
		}
	}

	if bothPattern.MatchString(lower) {
		if len(languages) > 0 && !seen["en"] {
			languages = append([]string{"en"}, languages...)
		}
	}

	if len(languages) == 0 {
		languages = []string{"en"}
	}
	return languages
}
