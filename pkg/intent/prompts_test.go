package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeSystemPromptIncludesCitationInstruction(t *testing.T) {
	result := Result{Intent: SimpleLookup, Complexity: ComplexitySimple, ResponseStyle: StyleConcise, OutputLanguages: []string{"en"}}
	prompt := ComposeSystemPrompt(result, true, FormatMarkdown)
	assert.True(t, strings.Contains(prompt, "Cite the source chunk"))
	assert.True(t, strings.Contains(prompt, "markdown"))
}

func TestComposeSystemPromptOmitsCitationsWhenDisabled(t *testing.T) {
	result := Result{Intent: SimpleLookup, Complexity: ComplexitySimple, ResponseStyle: StyleConcise, OutputLanguages: []string{"en"}}
	prompt := ComposeSystemPrompt(result, false, FormatPlain)
	assert.True(t, strings.Contains(prompt, "Do not include citations"))
	assert.True(t, strings.Contains(prompt, "plain text"))
}

func TestComposeSystemPromptMentionsMultipleOutputLanguages(t *testing.T) {
	result := Result{Intent: SimpleLookup, Complexity: ComplexitySimple, ResponseStyle: StyleBalanced, OutputLanguages: []string{"en", "fr"}}
	prompt := ComposeSystemPrompt(result, true, FormatMarkdown)
	assert.True(t, strings.Contains(prompt, "en, fr"))
}

func TestComposeSystemPromptNotesOverriddenStyle(t *testing.T) {
	result := Result{Intent: Comparison, Complexity: ComplexityComplex, ResponseStyle: StyleBalanced, ResponseStyleOverridden: true, OutputLanguages: []string{"en"}}
	prompt := ComposeSystemPrompt(result, true, FormatMarkdown)
	assert.True(t, strings.Contains(prompt, "upgraded from concise to balanced"))
}
