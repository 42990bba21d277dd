package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndCleanDirectJSON(t *testing.T) {
	raw := `{"keywords":"Apple, iPhone","topics":"mobile","questions":"What is iPhone?","summary":"A phone.","semantic_keywords":"apple, smartphone","entity_relationships":"Apple -> makes -> iPhone","attributes":"category: electronics"}`

	f, err := parseAndClean(raw)
	require.NoError(t, err)
	assert.Equal(t, "Apple, iPhone", f.Keywords)
	assert.Equal(t, "smartphone", f.SemanticKeywords, "apple must be deduped case-insensitively")
	assert.Equal(t, "Apple -> makes -> iPhone", f.EntityRelationships)
}

func TestParseAndCleanStripsReasoningTags(t *testing.T) {
	raw := "<think>let me think about this</think>" + `{"keywords":"a, b, c, d, e","topics":"","questions":"","summary":"","semantic_keywords":"","entity_relationships":"","attributes":""}`
	f, err := parseAndClean(raw)
	require.NoError(t, err)
	assert.Equal(t, "a, b, c, d, e", f.Keywords)
}

func TestParseAndCleanExtractsFromCodeFence(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"keywords\":\"x\",\"topics\":\"\",\"questions\":\"\",\"summary\":\"\",\"semantic_keywords\":\"\",\"entity_relationships\":\"\",\"attributes\":\"\"}\n```"
	f, err := parseAndClean(raw)
	require.NoError(t, err)
	assert.Equal(t, "x", f.Keywords)
}

func TestParseAndCleanExtractsBalancedBraces(t *testing.T) {
	raw := `noise before {"keywords":"x","topics":"","questions":"","summary":"","semantic_keywords":"","entity_relationships":"","attributes":""} noise after`
	f, err := parseAndClean(raw)
	require.NoError(t, err)
	assert.Equal(t, "x", f.Keywords)
}

func TestParseAndCleanRepairsTrailingComma(t *testing.T) {
	raw := `{"keywords":"x","topics":"","questions":"","summary":"","semantic_keywords":"","entity_relationships":"","attributes":"",}`
	f, err := parseAndClean(raw)
	require.NoError(t, err)
	assert.Equal(t, "x", f.Keywords)
}

func TestParseAndCleanFailsOnGarbage(t *testing.T) {
	_, err := parseAndClean("not json at all, no braces either")
	require.Error(t, err)
}

func TestFilterPlaceholders(t *testing.T) {
	out := filterPlaceholders("Apple, full product names, iPhone, Company Names")
	assert.Equal(t, "Apple, iPhone", out)
}

func TestValidateTriplets(t *testing.T) {
	out := validateTriplets("Apple -> makes -> iPhone | bad-triplet | Steve -> founded -> Apple")
	assert.Equal(t, "Apple -> makes -> iPhone | Steve -> founded -> Apple", out)
}

func TestTruncateFieldCutsAtSeparator(t *testing.T) {
	s := "aaaa,bbbb,cccc,dddd"
	out := truncateField(s, 12)
	assert.Equal(t, "aaaa,bbbb", out)
}

func TestTruncateFieldNoOpUnderLimit(t *testing.T) {
	assert.Equal(t, "short", truncateField("short", 100))
}
