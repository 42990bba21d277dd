package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRecursiveDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50)
	cfg := Config{Method: MethodRecursive, Size: 200, Overlap: 20}

	first, err := Split(text, cfg)
	require.NoError(t, err)
	second, err := Split(text, cfg)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Content, second[i].Content)
	}
	for i, c := range first {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, len(first), c.Total)
	}
}

func TestSplitRecursiveRespectsSize(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks, err := Split(text, Config{Method: MethodRecursive, Size: 100, Overlap: 10})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 150, "chunk should stay close to target size")
	}
}

func TestPostFilterDropsPunctuationOnlyChunks(t *testing.T) {
	assert.False(t, postFilter("   ---  \n\n"))
	assert.False(t, postFilter(""))
	assert.True(t, postFilter("# Title"))
	assert.True(t, postFilter("hello world"))
	assert.False(t, postFilter("a b"))
}

func TestMarkdownHeadingPath(t *testing.T) {
	text := "# Intro\nSome intro text that is long enough to survive filtering.\n\n## Installation\nRun the installer binary to get started quickly.\n"
	chunks, err := Split(text, Config{Method: MethodMarkdown, Size: 1000, HeadingLevels: []int{1, 2}})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Intro", chunks[0].HeadingPath)
	assert.Equal(t, "Intro > Installation", chunks[1].HeadingPath)
}

func TestMarkdownSplitsOversizedSection(t *testing.T) {
	body := strings.Repeat("filler sentence about nothing in particular. ", 30)
	text := "# Section\n" + body
	chunks, err := Split(text, Config{Method: MethodMarkdown, Size: 200, Overlap: 10, HeadingLevels: []int{1}})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, "Section", c.HeadingPath)
	}
}

func TestTokenChunkingProducesDecodableChunks(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 200)
	chunks, err := Split(text, Config{Method: MethodToken, Size: 32, Overlap: 4, Encoding: "cl100k_base"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Content)
	}
}

func TestConfigValidateRejectsBadInput(t *testing.T) {
	_, err := Split("hello", Config{Method: MethodRecursive, Size: 0})
	require.Error(t, err)

	_, err = Split("hello", Config{Method: MethodRecursive, Size: 10, Overlap: 10})
	require.Error(t, err)

	_, err = Split("hello", Config{Method: "bogus", Size: 10})
	require.Error(t, err)
}

func TestRecursiveHardSplitOnOversizedWord(t *testing.T) {
	text := strings.Repeat("x", 500)
	chunks, err := Split(text, Config{Method: MethodRecursive, Size: 50, Overlap: 0})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
}
