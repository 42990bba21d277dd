package intent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryLogAppendsAndCounts(t *testing.T) {
	dir := t.TempDir()
	l := newQueryLog(dir)

	l.logRejected("asdf zxcv", FactualRetrieval, 0.1, "en", ComplexityModerate, "too vague")
	l.logLowConfidence("somewhat unclear query", FactualRetrieval, 0.45, "en", ComplexityModerate)

	rejected, lowConf := l.counts()
	assert.EqualValues(t, 1, rejected)
	assert.EqualValues(t, 1, lowConf)

	data, err := os.ReadFile(filepath.Join(dir, "rejected_queries.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"event_type\":\"rejected\"")
}

func TestTruncateQueryCapsLength(t *testing.T) {
	long := make([]byte, maxLoggedQueryChars+50)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, truncateQuery(string(long)), maxLoggedQueryChars)
}
