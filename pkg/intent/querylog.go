package intent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// queryEvent is one line of rejected_queries.jsonl / low_confidence_queries.jsonl,
// grounded on query_logger.py's log_query_event.
type queryEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	Query      string    `json:"query"`
	QueryLen   int       `json:"query_length"`
	Intent     string    `json:"intent"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language"`
	Complexity string    `json:"complexity"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Error      string    `json:"error_message,omitempty"`
}

const maxLoggedQueryChars = 500

// queryLog appends classifier events to two JSONL files (rejected and
// low-confidence) and keeps running counts for Stats.
type queryLog struct {
	mu               sync.Mutex
	rejectedPath     string
	lowConfPath      string
	rejectedCount    int64
	lowConfCount     int64
}

func newQueryLog(dir string) *queryLog {
	return &queryLog{
		rejectedPath: filepath.Join(dir, "rejected_queries.jsonl"),
		lowConfPath:  filepath.Join(dir, "low_confidence_queries.jsonl"),
	}
}

func (l *queryLog) logRejected(query string, intent Name, confidence float64, language string, complexity Complexity, reason string) {
	l.append(l.rejectedPath, queryEvent{
		Timestamp: time.Now().UTC(), EventType: "rejected", Query: truncateQuery(query),
		QueryLen: len(query), Intent: string(intent), Confidence: confidence,
		Language: language, Complexity: string(complexity), Error: reason,
	})
	l.mu.Lock()
	l.rejectedCount++
	l.mu.Unlock()
}

func (l *queryLog) logLowConfidence(query string, intent Name, confidence float64, language string, complexity Complexity) {
	l.append(l.lowConfPath, queryEvent{
		Timestamp: time.Now().UTC(), EventType: "low_confidence", Query: truncateQuery(query),
		QueryLen: len(query), Intent: string(intent), Confidence: confidence,
		Language: language, Complexity: string(complexity),
	})
	l.mu.Lock()
	l.lowConfCount++
	l.mu.Unlock()
}

func (l *queryLog) append(path string, event queryEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')
	f.Write(data)
}

func (l *queryLog) counts() (rejected, lowConfidence int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejectedCount, l.lowConfCount
}

func truncateQuery(q string) string {
	if len(q) <= maxLoggedQueryChars {
		return q
	}
	return q[:maxLoggedQueryChars]
}
