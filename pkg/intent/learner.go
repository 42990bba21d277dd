package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
)

const (
	defaultBatchSize           = 10
	defaultAutoApproveThreshold = 0.95
	minExamplesPerIntent        = 3
	maxExamplesInPrompt          = 20
	queueFlushEvery              = 5
)

// LearningExample is one query that required Tier-2 classification,
// grounded on pattern_learner.py's add_to_queue payload.
type LearningExample struct {
	Timestamp         time.Time `json:"timestamp"`
	Query             string    `json:"query"`
	LLMIntent         Name      `json:"llm_intent"`
	LLMConfidence     float64   `json:"llm_confidence"`
	PatternIntent     Name      `json:"pattern_intent,omitempty"`
	PatternConfidence float64   `json:"pattern_confidence,omitempty"`
	Mismatch          bool      `json:"mismatch"`
}

// patternSuggestion is one regex pattern the meta-LLM proposes for an
// intent group.
type patternSuggestion struct {
	Regex       string   `json:"regex"`
	Confidence  float64  `json:"confidence"`
	Examples    []string `json:"examples"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Patterns []patternSuggestion `json:"patterns"`
}

// Learner runs the background pattern-discovery loop: it accumulates
// Tier-2-classified queries and, once a batch is full, asks a meta-LLM to
// propose new regex patterns per intent group, auto-approving high
// confidence suggestions into the library.
type Learner struct {
	library  *LibraryStore
	gw       *llmgateway.Gateway
	registry *modelregistry.Registry

	batchSize       int
	autoApprove     float64
	enabled         bool

	mu    sync.Mutex
	queue []LearningExample
}

// LearnerOption configures a Learner.
type LearnerOption func(*Learner)

// WithBatchSize overrides the default batch size (10).
func WithBatchSize(n int) LearnerOption {
	return func(l *Learner) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithAutoApproveThreshold overrides the default auto-approve confidence (0.95).
func WithAutoApproveThreshold(t float64) LearnerOption {
	return func(l *Learner) { l.autoApprove = t }
}

// WithLearningDisabled turns Enqueue into a no-op, for environments that
// don't want the pattern library mutated automatically.
func WithLearningDisabled() LearnerOption {
	return func(l *Learner) { l.enabled = false }
}

// NewLearner builds a Learner bound to library for persistence/reload and
// gw for meta-LLM pattern discovery.
func NewLearner(library *LibraryStore, gw *llmgateway.Gateway, registry *modelregistry.Registry, opts ...LearnerOption) *Learner {
	l := &Learner{
		library:     library,
		gw:          gw,
		registry:    registry,
		batchSize:   defaultBatchSize,
		autoApprove: defaultAutoApproveThreshold,
		enabled:     true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enqueue records one Tier-2-classified query. When the queue reaches the
// batch size, a learning cycle runs synchronously on the caller's
// goroutine; callers that want this off the request path should call
// Enqueue from a detached goroutine.
func (l *Learner) Enqueue(ex LearningExample) {
	if !l.enabled {
		return
	}
	ex.Timestamp = time.Now().UTC()
	ex.Mismatch = ex.PatternIntent != "" && ex.PatternIntent != ex.LLMIntent

	l.mu.Lock()
	l.queue = append(l.queue, ex)
	ready := len(l.queue) >= l.batchSize
	l.mu.Unlock()

	if ready {
		l.RunCycle(context.Background())
	}
}

// RunCycle groups the current queue by LLM-assigned intent, discovers
// patterns for groups with at least minExamplesPerIntent examples, and
// clears the queue regardless of outcome, mirroring run_learning_cycle.
func (l *Learner) RunCycle(ctx context.Context) {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	groups := make(map[Name][]string)
	for _, ex := range batch {
		groups[ex.LLMIntent] = append(groups[ex.LLMIntent], ex.Query)
	}

	discovered := 0
	for intentName, queries := range groups {
		if len(queries) < minExamplesPerIntent {
			continue
		}
		suggestions, err := l.discoverPatterns(ctx, intentName, queries)
		if err != nil {
			logger.FromContext(ctx).Error("pattern discovery failed", "intent", intentName, "error", err)
			continue
		}
		discovered += l.addPatterns(ctx, intentName, suggestions)
	}

	if discovered > 0 {
		logger.FromContext(ctx).Info("pattern learning cycle complete", "patterns_discovered", discovered)
	}
}

// discoverPatterns asks a meta-LLM for 1-3 regex patterns summarizing
// queries, grounded on pattern_learner.py's _discover_patterns.
func (l *Learner) discoverPatterns(ctx context.Context, intentName Name, queries []string) ([]patternSuggestion, error) {
	model, err := l.registry.ModelForTask(modelregistry.TaskCompression)
	if err != nil {
		return nil, err
	}

	resp, err := l.gw.Chat(ctx, llmgateway.ChatRequest{
		Model:          model.ID,
		Messages:       []llmgateway.Message{{Role: "user", Content: buildDiscoveryPrompt(intentName, queries)}},
		Temperature:    0.3,
		MaxTokens:      1024,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(resp.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var parsed discoveryResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, err
	}
	return parsed.Patterns, nil
}

func buildDiscoveryPrompt(intentName Name, queries []string) string {
	if len(queries) > maxExamplesInPrompt {
		queries = queries[:maxExamplesInPrompt]
	}
	var list strings.Builder
	for _, q := range queries {
		fmt.Fprintf(&list, "- %q\n", q)
	}

	return fmt.Sprintf(`You are a regex pattern discovery expert. Analyze these queries and suggest regex patterns.

Intent Type: %s

Example Queries:
%s
Task:
1. Identify common linguistic patterns across these queries
2. Suggest 1-3 regex patterns that would match 70%%+ of these examples
3. Ensure patterns are specific enough (avoid overly broad matches)
4. Provide a confidence score based on pattern specificity

Output JSON format:
{
  "patterns": [
    {
      "regex": "<regex pattern>",
      "confidence": 0.0-1.0,
      "examples": ["example 1", "example 2"],
      "description": "brief description of what this pattern matches"
    }
  ]
}

Use case-insensitive patterns. Escape special regex characters properly.
Avoid patterns that would match unrelated intents. Be conservative.
Respond with ONLY valid JSON.`, intentName, list.String())
}

// addPatterns auto-approves suggestions at or above the auto-approve
// threshold, appends them to the on-disk library, and atomically reloads
// the in-memory library. It returns the number of patterns added.
func (l *Learner) addPatterns(ctx context.Context, intentName Name, suggestions []patternSuggestion) int {
	raw, err := l.library.readRaw()
	if err != nil {
		logger.FromContext(ctx).Error("failed to read pattern library for learning", "error", err)
		return 0
	}

	group, ok := raw.Patterns[string(intentName)]
	if !ok {
		group = intentPatterns{Priority: 2, Description: fmt.Sprintf("Auto-learned patterns for %s", intentName)}
	}

	added := 0
	for _, s := range suggestions {
		if s.Confidence < l.autoApprove {
			logger.FromContext(ctx).Warn("pattern suggestion below auto-approve threshold",
				"intent", intentName, "confidence", s.Confidence, "regex", s.Regex)
			continue
		}
		group.Patterns = append(group.Patterns, Pattern{
			Regex:       s.Regex,
			Confidence:  s.Confidence,
			Examples:    s.Examples,
			AddedDate:   time.Now().UTC(),
			Source:      "auto_learned",
			Description: s.Description,
		})
		added++
		logger.FromContext(ctx).Info("new pattern learned", "intent", intentName, "regex", s.Regex, "confidence", s.Confidence)
	}

	if added == 0 {
		return 0
	}

	raw.Patterns[string(intentName)] = group
	raw.LearningStats.PatternsLearned += added
	if err := l.library.persist(raw); err != nil {
		logger.FromContext(ctx).Error("failed to persist learned patterns", "error", err)
		return 0
	}
	return added
}
