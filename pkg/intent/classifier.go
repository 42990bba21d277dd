package intent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// tier1Level buckets a Tier-1 final_score into the four SPEC action zones,
// distinct from the reporting-oriented LevelFor.
type tier1Level int

const (
	tier1Low tier1Level = iota
	tier1Medium
	tier1MediumHigh
	tier1High
)

func classifyTier1Level(final float64, th Thresholds) tier1Level {
	switch {
	case final >= th.VeryHigh:
		return tier1High
	case final >= th.High:
		return tier1MediumHigh
	case final >= th.Medium:
		return tier1Medium
	default:
		return tier1Low
	}
}

// llmIntentResponse is the JSON shape the Tier-2 prompt asks the model to
// emit, grounded on intent_api.py's call_llm_gateway.
type llmIntentResponse struct {
	Intent       string  `json:"intent"`
	Language     string  `json:"language"`
	Complexity   string  `json:"complexity"`
	RequiresMath bool    `json:"requires_math"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

var fallbackLLMResponse = llmIntentResponse{
	Intent: string(FactualRetrieval), Language: "en", Complexity: string(ComplexityModerate),
	RequiresMath: false, Confidence: 0.5, Reasoning: "fallback due to malformed LLM response",
}

// Classifier runs the two-tier classification pipeline (C8).
type Classifier struct {
	library    *LibraryStore
	gw         *llmgateway.Gateway
	registry   *modelregistry.Registry
	qlog       *queryLog
	learner    *Learner
	thresholds Thresholds

	mu          sync.Mutex
	matchCounts map[Name]int64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLearner attaches the background pattern-learning loop so Tier-2
// classifications (and Tier-1/Tier-2 disagreements) feed it.
func WithLearner(l *Learner) Option {
	return func(c *Classifier) { c.learner = l }
}

// WithThresholds overrides the default §4.8 confidence cut points, letting
// operator configuration replace the fixed defaults.
func WithThresholds(th Thresholds) Option {
	return func(c *Classifier) { c.thresholds = th }
}

// New builds a Classifier. logDir is where rejected_queries.jsonl and
// low_confidence_queries.jsonl are appended.
func New(library *LibraryStore, gw *llmgateway.Gateway, registry *modelregistry.Registry, logDir string, opts ...Option) *Classifier {
	c := &Classifier{
		library:     library,
		gw:          gw,
		registry:    registry,
		qlog:        newQueryLog(logDir),
		thresholds:  DefaultThresholds(),
		matchCounts: make(map[Name]int64, len(All)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify runs the hybrid Tier-1/Tier-2 pipeline described in §4.8.
func (c *Classifier) Classify(ctx context.Context, req Request) (Result, error) {
	started := time.Now()

	lib := c.library.Current()
	tier1, matched := matchTier1(lib, req.Query, c.thresholds.Multi)

	var (
		intentName   Name
		language     = "en"
		complexity   = ComplexityModerate
		requiresMath bool
		confidence   float64
		usedPattern  string
		tier         int
		scoring      *IntentScore
	)

	if matched {
		switch classifyTier1Level(tier1.Winner.Final, c.thresholds) {
		case tier1High, tier1MediumHigh:
			intentName = tier1.Winner.Intent
			confidence = tier1.Winner.Final
			usedPattern = tier1.Winner.Matches[0].Pattern
			tier = 1
			s := tier1.Winner
			scoring = &s

		case tier1Medium:
			resp, err := c.callLLM(ctx, req.Query)
			if err != nil {
				resp = fallbackLLMResponse
			}

			if Name(resp.Intent) == tier1.Winner.Intent {
				intentName = tier1.Winner.Intent
				confidence = max(tier1.Winner.Final, resp.Confidence)
			} else {
				intentName = Name(resp.Intent)
				confidence = resp.Confidence
				if c.learner != nil {
					c.learner.Enqueue(LearningExample{
						Query: req.Query, LLMIntent: intentName, LLMConfidence: resp.Confidence,
						PatternIntent: tier1.Winner.Intent, PatternConfidence: tier1.Winner.Final,
					})
				}
			}
			language = orDefault(resp.Language, "en")
			complexity = Complexity(orDefault(resp.Complexity, string(ComplexityModerate)))
			requiresMath = resp.RequiresMath
			usedPattern = tier1.Winner.Matches[0].Pattern
			tier = 2
			s := tier1.Winner
			scoring = &s

		case tier1Low:
			matched = false
		}
	}

	if !matched && tier == 0 {
		resp, err := c.callLLM(ctx, req.Query)
		if err != nil {
			resp = fallbackLLMResponse
		}

		intentName = Name(resp.Intent)
		language = orDefault(resp.Language, "en")
		complexity = Complexity(orDefault(resp.Complexity, string(ComplexityModerate)))
		requiresMath = resp.RequiresMath
		confidence = resp.Confidence
		tier = 2

		if c.learner != nil {
			c.learner.Enqueue(LearningExample{
				Query: req.Query, LLMIntent: intentName, LLMConfidence: resp.Confidence,
			})
		}
	}

	if !intentName.Valid() {
		intentName = FactualRetrieval
	}

	if confidence < c.thresholds.Reject {
		c.qlog.logRejected(req.Query, intentName, confidence, language, complexity,
			"confidence below reject threshold")
		return Result{}, pipelineerr.NewInvalidArgument("intent.Classify",
			"query intent unclear (confidence %.0f%%); please rephrase your question more clearly", confidence*100)
	}
	if confidence < c.thresholds.Fallback {
		c.qlog.logLowConfidence(req.Query, intentName, confidence, language, complexity)
		intentName = FactualRetrieval
		complexity = ComplexityModerate
	}

	c.incrementMatchCount(intentName)

	responseStyle, overridden := ValidateResponseStyle(intentName, req.ResponseStyle)

	model, err := RecommendModel(c.registry, intentName)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Intent:                  intentName,
		Language:                language,
		OutputLanguages:         DetectOutputLanguages(req.Query),
		Complexity:              complexity,
		RequiresMath:            requiresMath,
		Confidence:              confidence,
		ConfidenceLevel:         LevelFor(confidence, c.thresholds),
		RecommendedModel:        model,
		RecommendedMaxTokens:    RecommendMaxTokens(intentName),
		ResponseStyle:           responseStyle,
		ResponseStyleOverridden: overridden,
		UsedPattern:             usedPattern,
		PatternScoring:          scoring,
		AnalysisTime:            time.Since(started),
		Tier:                    tier,
	}
	result.SystemPrompt = ComposeSystemPrompt(result, req.EnableCitations, req.ResponseFormat)
	return result, nil
}

// callLLM issues the Tier-2 classification prompt and parses the response,
// falling back to a safe default on any JSON or transport failure, grounded
// on intent_api.py's call_llm_gateway.
func (c *Classifier) callLLM(ctx context.Context, query string) (llmIntentResponse, error) {
	model, err := c.registry.ModelForTask(modelregistry.TaskIntentDetection)
	if err != nil {
		return llmIntentResponse{}, err
	}

	resp, err := c.gw.Chat(ctx, llmgateway.ChatRequest{
		Model:          model.ID,
		Messages:       buildClassificationPrompt(query),
		Temperature:    0,
		MaxTokens:      300,
		ResponseFormat: "json_object",
	})
	if err != nil {
		logger.FromContext(ctx).Warn("intent classification LLM call failed", "error", err)
		return fallbackLLMResponse, nil
	}

	var parsed llmIntentResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil {
		logger.FromContext(ctx).Warn("intent classification LLM response was not valid JSON", "error", err)
		return fallbackLLMResponse, nil
	}
	if parsed.Intent == "" {
		parsed.Intent = string(FactualRetrieval)
	}
	if parsed.Confidence == 0 {
		parsed.Confidence = 0.9
	}
	return parsed, nil
}

func buildClassificationPrompt(query string) []llmgateway.Message {
	var names []string
	for _, n := range All {
		names = append(names, string(n))
	}
	system := "You classify a user's retrieval query. Respond with a single JSON object " +
		`with fields {"intent","language","complexity","requires_math","confidence","reasoning"}. ` +
		"intent must be exactly one of: " + strings.Join(names, ", ") + ". " +
		`language is an ISO-639-1 code. complexity is one of simple|moderate|complex. ` +
		"confidence is a float in [0,1]."
	return []llmgateway.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: query},
	}
}

func (c *Classifier) incrementMatchCount(n Name) {
	c.mu.Lock()
	c.matchCounts[n]++
	c.mu.Unlock()
}

// Stats reports the classifier's internal counters for GET /v1/stats.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	counts := make(map[Name]int64, len(c.matchCounts))
	for k, v := range c.matchCounts {
		counts[k] = v
	}
	c.mu.Unlock()

	rejected, lowConf := c.qlog.counts()
	total := 0
	for _, patterns := range c.library.Current().byIntent {
		total += len(patterns)
	}

	return Stats{
		TotalPatterns:        total,
		MatchCountByIntent:   counts,
		RejectedQueries:      rejected,
		LowConfidenceQueries: lowConf,
		LastPatternReload:    c.library.lastReload(),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
