package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ragpipe/ragcore/pkg/intent"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
	"github.com/ragpipe/ragcore/pkg/retrieval"
	"github.com/ragpipe/ragcore/pkg/search"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

// RetrievalAPI wires C7-C9 into chi routes for the retrieval HTTP surface.
type RetrievalAPI struct {
	orchestrator *retrieval.Orchestrator
	searcher     *search.Searcher
	classifier   *intent.Classifier
}

// NewRetrievalAPI returns a RetrievalAPI backed by the given components.
func NewRetrievalAPI(orchestrator *retrieval.Orchestrator, searcher *search.Searcher, classifier *intent.Classifier) *RetrievalAPI {
	return &RetrievalAPI{orchestrator: orchestrator, searcher: searcher, classifier: classifier}
}

// Routes mounts the retrieval endpoints onto r.
func (a *RetrievalAPI) Routes(r chi.Router) {
	r.Post("/v1/retrieve", a.handleRetrieve)
	r.Post("/v1/analyze", a.handleAnalyze)
	r.Post("/v1/search", a.handleSearch)
	r.Get("/health", a.handleHealth)
	r.Get("/v1/stats", a.handleStats)
}

type retrieveRequestBody struct {
	Query              string  `json:"query"`
	CollectionName     string  `json:"collection_name"`
	TenantID           string  `json:"tenant_id"`
	SearchTopK         int     `json:"search_top_k"`
	RerankTopK         int     `json:"rerank_top_k"`
	MaxContextChunks   int     `json:"max_context_chunks"`
	CompressionRatio   float64 `json:"compression_ratio"`
	ScoreThreshold     float64 `json:"score_threshold"`
	UseMetadataBoost   bool    `json:"use_metadata_boost"`
	EnableReranking    bool    `json:"enable_reranking"`
	EnableCompression  bool    `json:"enable_compression"`
	EnableCitations    bool    `json:"enable_citations"`
	Stream             bool    `json:"stream"`
	ResponseStyle      string  `json:"response_style"`
	ResponseFormat     string  `json:"response_format"`
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	EmbeddingModel     string  `json:"embedding_model"`
}

type citationBody struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

type contextChunkBody struct {
	ChunkID   string  `json:"chunk_id"`
	Text      string  `json:"text"`
	Topics    string  `json:"topics"`
	Keywords  string  `json:"keywords"`
	Summary   string  `json:"summary"`
	Questions string  `json:"questions"`
	Score     float64 `json:"score"`
}

type retrieveResponseBody struct {
	Success            bool               `json:"success"`
	Query              string             `json:"query"`
	Answer             string             `json:"answer"`
	Citations          []citationBody     `json:"citations"`
	ContextChunks      []contextChunkBody `json:"context_chunks"`
	Stages             map[string]int64   `json:"stages"`
	Bottleneck         string             `json:"bottleneck"`
	TotalTimeMS        int64              `json:"total_time_ms"`
	SearchResultsCount int                `json:"search_results_count"`
	RerankedCount      int                `json:"reranked_count"`
	CompressedCount    int                `json:"compressed_count"`
	ContextCount       int                `json:"context_count"`
	Timestamp          string             `json:"timestamp"`
}

func toRetrieveRequest(body retrieveRequestBody) retrieval.Request {
	return retrieval.Request{
		Query:              body.Query,
		CollectionName:     body.CollectionName,
		TenantID:           body.TenantID,
		SearchTopK:         body.SearchTopK,
		RerankTopK:         body.RerankTopK,
		MaxContextChunks:   body.MaxContextChunks,
		CompressionRatio:   body.CompressionRatio,
		ScoreThreshold:     body.ScoreThreshold,
		UseMetadataBoost:   body.UseMetadataBoost,
		EnableReranking:    body.EnableReranking,
		EnableCompression:  body.EnableCompression,
		EnableCitations:    body.EnableCitations,
		Stream:             body.Stream,
		ResponseStyle:      intent.ResponseStyle(body.ResponseStyle),
		ResponseFormat:     intent.ResponseFormat(body.ResponseFormat),
		Model:              body.Model,
		Temperature:        body.Temperature,
		EmbeddingModel:     body.EmbeddingModel,
	}
}

func (a *RetrievalAPI) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var body retrieveRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req := toRetrieveRequest(body)

	if !body.Stream {
		result, err := a.orchestrator.Retrieve(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRetrieveResponse(result))
		return
	}

	a.streamRetrieve(w, r, req)
}

// streamRetrieve serves text/event-stream with OpenAI-compatible delta
// chunks (§6): each answer token arrives as its own SSE data frame, a
// terminal frame carries the non-answer fields (citations, counts,
// timing), and the stream ends with "data: [DONE]\n\n".
func (a *RetrievalAPI) streamRetrieve(w http.ResponseWriter, r *http.Request, req retrieval.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, pipelineerr.NewInternal("httpapi.streamRetrieve", fmt.Errorf("response writer does not support flushing")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	req.OnDelta = func(delta string) {
		frame, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": delta}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
	}

	result, err := a.orchestrator.Retrieve(r.Context(), req)
	if err != nil {
		frame, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
		return
	}

	final, _ := json.Marshal(toRetrieveResponse(result))
	fmt.Fprintf(w, "data: %s\n\n", final)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func toRetrieveResponse(result retrieval.Result) retrieveResponseBody {
	citations := make([]citationBody, len(result.Citations))
	for i, c := range result.Citations {
		citations[i] = citationBody{ChunkID: c.ChunkID, DocumentID: c.DocumentID, Text: c.Text, Score: c.Score}
	}
	chunks := make([]contextChunkBody, len(result.ContextChunks))
	for i, c := range result.ContextChunks {
		chunks[i] = contextChunkBody{
			ChunkID: c.ChunkID, Text: c.Text, Topics: c.Topics,
			Keywords: c.Keywords, Summary: c.Summary, Questions: c.Questions, Score: c.Score,
		}
	}
	return retrieveResponseBody{
		Success:   result.Success,
		Query:     result.Query,
		Answer:    result.Answer,
		Citations: citations,
		ContextChunks: chunks,
		Stages: map[string]int64{
			"intent_ms":   result.Stages.Intent.Milliseconds(),
			"search_ms":   result.Stages.Search.Milliseconds(),
			"rerank_ms":   result.Stages.Rerank.Milliseconds(),
			"compress_ms": result.Stages.Compress.Milliseconds(),
			"answer_ms":   result.Stages.Answer.Milliseconds(),
		},
		Bottleneck:         result.Stages.Bottleneck,
		TotalTimeMS:        result.TotalTime.Milliseconds(),
		SearchResultsCount: result.SearchResultsCount,
		RerankedCount:      result.RerankedCount,
		CompressedCount:    result.CompressedCount,
		ContextCount:       result.ContextCount,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
	}
}

type analyzeRequestBody struct {
	Query           string `json:"query"`
	EnableCitations bool   `json:"enable_citations"`
	ResponseStyle   string `json:"response_style"`
	ResponseFormat  string `json:"response_format"`
}

func (a *RetrievalAPI) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := a.classifier.Classify(r.Context(), intent.Request{
		Query:           body.Query,
		EnableCitations: body.EnableCitations,
		ResponseStyle:   intent.ResponseStyle(body.ResponseStyle),
		ResponseFormat:  intent.ResponseFormat(body.ResponseFormat),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"intent":                 result.Intent,
		"language":               result.Language,
		"output_languages":       result.OutputLanguages,
		"complexity":             result.Complexity,
		"requires_math":          result.RequiresMath,
		"system_prompt":          result.SystemPrompt,
		"confidence":             result.Confidence,
		"analysis_time_ms":       result.AnalysisTime.Milliseconds(),
		"recommended_model":      result.RecommendedModel,
		"recommended_max_tokens": result.RecommendedMaxTokens,
		"metadata": map[string]any{
			"used_pattern":    result.UsedPattern,
			"pattern_scoring": result.PatternScoring,
		},
	})
}

type searchRequestBody struct {
	QueryText        string  `json:"query_text"`
	Collection       string  `json:"collection"`
	TenantID         string  `json:"tenant_id"`
	TopK             int     `json:"top_k"`
	UseMetadataBoost bool    `json:"use_metadata_boost"`
	BoostWeights     *search.Weights `json:"boost_weights"`
	FilterExpr       []vectorstore.Condition `json:"filter_expr"`
}

func (a *RetrievalAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	weights := search.DefaultWeights
	if body.BoostWeights != nil {
		weights = *body.BoostWeights
	}

	start := time.Now()
	hits, err := a.searcher.Search(r.Context(), search.Request{
		Query:            body.QueryText,
		CollectionName:   body.Collection,
		TenantID:         body.TenantID,
		Filter:           vectorstore.Filter{Conditions: body.FilterExpr},
		TopK:             body.TopK,
		UseMetadataBoost: body.UseMetadataBoost,
		Weights:          weights,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	searchTimeMS := time.Since(start).Milliseconds()

	results := make([]map[string]any, len(hits))
	for i, h := range hits {
		results[i] = map[string]any{
			"chunk_id":             h.Chunk.ID,
			"text":                 h.Chunk.Text,
			"score":                h.FinalScore,
			"vector_score":         h.VectorScore,
			"metadata_boost":       h.Boost,
			"metadata_matches":     h.Matches,
			"keywords":             h.Chunk.Keywords,
			"topics":               h.Chunk.Topics,
			"questions":            h.Chunk.Questions,
			"summary":              h.Chunk.Summary,
			"semantic_keywords":    h.Chunk.SemanticKeywords,
			"entity_relationships": h.Chunk.EntityRelationships,
			"attributes":           h.Chunk.Attributes,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":                true,
		"results":                results,
		"total_found":            len(results),
		"collection":             body.Collection,
		"search_time_ms":         searchTimeMS,
		"metadata_boost_applied": body.UseMetadataBoost,
	})
}

func (a *RetrievalAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (a *RetrievalAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.classifier.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns_loaded":       stats.TotalPatterns,
		"matches_by_intent":     stats.MatchCountByIntent,
		"rejected_queries":      stats.RejectedQueries,
		"low_confidence_queries": stats.LowConfidenceQueries,
		"last_pattern_reload":   stats.LastPatternReload.UTC().Format(time.RFC3339),
	})
}
