// Package search extends pure ANN retrieval with a deterministic metadata
// overlay: after the vector store returns its nearest neighbors, each hit's
// seven metadata fields are scored against the query and added to the
// vector score (SPEC_FULL.md §4.7).
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/ragpipe/ragcore/pkg/embedder"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

// MaxTotalBoost caps the sum of every per-field contribution.
const MaxTotalBoost = 0.60

// Weights holds the per-field boost weights, overridable per request.
type Weights struct {
	Keywords            float64
	Topics              float64
	Questions           float64
	Summary             float64
	SemanticKeywords    float64
	EntityRelationships float64
	Attributes          float64
}

// DefaultWeights matches the tuned defaults in §4.7.
var DefaultWeights = Weights{
	Keywords:            0.10,
	Topics:              0.06,
	Questions:           0.08,
	Summary:             0.06,
	SemanticKeywords:    0.15,
	EntityRelationships: 0.10,
	Attributes:          0.08,
}

// FieldMatch records one field's contribution, for the response's
// per-field match breakdown.
type FieldMatch struct {
	Field string
	Boost float64
}

// Hit is one scored search result.
type Hit struct {
	Chunk       vectorstore.Chunk
	VectorScore float32
	Boost       float64
	FinalScore  float64
	Matches     []FieldMatch
}

// Request parameterizes Search.
type Request struct {
	Query            string
	CollectionName   string
	TenantID         string
	Filter           vectorstore.Filter
	TopK             int
	UseMetadataBoost bool
	Weights          Weights
	EmbeddingModel   string
}

// Searcher runs C7's embed→ANN-search→boost pipeline.
type Searcher struct {
	store    vectorstore.Store
	embedder *embedder.Client
}

// New builds a Searcher.
func New(store vectorstore.Store, embed *embedder.Client) *Searcher {
	return &Searcher{store: store, embedder: embed}
}

// Search embeds req.Query, runs an over-fetched ANN search, applies the
// metadata boost (unless disabled), and returns the top req.TopK hits.
func (s *Searcher) Search(ctx context.Context, req Request) ([]Hit, error) {
	if req.TopK <= 0 {
		req.TopK = 10
	}
	weights := req.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights
	}

	queryVec, err := s.embedder.Embed(ctx, req.EmbeddingModel, req.Query)
	if err != nil {
		return nil, err
	}

	raw, err := s.store.Search(ctx, vectorstore.SearchRequest{
		Collection: req.CollectionName,
		Query:      queryVec,
		Filter:     req.Filter,
		TenantID:   req.TenantID,
		Limit:      req.TopK * 2,
		Mode:       vectorstore.DenseMode,
	})
	if err != nil {
		return nil, err
	}

	tokens := tokenize(req.Query)

	hits := make([]Hit, 0, len(raw))
	for _, r := range raw {
		hit := Hit{Chunk: r.Chunk, VectorScore: r.Score}
		if req.UseMetadataBoost {
			hit.Matches, hit.Boost = scoreMetadata(r.Chunk, tokens, weights)
		}
		hit.FinalScore = float64(r.Score) + hit.Boost
		hits = append(hits, hit)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].FinalScore > hits[j].FinalScore })
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	return hits, nil
}

// scoreMetadata computes the capped sum of per-field contributions and
// the non-zero breakdown behind it.
func scoreMetadata(c vectorstore.Chunk, queryTokens []string, w Weights) ([]FieldMatch, float64) {
	var matches []FieldMatch
	add := func(field string, boost float64) {
		if boost > 0 {
			matches = append(matches, FieldMatch{Field: field, Boost: boost})
		}
	}

	keywordBoost := scoreKeywords(c.Keywords, queryTokens, w.Keywords)
	add("keywords", keywordBoost)

	topicBoost := scoreTopics(c.Topics, queryTokens, w.Topics)
	add("topics", topicBoost)

	questionBoost := scoreJaccardTiered(splitOn(c.Questions, '?'), queryTokens, w.Questions)
	add("questions", questionBoost)

	summaryBoost := scoreFraction(c.Summary, queryTokens, w.Summary)
	add("summary", summaryBoost)

	semanticBoost := scoreKeywords(c.SemanticKeywords, queryTokens, w.SemanticKeywords)
	add("semantic_keywords", semanticBoost)

	entityBoost := scoreFraction(c.EntityRelationships, queryTokens, w.EntityRelationships)
	add("entity_relationships", entityBoost)

	attributeBoost := scoreFraction(c.Attributes, queryTokens, w.Attributes)
	add("attributes", attributeBoost)

	total := keywordBoost + topicBoost + questionBoost + summaryBoost + semanticBoost + entityBoost + attributeBoost
	if total > MaxTotalBoost {
		total = MaxTotalBoost
	}
	return matches, total
}

// scoreKeywords implements the §4.7 "keywords"/"semantic_keywords" formula:
// min(matches, 3) × weight, diminishing returns on the intersection size.
func scoreKeywords(field string, queryTokens []string, weight float64) float64 {
	items := splitAndTrim(field, ',')
	set := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		set[t] = struct{}{}
	}

	matches := 0
	for _, item := range items {
		if _, ok := set[strings.ToLower(strings.TrimSpace(item))]; ok {
			matches++
		}
	}
	if matches > 3 {
		matches = 3
	}
	return float64(matches) * weight
}

// scoreTopics implements the §4.7 "topics" formula: count of chunk topics
// whose word-set intersects the query tokens, × weight.
func scoreTopics(field string, queryTokens []string, weight float64) float64 {
	topics := splitAndTrim(field, ',')
	querySet := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = struct{}{}
	}

	count := 0
	for _, topic := range topics {
		for _, word := range tokenize(topic) {
			if _, ok := querySet[word]; ok {
				count++
				break
			}
		}
	}
	return float64(count) * weight
}

// scoreJaccardTiered implements the §4.7 "questions" formula: the max
// Jaccard similarity across candidates vs query tokens, tiered at 0.5/0.3.
func scoreJaccardTiered(candidates []string, queryTokens []string, weight float64) float64 {
	querySet := tokenSet(queryTokens)
	if len(querySet) == 0 {
		return 0
	}

	var maxJaccard float64
	for _, candidate := range candidates {
		j := jaccard(tokenSet(tokenize(candidate)), querySet)
		if j > maxJaccard {
			maxJaccard = j
		}
	}

	switch {
	case maxJaccard > 0.5:
		return weight
	case maxJaccard > 0.3:
		return 0.5 * weight
	default:
		return 0
	}
}

// scoreFraction implements the §4.7 "summary" style formula shared by
// summary, entity_relationships, and attributes: the fraction of query
// tokens appearing in field, tiered at 0.6/0.3.
func scoreFraction(field string, queryTokens []string, weight float64) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	fieldSet := tokenSet(tokenize(field))

	present := 0
	for _, t := range queryTokens {
		if _, ok := fieldSet[t]; ok {
			present++
		}
	}
	fraction := float64(present) / float64(len(queryTokens))

	switch {
	case fraction > 0.6:
		return weight
	case fraction > 0.3:
		return weight * (fraction / 0.6)
	default:
		return 0
	}
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "that": {}, "this": {},
	"with": {}, "from": {}, "was": {}, "were": {}, "what": {}, "which": {},
	"who": {}, "whom": {}, "have": {}, "has": {}, "had": {}, "not": {},
	"you": {}, "your": {}, "can": {}, "does": {}, "do": {}, "how": {},
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases, extracts alphanumeric words, drops stopwords and
// tokens of length ≤ 2, per §4.7 step "keywords".
func tokenize(s string) []string {
	words := wordPattern.FindAllString(strings.ToLower(s), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func splitOn(s string, sep byte) []string {
	return splitAndTrim(s, rune(sep))
}

func splitAndTrim(s string, sep rune) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == sep })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
