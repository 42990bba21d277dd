package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// Qdrant is the primary Store backend, addressing Qdrant through its
// native gRPC client.
type Qdrant struct {
	client *qdrant.Client
	hnsw   HNSWParams
}

// QdrantConfig dials the Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	HNSW   HNSWParams
}

// NewQdrant connects to a Qdrant instance.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, pipelineerr.NewUnreachable("vectorstore.NewQdrant", fmt.Errorf("dial qdrant at %s:%d: %w", cfg.Host, cfg.Port, err))
	}
	hnsw := cfg.HNSW
	if hnsw.M == 0 {
		hnsw = DefaultHNSWParams
	}
	return &Qdrant{client: client, hnsw: hnsw}, nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dimension int, description string) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return pipelineerr.NewUnreachable("vectorstore.Qdrant.EnsureCollection", err)
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return pipelineerr.NewUnreachable("vectorstore.Qdrant.EnsureCollection", err)
		}
		if existingDim := collectionDimension(info); existingDim != 0 && existingDim != uint64(dimension) {
			return pipelineerr.NewInvalidArgument("vectorstore.Qdrant.EnsureCollection",
				"collection %q already exists with dimension %d, requested %d", name, existingDim, dimension)
		}
		return nil
	}

	hnswConfig := &qdrant.HnswConfigDiff{
		M:           qdrant.PtrOf(uint64(q.hnsw.M)),
		EfConstruct: qdrant.PtrOf(uint64(q.hnsw.EfConstruction)),
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:       uint64(dimension),
			Distance:   qdrant.Distance_Dot,
			HnswConfig: hnswConfig,
		}),
	})
	if err != nil {
		return pipelineerr.NewInternal("vectorstore.Qdrant.EnsureCollection", fmt.Errorf("create collection %q: %w", name, err))
	}

	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      "document_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	}); err != nil {
		return pipelineerr.NewInternal("vectorstore.Qdrant.EnsureCollection", fmt.Errorf("index document_id on %q: %w", name, err))
	}

	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      "tenant_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	}); err != nil {
		return pipelineerr.NewInternal("vectorstore.Qdrant.EnsureCollection", fmt.Errorf("index tenant_id on %q: %w", name, err))
	}

	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      "tenant_partition",
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	}); err != nil {
		return pipelineerr.NewInternal("vectorstore.Qdrant.EnsureCollection", fmt.Errorf("index tenant_partition on %q: %w", name, err))
	}

	return nil
}

// partitionFor buckets a tenant id into one of TenantPartitions fixed
// partitions (§4.5's "tenant id as partition key with a fixed partition
// count"), stored as the tenant_partition payload field and indexed
// alongside tenant_id in EnsureCollection.
func partitionFor(tenantID string) int64 {
	if tenantID == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return int64(h.Sum32() % TenantPartitions)
}

func collectionDimension(info *qdrant.CollectionInfo) uint64 {
	if info == nil || info.Config == nil || info.Config.Params == nil {
		return 0
	}
	vectors := info.Config.Params.VectorsConfig
	if vectors == nil {
		return 0
	}
	if params := vectors.GetParams(); params != nil {
		return params.GetSize()
	}
	return 0
}

func (q *Qdrant) DropCollection(ctx context.Context, name string) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return pipelineerr.NewUnreachable("vectorstore.Qdrant.DropCollection", err)
	}
	if !exists {
		return nil
	}
	if err := q.client.DeleteCollection(ctx, name); err != nil {
		return pipelineerr.NewInternal("vectorstore.Qdrant.DropCollection", fmt.Errorf("delete collection %q: %w", name, err))
	}
	return nil
}

func (q *Qdrant) Insert(ctx context.Context, name string, chunks []Chunk, autoCreate bool) error {
	if autoCreate && len(chunks) > 0 {
		if err := q.EnsureCollection(ctx, name, len(chunks[0].DenseVector), ""); err != nil {
			return err
		}
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		c.FillDefaults(len(c.DenseVector))
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: qdrant.NewVectors(c.DenseVector...),
			Payload: chunkToPayload(c),
		})
	}

	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: name, Points: points}); err != nil {
		return pipelineerr.NewInternal("vectorstore.Qdrant.Insert", fmt.Errorf("upsert into %q: %w", name, err))
	}
	return nil
}

func (q *Qdrant) DeleteByFilter(ctx context.Context, name string, filter Filter, tenantID string) (int, error) {
	effective := filter.WithTenant(tenantID)
	qf := buildFilter(effective)

	countResp, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: name, Filter: qf})
	if err != nil {
		return 0, pipelineerr.NewInternal("vectorstore.Qdrant.DeleteByFilter", err)
	}

	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points:         qdrant.NewPointsSelectorFilter(qf),
	}); err != nil {
		return 0, pipelineerr.NewInternal("vectorstore.Qdrant.DeleteByFilter", err)
	}
	return int(countResp), nil
}

func (q *Qdrant) Update(ctx context.Context, name string, filter Filter, tenantID string, updates func(*Chunk)) (int, error) {
	effective := filter.WithTenant(tenantID)
	hits, err := q.scrollAll(ctx, name, effective)
	if err != nil {
		return 0, err
	}
	if len(hits) == 0 {
		return 0, nil
	}

	updated := make([]Chunk, len(hits))
	for i, c := range hits {
		updates(&c)
		updated[i] = c
	}

	oldIDs := make([]string, len(hits))
	for i, c := range hits {
		oldIDs[i] = c.ID
	}

	if _, err := q.DeleteByFilter(ctx, name, Filter{Conditions: []Condition{{Field: "id", Op: OpIn, Value: toAnySlice(oldIDs)}}}, ""); err != nil {
		return 0, err
	}
	if err := q.Insert(ctx, name, updated, false); err != nil {
		return 0, err
	}
	return len(updated), nil
}

func (q *Qdrant) scrollAll(ctx context.Context, name string, filter Filter) ([]Chunk, error) {
	qf := buildFilter(filter)
	resp, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: name,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, pipelineerr.NewInternal("vectorstore.Qdrant.scrollAll", err)
	}

	chunks := make([]Chunk, 0, len(resp))
	for _, p := range resp {
		chunks = append(chunks, payloadToChunk(p.Id, p.Payload, p.Vectors))
	}
	return chunks, nil
}

func (q *Qdrant) Search(ctx context.Context, req SearchRequest) ([]Hit, error) {
	qf := buildFilter(req.Filter.WithTenant(req.TenantID))

	searchReq := &qdrant.SearchPoints{
		CollectionName: req.Collection,
		Vector:         req.Query,
		Limit:          uint64(req.Limit),
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}

	resp, err := q.client.GetPointsClient().Search(ctx, searchReq)
	if err != nil {
		return nil, pipelineerr.NewInternal("vectorstore.Qdrant.Search", err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, sp := range resp.Result {
		hits = append(hits, Hit{
			Chunk: payloadToChunk(sp.Id, sp.Payload, sp.Vectors),
			Score: sp.Score,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

// chunkToPayload converts a Chunk into a Qdrant payload map using the
// generic qdrant.NewValue constructor, the same helper the teacher's
// Upsert uses for arbitrary metadata values.
func chunkToPayload(c Chunk) map[string]*qdrant.Value {
	raw := map[string]any{
		"document_id":          c.DocumentID,
		"chunk_index":          int64(c.ChunkIndex),
		"text":                 c.Text,
		"tenant_id":            c.TenantID,
		"tenant_partition":     partitionFor(c.TenantID),
		"created_at":           c.CreatedAt.Format(timeLayout),
		"updated_at":           c.UpdatedAt.Format(timeLayout),
		"char_count":           int64(c.CharCount),
		"token_count":          int64(c.TokenCount),
		"keywords":             c.Keywords,
		"topics":               c.Topics,
		"questions":            c.Questions,
		"summary":              c.Summary,
		"semantic_keywords":    c.SemanticKeywords,
		"entity_relationships": c.EntityRelationships,
		"attributes":           c.Attributes,
	}
	payload := make(map[string]*qdrant.Value, len(raw))
	for key, value := range raw {
		v, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}
		payload[key] = v
	}
	return payload
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func payloadToChunk(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) Chunk {
	c := Chunk{ID: pointIDString(id)}
	if payload != nil {
		c.DocumentID = payloadString(payload, "document_id")
		c.ChunkIndex = int(payloadInt(payload, "chunk_index"))
		c.Text = payloadString(payload, "text")
		c.TenantID = payloadString(payload, "tenant_id")
		c.CharCount = int(payloadInt(payload, "char_count"))
		c.TokenCount = int(payloadInt(payload, "token_count"))
		c.Keywords = payloadString(payload, "keywords")
		c.Topics = payloadString(payload, "topics")
		c.Questions = payloadString(payload, "questions")
		c.Summary = payloadString(payload, "summary")
		c.SemanticKeywords = payloadString(payload, "semantic_keywords")
		c.EntityRelationships = payloadString(payload, "entity_relationships")
		c.Attributes = payloadString(payload, "attributes")
	}
	if vectors != nil {
		if v := vectors.GetVector(); v != nil {
			if dense, ok := v.Vector.(*qdrant.VectorOutput_Dense); ok && dense.Dense != nil {
				c.DenseVector = dense.Dense.Data
			}
		}
	}
	return c
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func payloadInt(payload map[string]*qdrant.Value, key string) int64 {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	return v.GetIntegerValue()
}

// buildFilter translates a Filter into a Qdrant boolean filter, the same
// field/match condition shape the teacher's buildQdrantFilter uses.
func buildFilter(f Filter) *qdrant.Filter {
	if len(f.Conditions) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(f.Conditions))
	for _, cond := range f.Conditions {
		switch cond.Op {
		case OpEq:
			conditions = append(conditions, fieldMatch(cond.Field, cond.Value))
		case OpIn:
			values, _ := cond.Value.([]any)
			strs := make([]string, 0, len(values))
			for _, v := range values {
				if s, ok := v.(string); ok {
					strs = append(strs, s)
				}
			}
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   cond.Field,
						Match: qdrant.NewMatchKeywords(strs...),
					},
				},
			})
		}
	}
	return &qdrant.Filter{Must: conditions}
}

func fieldMatch(field string, value any) *qdrant.Condition {
	s := fmt.Sprintf("%v", value)
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   field,
				Match: qdrant.NewMatch(s),
			},
		},
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
