// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the pipeline's configuration surface:
// environment selection, service endpoints, concurrency caps, cache sizing,
// HNSW parameters, and intent-classifier thresholds (SPEC_FULL.md §6/§10).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment is the deployment tag selected once at startup (§4.1).
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// Config is the root configuration object, loaded by Load.
type Config struct {
	Environment Environment `yaml:"environment"`

	Logger LoggerConfig `yaml:"logger"`

	Services    ServicesConfig    `yaml:"services"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Cache       CacheConfig       `yaml:"cache"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Intent      IntentConfig      `yaml:"intent"`
	HTTP        HTTPConfig        `yaml:"http"`
	Registry    RegistryConfig    `yaml:"registry"`
}

// ModelConfig is one entry of the model registry preset (§4.1), decoded
// straight off YAML. Kept in this package (rather than importing
// modelregistry here) since modelregistry already imports config for its
// Environment type; cmd/ragcore translates this into a
// modelregistry.Preset at startup.
type ModelConfig struct {
	ID                    string  `yaml:"id"`
	Provider              string  `yaml:"provider"`
	DenseDimension        int     `yaml:"dense_dimension"`
	PricePerMillionTokens float64 `yaml:"price_per_million_tokens"`
	EmitsReasoningTags    bool    `yaml:"emits_reasoning_tags"`
	ReasoningStripPattern string  `yaml:"reasoning_strip_pattern"`
}

// ServiceConfig is one named base URL a model's provider is reached at.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

// RegistryConfig is the per-environment model/service preset (§4.1).
type RegistryConfig struct {
	Models     []ModelConfig     `yaml:"models"`
	TaskModels map[string]string `yaml:"task_models"`
	Services   []ServiceConfig   `yaml:"services"`
}

// ServicesConfig holds the base URLs of the external collaborators the core
// calls (embedder, reranker, compressor, vector store) plus the provider
// API keys the LLM gateway uses to authenticate.
type ServicesConfig struct {
	EmbedderURL    string `yaml:"embedder_url"`
	RerankerURL    string `yaml:"reranker_url"`
	CompressorURL  string `yaml:"compressor_url"`
	VectorStoreURL string `yaml:"vector_store_url"`

	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

// ConcurrencyConfig holds the process-wide semaphore caps from §5.
type ConcurrencyConfig struct {
	LLMGatewayCallers int `yaml:"llm_gateway_callers"`
	IngestionRequests int `yaml:"ingestion_requests"`
	RetrievalRequests int `yaml:"retrieval_requests"`
	EmbeddingCallers  int `yaml:"embedding_callers"`
	MetadataCallers   int `yaml:"metadata_callers"`
}

// CacheConfig holds the shared LRU+TTL cache sizing used by C2 and C4.
type CacheConfig struct {
	GatewayTTL   time.Duration `yaml:"gateway_ttl"`
	GatewaySize  int           `yaml:"gateway_size"`
	MetadataTTL  time.Duration `yaml:"metadata_ttl"`
	MetadataSize int           `yaml:"metadata_size"`
}

// VectorStoreConfig holds the HNSW index parameters from §3/§4.5.
type VectorStoreConfig struct {
	HNSWM              int `yaml:"hnsw_m"`
	HNSWEfConstruction int `yaml:"hnsw_ef_construction"`
	PartitionCount     int `yaml:"partition_count"`
}

// IntentConfig holds the classifier's confidence thresholds and
// pattern-learning parameters from §4.8.
type IntentConfig struct {
	PatternLibraryPath    string  `yaml:"pattern_library_path"`
	ThresholdReject       float64 `yaml:"threshold_reject"`
	ThresholdFallback     float64 `yaml:"threshold_fallback"`
	ThresholdMediumHigh   float64 `yaml:"threshold_medium_high"`
	ThresholdHigh         float64 `yaml:"threshold_high"`
	MultiIntentThreshold  float64 `yaml:"multi_intent_threshold"`
	LearningBatchSize     int     `yaml:"learning_batch_size"`
	AutoApproveThreshold  float64 `yaml:"auto_approve_threshold"`
	LogRetentionDays      int     `yaml:"log_retention_days"`
	LearningQueuePath     string  `yaml:"learning_queue_path"`
	RejectedQueriesPath   string  `yaml:"rejected_queries_path"`
	LowConfidenceLogPath  string  `yaml:"low_confidence_log_path"`
}

// HTTPConfig holds the two HTTP surfaces' bind addresses. The
// network-policy allow-list is not configurable here; it is fixed in
// pkg/httpapi's middleware.
type HTTPConfig struct {
	IngestionAddr string `yaml:"ingestion_addr"`
	RetrievalAddr string `yaml:"retrieval_addr"`
}

// SetDefaults fills every zero-valued field with its documented default.
func (c *Config) SetDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Logger.SetDefaults()

	if c.Concurrency.LLMGatewayCallers == 0 {
		c.Concurrency.LLMGatewayCallers = 20
	}
	if c.Concurrency.IngestionRequests == 0 {
		c.Concurrency.IngestionRequests = 10
	}
	if c.Concurrency.RetrievalRequests == 0 {
		c.Concurrency.RetrievalRequests = 20
	}
	if c.Concurrency.EmbeddingCallers == 0 {
		c.Concurrency.EmbeddingCallers = 50
	}
	if c.Concurrency.MetadataCallers == 0 {
		c.Concurrency.MetadataCallers = 20
	}

	if c.Cache.GatewayTTL == 0 {
		c.Cache.GatewayTTL = time.Hour
	}
	if c.Cache.GatewaySize == 0 {
		c.Cache.GatewaySize = 1000
	}
	if c.Cache.MetadataTTL == 0 {
		c.Cache.MetadataTTL = time.Hour
	}
	if c.Cache.MetadataSize == 0 {
		c.Cache.MetadataSize = 2000
	}

	if c.VectorStore.HNSWM == 0 {
		c.VectorStore.HNSWM = 16
	}
	if c.VectorStore.HNSWEfConstruction == 0 {
		c.VectorStore.HNSWEfConstruction = 200
	}
	if c.VectorStore.PartitionCount == 0 {
		c.VectorStore.PartitionCount = 256
	}

	if c.Intent.PatternLibraryPath == "" {
		c.Intent.PatternLibraryPath = "pattern_library.json"
	}
	if c.Intent.ThresholdReject == 0 {
		c.Intent.ThresholdReject = 0.40
	}
	if c.Intent.ThresholdFallback == 0 {
		c.Intent.ThresholdFallback = 0.60
	}
	if c.Intent.ThresholdMediumHigh == 0 {
		c.Intent.ThresholdMediumHigh = 0.70
	}
	if c.Intent.ThresholdHigh == 0 {
		c.Intent.ThresholdHigh = 0.90
	}
	if c.Intent.MultiIntentThreshold == 0 {
		c.Intent.MultiIntentThreshold = 0.85
	}
	if c.Intent.LearningBatchSize == 0 {
		c.Intent.LearningBatchSize = 10
	}
	if c.Intent.AutoApproveThreshold == 0 {
		c.Intent.AutoApproveThreshold = 0.95
	}
	if c.Intent.LogRetentionDays == 0 {
		c.Intent.LogRetentionDays = 7
	}
	if c.Intent.LearningQueuePath == "" {
		c.Intent.LearningQueuePath = "learning_queue.jsonl"
	}
	if c.Intent.RejectedQueriesPath == "" {
		c.Intent.RejectedQueriesPath = "rejected_queries.jsonl"
	}
	if c.Intent.LowConfidenceLogPath == "" {
		c.Intent.LowConfidenceLogPath = "low_confidence_queries.jsonl"
	}

	if c.HTTP.IngestionAddr == "" {
		c.HTTP.IngestionAddr = "0.0.0.0:8081"
	}
	if c.HTTP.RetrievalAddr == "" {
		c.HTTP.RetrievalAddr = "0.0.0.0:8082"
	}

	if c.Services.OpenAIAPIKey == "" {
		c.Services.OpenAIAPIKey = GetProviderAPIKey("openai")
	}
	if c.Services.AnthropicAPIKey == "" {
		c.Services.AnthropicAPIKey = GetProviderAPIKey("anthropic")
	}
	if c.Services.GeminiAPIKey == "" {
		c.Services.GeminiAPIKey = GetProviderAPIKey("gemini")
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("invalid environment %q (valid: dev, staging, prod)", c.Environment)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if c.Intent.ThresholdReject >= c.Intent.ThresholdFallback {
		return fmt.Errorf("intent.threshold_reject must be < intent.threshold_fallback")
	}
	if c.Intent.ThresholdFallback >= c.Intent.ThresholdMediumHigh {
		return fmt.Errorf("intent.threshold_fallback must be < intent.threshold_medium_high")
	}
	if c.Intent.ThresholdMediumHigh >= c.Intent.ThresholdHigh {
		return fmt.Errorf("intent.threshold_medium_high must be < intent.threshold_high")
	}
	return nil
}

// Load reads configuration from an optional YAML file, then layers
// environment-variable overrides on top (file < env, per §10). path may be
// empty, in which case only environment variables and defaults apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		var generic map[string]interface{}
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		expanded := ExpandEnvVarsInData(generic)

		reEncoded, err := yaml.Marshal(expanded)
		if err != nil {
			return nil, fmt.Errorf("re-encoding expanded config: %w", err)
		}
		if err := yaml.Unmarshal(reEncoded, cfg); err != nil {
			return nil, fmt.Errorf("decoding config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PIPELINE_ENV"); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("EMBEDDER_URL"); v != "" {
		cfg.Services.EmbedderURL = v
	}
	if v := os.Getenv("RERANKER_URL"); v != "" {
		cfg.Services.RerankerURL = v
	}
	if v := os.Getenv("COMPRESSOR_URL"); v != "" {
		cfg.Services.CompressorURL = v
	}
	if v := os.Getenv("VECTOR_STORE_URL"); v != "" {
		cfg.Services.VectorStoreURL = v
	}
	if v := os.Getenv("INGESTION_ADDR"); v != "" {
		cfg.HTTP.IngestionAddr = v
	}
	if v := os.Getenv("RETRIEVAL_ADDR"); v != "" {
		cfg.HTTP.RetrievalAddr = v
	}
	if v := os.Getenv("PATTERN_LIBRARY_PATH"); v != "" {
		cfg.Intent.PatternLibraryPath = v
	}
}
