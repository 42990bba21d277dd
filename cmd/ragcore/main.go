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

// Command ragcore starts the ingestion and retrieval HTTP surfaces.
//
// Usage:
//
//	ragcore serve --config ragcore.yaml
//	ragcore validate --config ragcore.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/ragpipe/ragcore/pkg/config"
	"github.com/ragpipe/ragcore/pkg/embedder"
	"github.com/ragpipe/ragcore/pkg/httpapi"
	"github.com/ragpipe/ragcore/pkg/ingestion"
	"github.com/ragpipe/ragcore/pkg/intent"
	"github.com/ragpipe/ragcore/pkg/llmgateway"
	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/metadata"
	"github.com/ragpipe/ragcore/pkg/modelregistry"
	"github.com/ragpipe/ragcore/pkg/retrieval"
	"github.com/ragpipe/ragcore/pkg/search"
	"github.com/ragpipe/ragcore/pkg/vectorstore"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the ingestion and retrieval HTTP surfaces."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config string `short:"c" help:"Path to config file." type:"path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ragcore version %s\n", version)
	return nil
}

// ValidateCmd loads and validates a configuration file without starting
// anything, matching the teacher's "fail loudly before serving" posture.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	if _, err := buildRegistry(cfg); err != nil {
		return fmt.Errorf("registry preset invalid: %w", err)
	}
	fmt.Println("configuration OK")
	return nil
}

// ServeCmd starts both HTTP surfaces.
type ServeCmd struct {
	IngestionAddr string `name:"ingestion-addr" help:"Override the ingestion surface bind address."`
	RetrievalAddr string `name:"retrieval-addr" help:"Override the retrieval surface bind address."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.IngestionAddr != "" {
		cfg.HTTP.IngestionAddr = c.IngestionAddr
	}
	if c.RetrievalAddr != "" {
		cfg.HTTP.RetrievalAddr = c.RetrievalAddr
	}

	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logOutput := os.Stderr
	if cfg.Logger.File != "" {
		f, closeFn, err := logger.OpenLogFile(cfg.Logger.File)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer closeFn()
		logOutput = f
	}
	logger.Init(level, logOutput, cfg.Logger.Format)
	ctx = logger.WithContext(ctx, logger.GetLogger())

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}

	apiKeys := map[string]string{
		"openai":    cfg.Services.OpenAIAPIKey,
		"anthropic": cfg.Services.AnthropicAPIKey,
		"gemini":    cfg.Services.GeminiAPIKey,
	}
	gw := llmgateway.New(registry, apiKeys, llmgateway.WithCacheSize(cfg.Cache.GatewaySize, cfg.Cache.GatewayTTL))

	deps := []retrieval.Dependency{}
	if cfg.Services.EmbedderURL != "" {
		deps = append(deps, retrieval.Dependency{Name: "embedder", HealthURL: cfg.Services.EmbedderURL + "/health"})
	}
	if cfg.Services.RerankerURL != "" {
		deps = append(deps, retrieval.Dependency{Name: "reranker", HealthURL: cfg.Services.RerankerURL + "/health"})
	}
	if cfg.Services.CompressorURL != "" {
		deps = append(deps, retrieval.Dependency{Name: "compressor", HealthURL: cfg.Services.CompressorURL + "/health"})
	}
	if len(deps) > 0 {
		if err := retrieval.WaitForDependencies(ctx, deps, 5); err != nil {
			return fmt.Errorf("waiting for dependencies: %w", err)
		}
	}

	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("building vector store: %w", err)
	}
	defer store.Close()

	embedClient := embedder.New(cfg.Services.EmbedderURL, "")
	metaExtractor := metadata.New(gw, registry, metadata.WithConcurrency(cfg.Concurrency.MetadataCallers), metadata.WithCacheSize(cfg.Cache.MetadataSize, cfg.Cache.MetadataTTL))

	ingestOrch := ingestion.New(store, metaExtractor, embedClient,
		ingestion.WithConcurrency(cfg.Concurrency.IngestionRequests),
		ingestion.WithEmbeddingConcurrency(cfg.Concurrency.EmbeddingCallers),
	)

	libStore, err := intent.NewLibraryStore(cfg.Intent.PatternLibraryPath)
	if err != nil {
		return fmt.Errorf("loading pattern library: %w", err)
	}
	go func() {
		if err := libStore.Watch(ctx); err != nil {
			logger.FromContext(ctx).Warn("pattern library watch stopped", "error", err)
		}
	}()

	learner := intent.NewLearner(libStore, gw, registry,
		intent.WithBatchSize(cfg.Intent.LearningBatchSize),
		intent.WithAutoApproveThreshold(cfg.Intent.AutoApproveThreshold),
	)
	classifier := intent.New(libStore, gw, registry, intentLogDir(cfg),
		intent.WithLearner(learner),
		intent.WithThresholds(intent.Thresholds{
			Reject:   cfg.Intent.ThresholdReject,
			Fallback: cfg.Intent.ThresholdFallback,
			Medium:   intent.ThresholdMedium,
			High:     cfg.Intent.ThresholdMediumHigh,
			VeryHigh: cfg.Intent.ThresholdHigh,
			Multi:    cfg.Intent.MultiIntentThreshold,
		}),
	)
	searcher := search.New(store, embedClient)

	var retrievalOpts []retrieval.Option
	retrievalOpts = append(retrievalOpts, retrieval.WithConcurrency(cfg.Concurrency.RetrievalRequests))
	if cfg.Services.RerankerURL != "" {
		retrievalOpts = append(retrievalOpts, retrieval.WithReranker(retrieval.NewHTTPReranker(cfg.Services.RerankerURL, "")))
	}
	if cfg.Services.CompressorURL != "" {
		retrievalOpts = append(retrievalOpts, retrieval.WithCompressor(retrieval.NewLLMCompressor(gw, registry)))
	}
	retrievalOrch := retrieval.New(classifier, searcher, gw, registry, retrievalOpts...)

	ingestionAPI := httpapi.NewIngestionAPI(ingestOrch, store)
	retrievalAPI := httpapi.NewRetrievalAPI(retrievalOrch, searcher, classifier)

	ingestionSrv := httpapi.NewServer(cfg.HTTP.IngestionAddr, ingestionAPI)
	retrievalSrv := httpapi.NewServer(cfg.HTTP.RetrievalAddr, retrievalAPI)

	fmt.Printf("ragcore starting: ingestion on %s, retrieval on %s (env=%s)\n",
		cfg.HTTP.IngestionAddr, cfg.HTTP.RetrievalAddr, cfg.Environment)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ingestionSrv.Start(gctx) })
	g.Go(func() error { return retrievalSrv.Start(gctx) })
	return g.Wait()
}

// buildRegistry translates the loaded configuration's registry preset into
// a modelregistry.Registry, failing loudly exactly as §4.1 requires.
func buildRegistry(cfg *config.Config) (*modelregistry.Registry, error) {
	models := make([]modelregistry.ModelInfo, len(cfg.Registry.Models))
	for i, m := range cfg.Registry.Models {
		models[i] = modelregistry.ModelInfo{
			ID:                    m.ID,
			Provider:              m.Provider,
			DenseDimension:        m.DenseDimension,
			PricePerMillionTokens: m.PricePerMillionTokens,
			EmitsReasoningTags:    m.EmitsReasoningTags,
			ReasoningStripPattern: m.ReasoningStripPattern,
		}
	}

	taskModels := make(map[modelregistry.Task]string, len(cfg.Registry.TaskModels))
	for task, modelID := range cfg.Registry.TaskModels {
		taskModels[modelregistry.Task(task)] = modelID
	}

	services := make([]modelregistry.ServiceEndpoint, len(cfg.Registry.Services))
	for i, s := range cfg.Registry.Services {
		services[i] = modelregistry.ServiceEndpoint{Name: s.Name, BaseURL: s.BaseURL}
	}

	return modelregistry.New(modelregistry.Preset{
		Environment: cfg.Environment,
		Models:      models,
		TaskModels:  taskModels,
		Services:    services,
	})
}

// buildStore selects the vector store backend: an empty VectorStoreURL
// means local development (in-memory), otherwise the URL is dialed as a
// Qdrant gRPC endpoint (§4.5 "primary backing engine is Qdrant").
func buildStore(cfg *config.Config) (vectorstore.Store, error) {
	if cfg.Services.VectorStoreURL == "" {
		return vectorstore.NewMemory(), nil
	}

	host, port, useTLS, err := parseVectorStoreURL(cfg.Services.VectorStoreURL)
	if err != nil {
		return nil, err
	}
	return vectorstore.NewQdrant(vectorstore.QdrantConfig{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
		HNSW: vectorstore.HNSWParams{
			M:              cfg.VectorStore.HNSWM,
			EfConstruction: cfg.VectorStore.HNSWEfConstruction,
		},
	})
}

func parseVectorStoreURL(raw string) (host string, port int, useTLS bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "qdrant://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("parsing vector store url %q: %w", raw, err)
	}
	h, p, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", 0, false, fmt.Errorf("vector store url %q must include a port: %w", raw, err)
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, false, fmt.Errorf("vector store url %q has invalid port: %w", raw, err)
	}
	return h, portNum, u.Scheme == "https" || u.Scheme == "grpcs", nil
}

func intentLogDir(cfg *config.Config) string {
	if dir := cfg.Intent.RejectedQueriesPath; dir != "" {
		return filepath.Dir(dir)
	}
	return "."
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("ragcore"),
		kong.Description("Ingestion and retrieval pipeline core for a RAG platform."),
		kong.UsageOnError(),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
