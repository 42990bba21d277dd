// Package modelregistry is the single source of truth for model
// identifiers and service endpoints (SPEC_FULL.md §4.1). It resolves, for
// the environment selected once at startup, each logical task to a
// concrete model id and exposes per-model metadata (provider, embedding
// dimension, pricing, reasoning-tag stripping).
//
// The registry is pure and read-only after construction: New fails loudly
// if a required task or model entry is missing rather than silently
// falling back to a default.
package modelregistry

import (
	"fmt"
	"regexp"

	"github.com/ragpipe/ragcore/pkg/config"
)

// Task identifies a logical unit of work that must be mapped to a model.
type Task string

const (
	TaskIntentDetection          Task = "intent_detection"
	TaskAnswerGenerationSimple   Task = "answer_generation_simple"
	TaskAnswerGenerationComplex  Task = "answer_generation_complex"
	TaskMetadataExtraction       Task = "metadata_extraction"
	TaskCompression              Task = "compression"
)

// ModelInfo is the per-model metadata exposed by the registry.
type ModelInfo struct {
	ID                     string
	Provider               string // e.g. "nebius", "sambanova", "jina", "openai", "anthropic"
	DenseDimension         int
	PricePerMillionTokens  float64
	EmitsReasoningTags     bool
	ReasoningStripPattern  string // e.g. `(?is)<think>.*?</think>`

	compiledStrip *regexp.Regexp
}

// StripPattern returns the compiled reasoning-tag strip pattern, or nil if
// the model does not emit reasoning tags.
func (m *ModelInfo) StripPattern() *regexp.Regexp {
	return m.compiledStrip
}

// ServiceEndpoint is a base URL for an external collaborator service.
type ServiceEndpoint struct {
	Name    string
	BaseURL string
}

// Registry resolves tasks and models for one fixed environment.
type Registry struct {
	env       config.Environment
	models    map[string]*ModelInfo
	taskModel map[Task]string
	services  map[string]ServiceEndpoint
}

// Preset describes the raw, unvalidated configuration for one environment:
// the set of known models, the task→model mapping, and the service
// endpoints the pipeline calls out to.
type Preset struct {
	Environment config.Environment
	Models      []ModelInfo
	TaskModels  map[Task]string
	Services    []ServiceEndpoint
}

// New builds a Registry from preset, failing with an enumerated list of
// problems if any required task or model id is missing. Contract: no
// fallbacks, the registry is authoritative (§4.1).
func New(preset Preset) (*Registry, error) {
	r := &Registry{
		env:       preset.Environment,
		models:    make(map[string]*ModelInfo, len(preset.Models)),
		taskModel: make(map[Task]string, len(preset.TaskModels)),
		services:  make(map[string]ServiceEndpoint, len(preset.Services)),
	}

	for i := range preset.Models {
		m := preset.Models[i]
		if m.ID == "" {
			return nil, fmt.Errorf("modelregistry: model at index %d has empty id", i)
		}
		if m.EmitsReasoningTags {
			pattern := m.ReasoningStripPattern
			if pattern == "" {
				pattern = `(?is)<think>.*?</think>`
			}
			compiled, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("modelregistry: model %q has invalid strip pattern: %w", m.ID, err)
			}
			m.compiledStrip = compiled
		}
		r.models[m.ID] = &m
	}

	for name, modelID := range preset.TaskModels {
		if _, ok := r.models[modelID]; !ok {
			return nil, fmt.Errorf("modelregistry: task %q references unknown model %q", name, modelID)
		}
		r.taskModel[name] = modelID
	}

	for _, s := range preset.Services {
		if s.Name == "" || s.BaseURL == "" {
			return nil, fmt.Errorf("modelregistry: service endpoint entry missing name or base url: %+v", s)
		}
		r.services[s.Name] = s
	}

	var missing []string
	for _, required := range []Task{
		TaskIntentDetection,
		TaskAnswerGenerationSimple,
		TaskAnswerGenerationComplex,
		TaskMetadataExtraction,
		TaskCompression,
	} {
		if _, ok := r.taskModel[required]; !ok {
			missing = append(missing, string(required))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("modelregistry: missing required task mappings for environment %q: %v", preset.Environment, missing)
	}

	return r, nil
}

// Environment returns the environment this registry was built for.
func (r *Registry) Environment() config.Environment {
	return r.env
}

// ModelForTask resolves a logical task to a concrete ModelInfo. Lookup is
// O(1) and pure.
func (r *Registry) ModelForTask(task Task) (*ModelInfo, error) {
	id, ok := r.taskModel[task]
	if !ok {
		return nil, fmt.Errorf("modelregistry: no model mapped for task %q", task)
	}
	return r.Model(id)
}

// Model resolves a model id to its ModelInfo.
func (r *Registry) Model(id string) (*ModelInfo, error) {
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("modelregistry: unknown model %q", id)
	}
	return m, nil
}

// Service resolves a logical service name to its base URL.
func (r *Registry) Service(name string) (ServiceEndpoint, error) {
	s, ok := r.services[name]
	if !ok {
		return ServiceEndpoint{}, fmt.Errorf("modelregistry: unknown service %q", name)
	}
	return s, nil
}

// EstimateCost computes the pricing-per-million-tokens cost for a model
// call, given the total prompt+completion token count (§4.2 observability).
func (m *ModelInfo) EstimateCost(totalTokens int) float64 {
	return float64(totalTokens) / 1_000_000 * m.PricePerMillionTokens
}
