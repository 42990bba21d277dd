package vectorstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// fileSnapshot is the on-disk representation of every collection's state.
type fileSnapshot struct {
	Collections map[string]struct {
		Dimension int             `json:"dimension"`
		Chunks    map[string]Chunk `json:"chunks"`
	} `json:"collections"`
}

// File is a disk-persisted Store: every mutating call delegates to an
// in-memory Store for its logic, then atomically rewrites a single JSON
// snapshot file, the same rewrite discipline the intent pattern library
// uses for `pattern_library.json`. It demonstrates the Store interface is
// narrow enough to support a disk-backed engine without a running external
// vector database.
type File struct {
	path string
	mem  *Memory

	mu sync.Mutex
}

// NewFile opens (or creates) a File store persisted at path.
func NewFile(path string) (*File, error) {
	f := &File{path: path, mem: NewMemory()}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return pipelineerr.NewInternal("vectorstore.File.load", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return pipelineerr.NewParseError("vectorstore.File.load", err)
	}

	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	for name, col := range snap.Collections {
		chunks := make(map[string]Chunk, len(col.Chunks))
		for id, c := range col.Chunks {
			chunks[id] = c
		}
		f.mem.collections[name] = &memoryCollection{dimension: col.Dimension, chunks: chunks}
	}
	return nil
}

// persist atomically rewrites the snapshot file: write to a temp file in
// the same directory, then rename over the target.
func (f *File) persist() error {
	f.mem.mu.RLock()
	snap := fileSnapshot{Collections: make(map[string]struct {
		Dimension int              `json:"dimension"`
		Chunks    map[string]Chunk `json:"chunks"`
	}, len(f.mem.collections))}
	for name, col := range f.mem.collections {
		snap.Collections[name] = struct {
			Dimension int              `json:"dimension"`
			Chunks    map[string]Chunk `json:"chunks"`
		}{Dimension: col.dimension, Chunks: col.chunks}
	}
	f.mem.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return pipelineerr.NewInternal("vectorstore.File.persist", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".vectorstore-*.tmp")
	if err != nil {
		return pipelineerr.NewInternal("vectorstore.File.persist", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return pipelineerr.NewInternal("vectorstore.File.persist", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return pipelineerr.NewInternal("vectorstore.File.persist", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return pipelineerr.NewInternal("vectorstore.File.persist", err)
	}
	return nil
}

func (f *File) EnsureCollection(ctx context.Context, name string, dimension int, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.EnsureCollection(ctx, name, dimension, description); err != nil {
		return err
	}
	return f.persist()
}

func (f *File) DropCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.DropCollection(ctx, name); err != nil {
		return err
	}
	return f.persist()
}

func (f *File) Insert(ctx context.Context, name string, chunks []Chunk, autoCreate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Insert(ctx, name, chunks, autoCreate); err != nil {
		return err
	}
	return f.persist()
}

func (f *File) DeleteByFilter(ctx context.Context, name string, filter Filter, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.mem.DeleteByFilter(ctx, name, filter, tenantID)
	if err != nil {
		return 0, err
	}
	return n, f.persist()
}

func (f *File) Update(ctx context.Context, name string, filter Filter, tenantID string, updates func(*Chunk)) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.mem.Update(ctx, name, filter, tenantID, updates)
	if err != nil {
		return 0, err
	}
	return n, f.persist()
}

func (f *File) Search(ctx context.Context, req SearchRequest) ([]Hit, error) {
	return f.mem.Search(ctx, req)
}

func (f *File) Close() error { return nil }
