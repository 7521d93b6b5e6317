// Package vector indexes code chunks for nearest-neighbor retrieval. An
// HNSW graph holds the embeddings; chunk content and metadata live in
// SQLite so queries can filter by codebase, language, kind, and path.
package vector

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// graphStore wraps a coder/hnsw graph with string chunk ids. Deletion is
// lazy: removed ids stay in the graph as orphans but never surface in
// search results.
type graphStore struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

type graphMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

// hit is one search result.
type hit struct {
	id    string
	score float32
}

func newGraphStore(dims int) *graphStore {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &graphStore{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func (g *graphStore) add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, v := range vectors {
		if len(v) != g.dims {
			return fmt.Errorf("expected %d dimensions, got %d", g.dims, len(v))
		}
	}

	for i, id := range ids {
		// Re-adding an id orphans the old node instead of deleting it;
		// coder/hnsw breaks when the last node is removed.
		if existingKey, exists := g.idMap[id]; exists {
			delete(g.keyMap, existingKey)
			delete(g.idMap, id)
		}

		key := g.nextKey
		g.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		g.graph.Add(hnsw.MakeNode(key, vec))
		g.idMap[id] = key
		g.keyMap[key] = id
	}
	return nil
}

func (g *graphStore) search(query []float32, k int) ([]hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != g.dims {
		return nil, fmt.Errorf("expected %d dimensions, got %d", g.dims, len(query))
	}
	if g.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := g.graph.Search(normalized, k)

	hits := make([]hit, 0, len(nodes))
	for _, node := range nodes {
		id, exists := g.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}
		distance := g.graph.Distance(normalized, node.Value)
		// Cosine distance ranges 0..2; map to a 0..1 score.
		hits = append(hits, hit{id: id, score: 1.0 - distance/2.0})
	}
	return hits, nil
}

func (g *graphStore) delete(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range ids {
		if key, exists := g.idMap[id]; exists {
			delete(g.keyMap, key)
			delete(g.idMap, id)
		}
	}
}

func (g *graphStore) count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.idMap)
}

// save persists the graph and id mappings atomically (temp file + rename).
func (g *graphStore) save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return fmt.Errorf("vector index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := g.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return g.saveMetadata(path + ".meta")
}

func (g *graphStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := graphMetadata{IDMap: g.idMap, NextKey: g.nextKey, Dims: g.dims}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// load restores the graph from disk. Missing files leave the store empty.
func (g *graphStore) load(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta graphMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Dims != g.dims {
		return fmt.Errorf("stored index has %d dimensions, expected %d", meta.Dims, g.dims)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := g.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	g.idMap = meta.IDMap
	g.nextKey = meta.NextKey
	g.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		g.keyMap[key] = id
	}
	return nil
}

func (g *graphStore) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.graph = nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
