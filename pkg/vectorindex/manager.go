// Package vectorindex manages the lifecycle of the on-disk ANN index:
// loading the persisted artifact at startup, swapping in freshly rebuilt
// indexes, and serving queries from whichever index is current. Readers never
// see a half-built index; Rebuild prepares the replacement off to the side
// and swaps it in atomically.
package vectorindex

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/scpdb/semsearch/pkg/chunkstore"
	"github.com/scpdb/semsearch/pkg/hnsw"
)

// Manager owns the current index and its on-disk artifact.
type Manager struct {
	path string
	dim  int
	cfg  hnsw.Config
	log  zerolog.Logger

	current atomic.Pointer[hnsw.Index]
}

// NewManager creates a manager for the artifact at path. The manager starts
// with an empty in-memory index; call Load to pick up a persisted one.
func NewManager(path string, dim int, cfg hnsw.Config, log zerolog.Logger) *Manager {
	m := &Manager{
		path: path,
		dim:  dim,
		cfg:  cfg,
		log:  log,
	}
	m.current.Store(hnsw.New(dim, cfg))
	return m
}

// Load reads the persisted artifact. It reports whether a usable index was
// found: a missing, corrupt, or dimension-mismatched artifact leaves the
// empty index in place and returns false so the caller can schedule a
// rebuild. Only unexpected I/O failures surface as errors.
func (m *Manager) Load() (bool, error) {
	idx, err := hnsw.Load(m.path, m.dim)
	if err != nil {
		return false, fmt.Errorf("loading vector index from %s: %w", m.path, err)
	}
	if idx == nil {
		m.log.Warn().Str("path", m.path).Msg("no usable vector index artifact, rebuild needed")
		return false, nil
	}

	m.current.Store(idx)
	m.log.Info().Str("path", m.path).Int("vectors", idx.Size()).Msg("vector index loaded")
	return true, nil
}

// EnsureReady loads the persisted artifact and, when it is missing or
// unusable, rebuilds it from the chunk store. An empty chunk store leaves the
// empty index in place; that is not an error.
func (m *Manager) EnsureReady(ctx context.Context, chunks *chunkstore.Store) error {
	ok, err := m.Load()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	stored, err := chunks.AllVectors(ctx)
	if err != nil {
		return fmt.Errorf("reading stored vectors for rebuild: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}

	ids := make([]int64, len(stored))
	vectors := make([][]float32, len(stored))
	for i, sv := range stored {
		ids[i] = sv.ChunkID
		vectors[i] = sv.Vector
	}
	return m.Rebuild(ids, vectors)
}

// Rebuild constructs a fresh index from the given id/vector pairs, persists
// it, and swaps it in. The previous index keeps serving queries until the
// swap. ids and vectors must be parallel slices.
func (m *Manager) Rebuild(ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("have %d ids but %d vectors", len(ids), len(vectors))
	}

	idx := hnsw.New(m.dim, m.cfg)
	for i, id := range ids {
		if err := idx.Add(id, vectors[i]); err != nil {
			return fmt.Errorf("adding chunk %d to rebuilt index: %w", id, err)
		}
	}

	if err := idx.Save(m.path); err != nil {
		return fmt.Errorf("persisting rebuilt index: %w", err)
	}

	m.current.Store(idx)
	m.log.Info().Str("path", m.path).Int("vectors", idx.Size()).Msg("vector index rebuilt")
	return nil
}

// Query searches the current index. An empty index yields no results.
func (m *Manager) Query(vec []float32, k int) ([]hnsw.Result, error) {
	return m.current.Load().Search(vec, k, 0)
}

// Size returns the number of vectors in the current index.
func (m *Manager) Size() int {
	return m.current.Load().Size()
}

// ChunkIDs returns the chunk ids held by the current index, in insertion
// order.
func (m *Manager) ChunkIDs() []int64 {
	return m.current.Load().IDs()
}
