// Package hnsw implements approximate nearest-neighbor search over cosine
// space using the HNSW graph algorithm. The index is built in memory from a
// full set of vectors, queried with a tunable search breadth (ef), and
// persisted to a single binary snapshot.
//
// The index is append-only: the sync engine always regenerates it from the
// chunk store instead of deleting individual entries, so there is no
// tombstoning. Entries are keyed by the caller's int64 ids (chunk ids); the
// internal label -> id mapping is part of the snapshot, which keeps the graph
// and the mapping impossible to desynchronize.
package hnsw

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when a vector's length does not match the
// index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Config contains the HNSW construction and search parameters.
type Config struct {
	M              int // Max connections per node per layer
	EfConstruction int // Candidate list size during construction
	EfSearch       int // Default candidate list size during search
}

// DefaultConfig returns sensible defaults for the index.
func DefaultConfig() Config {
	return Config{
		M:              16,
		EfConstruction: 200,
		EfSearch:       100,
	}
}

// Result is a single nearest-neighbor hit. Distance is cosine distance
// (1 - cosine similarity), so smaller means more similar.
type Result struct {
	ID       int64
	Distance float32
}

// Index is an in-memory HNSW graph. Safe for concurrent use; Add takes the
// write lock, Search the read lock.
type Index struct {
	config     Config
	dimensions int
	levelMult  float64

	mu sync.RWMutex

	ids       []int64   // internal label -> caller id, in insertion order
	levels    []int     // internal label -> top level
	vectors   []float32 // flat, normalized, dimensions per node
	neighbors [][][]uint32

	entryPoint    uint32
	hasEntryPoint bool
	maxLevel      int
}

// New creates an empty index for vectors of the given dimension.
func New(dimensions int, config Config) *Index {
	if config.M <= 0 {
		config = DefaultConfig()
	}
	return &Index{
		config:     config,
		dimensions: dimensions,
		levelMult:  1.0 / math.Log(float64(config.M)),
	}
}

// Dimension returns the vector dimension of the index.
func (h *Index) Dimension() int {
	return h.dimensions
}

// Size returns the number of vectors in the index.
func (h *Index) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}

// IDs returns the caller ids in internal label order (insertion order).
func (h *Index) IDs() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]int64(nil), h.ids...)
}

// Add inserts a vector keyed by id. The vector is copied and L2-normalized;
// callers may reuse the slice.
func (h *Index) Add(id int64, vec []float32) error {
	if len(vec) != h.dimensions {
		return ErrDimensionMismatch
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	internalID := uint32(len(h.ids))
	level := h.randomLevel()

	off := len(h.vectors)
	h.vectors = append(h.vectors, vec...)
	normalized := h.vectors[off : off+h.dimensions]
	normalize(normalized)

	h.ids = append(h.ids, id)
	h.levels = append(h.levels, level)
	h.neighbors = append(h.neighbors, make([][]uint32, level+1))

	if !h.hasEntryPoint {
		h.entryPoint = internalID
		h.hasEntryPoint = true
		h.maxLevel = level
		return nil
	}

	ep := h.entryPoint
	epLevel := h.levels[ep]

	for l := epLevel; l > level; l-- {
		ep = h.greedyClosest(normalized, ep, l)
	}

	for l := min(level, epLevel); l >= 0; l-- {
		candidates := h.searchLayer(normalized, ep, h.config.EfConstruction, l)
		selected := h.selectNeighbors(normalized, candidates, h.config.M)
		h.neighbors[internalID][l] = selected

		for _, n := range selected {
			h.linkBack(n, l, internalID)
		}

		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > h.maxLevel {
		h.entryPoint = internalID
		h.maxLevel = level
	}

	return nil
}

// Search returns up to k nearest neighbors of vec, ordered by ascending
// cosine distance. ef tunes the accuracy/speed tradeoff; ef <= 0 uses the
// configured default. k is clamped to the element count; an empty index
// returns an empty result.
func (h *Index) Search(vec []float32, k, ef int) ([]Result, error) {
	if len(vec) != h.dimensions {
		return nil, ErrDimensionMismatch
	}
	if ef <= 0 {
		ef = h.config.EfSearch
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntryPoint || k <= 0 {
		return []Result{}, nil
	}
	if k > len(h.ids) {
		k = len(h.ids)
	}
	if ef < k {
		ef = k
	}

	query := make([]float32, h.dimensions)
	copy(query, vec)
	normalize(query)

	ep := h.entryPoint
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyClosest(query, ep, l)
	}

	candidates := h.searchLayer(query, ep, ef, 0)

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, Result{ID: h.ids[c.id], Distance: c.dist})
	}
	return results, nil
}

func (h *Index) randomLevel() int {
	return int(-math.Log(rand.Float64()) * h.levelMult)
}

func (h *Index) vectorAt(internalID uint32) []float32 {
	off := int(internalID) * h.dimensions
	return h.vectors[off : off+h.dimensions]
}

func (h *Index) distance(query []float32, internalID uint32) float32 {
	return 1.0 - dot(query, h.vectorAt(internalID))
}

// greedyClosest walks a layer greedily towards the query, returning the
// closest node reachable from entry.
func (h *Index) greedyClosest(query []float32, entry uint32, level int) uint32 {
	current := entry
	currentDist := h.distance(query, current)

	for {
		changed := false
		for _, n := range h.neighborsAt(current, level) {
			if d := h.distance(query, n); d < currentDist {
				current = n
				currentDist = d
				changed = true
			}
		}
		if !changed {
			return current
		}
	}
}

// searchLayer explores one layer with beam width ef and returns up to ef
// nodes ordered by ascending distance.
func (h *Index) searchLayer(query []float32, entry uint32, ef, level int) []distItem {
	visited := make(map[uint32]struct{}, ef*4)
	visited[entry] = struct{}{}

	entryDist := h.distance(query, entry)
	candidates := &distHeap{}
	candidates.push(distItem{id: entry, dist: entryDist})
	results := &distHeap{max: true}
	results.push(distItem{id: entry, dist: entryDist})

	for candidates.len() > 0 {
		closest := candidates.pop()
		if results.len() >= ef && closest.dist > results.peek().dist {
			break
		}

		for _, n := range h.neighborsAt(closest.id, level) {
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}

			d := h.distance(query, n)
			if results.len() < ef || d < results.peek().dist {
				candidates.push(distItem{id: n, dist: d})
				results.push(distItem{id: n, dist: d})
				if results.len() > ef {
					results.pop()
				}
			}
		}
	}

	out := make([]distItem, results.len())
	for i := results.len() - 1; i >= 0; i-- {
		out[i] = results.pop() // furthest first, so closest lands at index 0
	}
	return out
}

// selectNeighbors keeps the m closest candidates.
func (h *Index) selectNeighbors(query []float32, candidates []distItem, m int) []uint32 {
	if len(candidates) > m {
		// searchLayer returns candidates sorted ascending already, but the
		// construction path may pass arbitrary order after linkBack merges.
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
		candidates = candidates[:m]
	}
	out := make([]uint32, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// linkBack adds newNeighbor to node's list at level, evicting the furthest
// link when the list is full.
func (h *Index) linkBack(node uint32, level int, newNeighbor uint32) {
	if level >= len(h.neighbors[node]) {
		return
	}
	links := h.neighbors[node][level]
	if len(links) < h.config.M {
		h.neighbors[node][level] = append(links, newNeighbor)
		return
	}

	nodeVec := h.vectorAt(node)
	all := make([]distItem, 0, len(links)+1)
	for _, n := range links {
		all = append(all, distItem{id: n, dist: 1.0 - dot(nodeVec, h.vectorAt(n))})
	}
	all = append(all, distItem{id: newNeighbor, dist: 1.0 - dot(nodeVec, h.vectorAt(newNeighbor))})
	h.neighbors[node][level] = h.selectNeighbors(nodeVec, all, h.config.M)
}

func (h *Index) neighborsAt(node uint32, level int) []uint32 {
	if level >= len(h.neighbors[node]) {
		return nil
	}
	return h.neighbors[node][level]
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(float64(sum)))
	for i := range v {
		v[i] /= norm
	}
}
