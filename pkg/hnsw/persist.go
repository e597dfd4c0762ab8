package hnsw

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

const snapshotFormatVersion = "1.0.0"

// snapshot is the serializable form of the index. IDs doubles as the
// label -> chunk id mapping: position i holds the caller id for internal
// label i, so the mapping is persisted atomically with the graph.
type snapshot struct {
	Version       string
	Config        Config
	Dimensions    int
	IDs           []int64
	Levels        []int
	Vectors       []float32
	Neighbors     [][][]uint32
	EntryPoint    uint32
	HasEntryPoint bool
	MaxLevel      int
}

// Save writes the index to path in msgpack format, creating the directory if
// needed. State is copied under the read lock so I/O does not block searches.
func (h *Index) Save(path string) error {
	h.mu.RLock()
	snap := snapshot{
		Version:       snapshotFormatVersion,
		Config:        h.config,
		Dimensions:    h.dimensions,
		IDs:           append([]int64(nil), h.ids...),
		Levels:        append([]int(nil), h.levels...),
		Vectors:       append([]float32(nil), h.vectors...),
		Neighbors:     copyNeighbors(h.neighbors),
		EntryPoint:    h.entryPoint,
		HasEntryPoint: h.hasEntryPoint,
		MaxLevel:      h.maxLevel,
	}
	h.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(file).Encode(&snap); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// Atomic replace: readers never observe a half-written artifact.
	return os.Rename(tmp, path)
}

// Load reads an index from path. Returns (nil, nil) when the file is missing,
// corrupt, from an unknown format version, or built for a different dimension
// than wantDim — in all of those cases the caller should rebuild from the
// chunk store. A non-nil error is returned only for unexpected I/O failures.
func Load(path string, wantDim int) (*Index, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var snap snapshot
	if err := msgpack.NewDecoder(file).Decode(&snap); err != nil {
		return nil, nil
	}
	if snap.Version != snapshotFormatVersion {
		return nil, nil
	}
	if snap.Dimensions <= 0 || (wantDim > 0 && snap.Dimensions != wantDim) {
		return nil, nil
	}
	if len(snap.IDs) != len(snap.Levels) ||
		len(snap.IDs) != len(snap.Neighbors) ||
		len(snap.Vectors) != len(snap.IDs)*snap.Dimensions {
		return nil, nil
	}

	h := New(snap.Dimensions, snap.Config)
	h.ids = snap.IDs
	h.levels = snap.Levels
	h.vectors = snap.Vectors
	h.neighbors = snap.Neighbors
	h.entryPoint = snap.EntryPoint
	h.hasEntryPoint = snap.HasEntryPoint
	h.maxLevel = snap.MaxLevel
	return h, nil
}

func copyNeighbors(src [][][]uint32) [][][]uint32 {
	out := make([][][]uint32, len(src))
	for i, levels := range src {
		out[i] = make([][]uint32, len(levels))
		for l, links := range levels {
			out[i][l] = append([]uint32(nil), links...)
		}
	}
	return out
}
