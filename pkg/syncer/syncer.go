// Package syncer reconciles the chunk store and vector index with the live
// record store. Each run diffs by display code, removes orphaned chunks, adds
// chunks for new entities, and rebuilds the index artifact when anything
// changed. Runs are serialized; the diff is recomputed from scratch every
// run, so an interrupted sync is safe to re-run.
package syncer

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scpdb/semsearch/pkg/chunking"
	"github.com/scpdb/semsearch/pkg/chunkstore"
	"github.com/scpdb/semsearch/pkg/records"
	"github.com/scpdb/semsearch/pkg/searchconfig"
	"github.com/scpdb/semsearch/pkg/vectorindex"
)

// Embedder produces vectors for batches of texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Stats summarizes one sync run.
type Stats struct {
	EntitiesAdded   int
	EntitiesRemoved int
	EntitiesFailed  int
	ChunksWritten   int
	Rebuilt         bool
}

// Engine runs the sync state machine.
type Engine struct {
	cfg     *searchconfig.Config
	records *records.Store
	chunks  *chunkstore.Store
	index   *vectorindex.Manager
	embed   Embedder
	log     zerolog.Logger

	mu sync.Mutex // serializes runs
}

// New creates a sync engine over the given stores.
func New(cfg *searchconfig.Config, rec *records.Store, chunks *chunkstore.Store, index *vectorindex.Manager, embed Embedder, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		records: rec,
		chunks:  chunks,
		index:   index,
		embed:   embed,
		log:     log,
	}
}

// Sync runs one full reconciliation pass. Entities whose embedding fails are
// skipped for this run and retried on the next one; their failure does not
// abort the run.
func (e *Engine) Sync(ctx context.Context) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.log.With().Str("sync_run", uuid.NewString()).Logger()
	var stats Stats

	entities, err := e.records.Snapshot(ctx)
	if err != nil {
		return stats, fmt.Errorf("snapshotting record store: %w", err)
	}

	storedCodes, err := e.chunks.DistinctCodes(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing stored codes: %w", err)
	}

	// Diff by display code. Entities whose text changed under an unchanged
	// code are not detected; they refresh only when their code leaves and
	// re-enters the snapshot.
	currentCodes := make(map[string]struct{}, len(entities))
	var toAdd []records.Entity
	for _, ent := range entities {
		currentCodes[ent.DisplayCode] = struct{}{}
		if _, ok := storedCodes[ent.DisplayCode]; !ok {
			toAdd = append(toAdd, ent)
		}
	}
	var toRemove []string
	for code := range storedCodes {
		if _, ok := currentCodes[code]; !ok {
			toRemove = append(toRemove, code)
		}
	}

	log.Info().
		Int("entities", len(entities)).
		Int("to_add", len(toAdd)).
		Int("to_remove", len(toRemove)).
		Msg("sync diff computed")

	if len(toRemove) > 0 {
		if err := e.chunks.DeleteByCodes(ctx, toRemove); err != nil {
			return stats, fmt.Errorf("removing orphaned chunks: %w", err)
		}
		stats.EntitiesRemoved = len(toRemove)
	}

	for _, ent := range toAdd {
		written, err := e.addEntity(ctx, ent)
		if err != nil {
			stats.EntitiesFailed++
			log.Warn().Err(err).
				Str("code", ent.DisplayCode).
				Msg("skipping entity, will retry on next sync")
			continue
		}
		stats.EntitiesAdded++
		stats.ChunksWritten += written
	}

	needRebuild := stats.EntitiesAdded > 0 || stats.EntitiesRemoved > 0 || !e.artifactExists()
	if !needRebuild && e.index.Size() == 0 {
		// Covers a corrupt artifact that still exists on disk: the in-memory
		// index is empty even though the store holds vectors.
		if n, err := e.chunks.Count(ctx); err == nil && n > 0 {
			needRebuild = true
		}
	}
	if needRebuild {
		if err := e.rebuild(ctx); err != nil {
			// The prior artifact stays in place; queries serve stale results
			// until the next successful rebuild.
			return stats, fmt.Errorf("rebuilding vector index: %w", err)
		}
		stats.Rebuilt = true
	}

	log.Info().
		Int("added", stats.EntitiesAdded).
		Int("removed", stats.EntitiesRemoved).
		Int("failed", stats.EntitiesFailed).
		Bool("rebuilt", stats.Rebuilt).
		Msg("sync complete")

	return stats, nil
}

// addEntity chunks one entity, embeds the chunks in bounded batches, and
// commits them in a single upsert. It returns the number of chunks written.
func (e *Engine) addEntity(ctx context.Context, ent records.Entity) (int, error) {
	texts, err := chunking.Split(ent.Text, e.cfg.Chunking.Unit, e.cfg.Chunking.Size, e.cfg.Chunking.Overlap)
	if err != nil {
		return 0, fmt.Errorf("chunking %s: %w", ent.DisplayCode, err)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	batchSize := e.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embed.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return 0, fmt.Errorf("embedding batch for %s: %w", ent.DisplayCode, err)
		}
		vectors = append(vectors, batch...)
	}

	if err := e.chunks.UpsertEntityChunks(ctx, ent.ID, ent.Type, ent.DisplayCode, texts, vectors); err != nil {
		return 0, fmt.Errorf("storing chunks for %s: %w", ent.DisplayCode, err)
	}
	return len(texts), nil
}

// rebuild regenerates the index artifact from the full chunk store contents,
// in ascending chunk id order so the persisted mapping is reproducible.
func (e *Engine) rebuild(ctx context.Context) error {
	stored, err := e.chunks.AllVectors(ctx)
	if err != nil {
		return fmt.Errorf("reading stored vectors: %w", err)
	}

	ids := make([]int64, len(stored))
	vectors := make([][]float32, len(stored))
	for i, sv := range stored {
		ids[i] = sv.ChunkID
		vectors[i] = sv.Vector
	}

	return e.index.Rebuild(ids, vectors)
}

func (e *Engine) artifactExists() bool {
	_, err := os.Stat(e.cfg.Index.Path)
	return err == nil
}
