package chunkstore

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scpdb/semsearch/pkg/records"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("initializing chunk store: %v", err)
	}
	return s
}

func TestOpenCreatesSchemaAndSharesHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.sqlite")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.UpsertEntityChunks(ctx, 1, records.TypeSCP, "SCP-173", []string{"a statue"}, nil); err != nil {
		t.Fatalf("upsert into freshly opened store: %v", err)
	}

	// The exposed handle sees the same database file.
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		t.Fatalf("query via DB(): %v", err)
	}
	if n != 1 {
		t.Errorf("chunk count via shared handle = %d, want 1", n)
	}
}

func TestUpsertReplacesEntityChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	texts := []string{"the sculpture moves", "when unobserved"}
	vectors := [][]float32{{1, 0}, {0, 1}}
	if err := s.UpsertEntityChunks(ctx, 1, records.TypeSCP, "SCP-173", texts, vectors); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Upsert again with different content: old rows must be gone.
	if err := s.UpsertEntityChunks(ctx, 1, records.TypeSCP, "SCP-173", []string{"revised text"}, [][]float32{{0.5, 0.5}}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count after re-upsert = %d, want 1", n)
	}

	vecs, err := s.AllVectors(ctx)
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	if vecs[0].Vector[0] != 0.5 || vecs[0].Vector[1] != 0.5 {
		t.Errorf("vector = %v, want [0.5 0.5]", vecs[0].Vector)
	}
}

func TestUpsertRejectsMismatchedVectors(t *testing.T) {
	s := newTestStore(t)

	err := s.UpsertEntityChunks(context.Background(), 1, records.TypeSCP, "SCP-001",
		[]string{"a", "b"}, [][]float32{{1}})
	if err == nil {
		t.Fatal("expected error for mismatched texts/vectors")
	}
}

func TestDeleteByCodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, code := range []string{"SCP-173", "SCP-049", "INC-1"} {
		if err := s.UpsertEntityChunks(ctx, 1, records.TypeSCP, code, []string{"text for " + code}, nil); err != nil {
			t.Fatalf("upsert %s: %v", code, err)
		}
	}

	if err := s.DeleteByCodes(ctx, []string{"SCP-173", "INC-1"}); err != nil {
		t.Fatalf("DeleteByCodes: %v", err)
	}
	if err := s.DeleteByCodes(ctx, nil); err != nil {
		t.Fatalf("DeleteByCodes with empty set: %v", err)
	}

	codes, err := s.DistinctCodes(ctx)
	if err != nil {
		t.Fatalf("DistinctCodes: %v", err)
	}
	if len(codes) != 1 {
		t.Fatalf("expected 1 remaining code, got %d", len(codes))
	}
	if _, ok := codes["SCP-049"]; !ok {
		t.Errorf("surviving codes = %v, want SCP-049", codes)
	}
}

func TestAllVectorsOrderedAndSkipsNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertEntityChunks(ctx, 1, records.TypeSCP, "SCP-173",
		[]string{"a", "b"}, [][]float32{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("upsert with vectors: %v", err)
	}
	if err := s.UpsertEntityChunks(ctx, 2, records.TypeIncident, "INC-1",
		[]string{"no embedding yet"}, nil); err != nil {
		t.Fatalf("upsert without vectors: %v", err)
	}

	vecs, err := s.AllVectors(ctx)
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors (NULL rows skipped), got %d", len(vecs))
	}
	if vecs[0].ChunkID >= vecs[1].ChunkID {
		t.Errorf("vectors not in ascending chunk id order: %d, %d", vecs[0].ChunkID, vecs[1].ChunkID)
	}
	if vecs[1].Vector[0] != 3 {
		t.Errorf("second vector = %v, want [3 4]", vecs[1].Vector)
	}
}

func TestMatchFindsKeywordHits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertEntityChunks(ctx, 1, records.TypeSCP, "SCP-173",
		[]string{"a concrete sculpture that moves when unobserved"}, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertEntityChunks(ctx, 2, records.TypeSCP, "SCP-049",
		[]string{"a humanoid entity known as the plague doctor"}, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ids, err := s.Match(ctx, "plague doctor", 10)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(ids))
	}

	chunks, err := s.GetByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(chunks) != 1 || chunks[0].DisplayCode != "SCP-049" {
		t.Errorf("hit = %+v, want SCP-049 chunk", chunks)
	}
}

func TestMatchSanitizesHostileInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertEntityChunks(ctx, 1, records.TypeSCP, "SCP-173",
		[]string{"sculpture"}, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Quotes, parens, and operators must not break the FTS query.
	for _, q := range []string{`"sculpture" OR (`, `scu*lpt:ure^`, `' --`, `a | b`} {
		if _, err := s.Match(ctx, q, 10); err != nil {
			t.Errorf("Match(%q) failed: %v", q, err)
		}
	}

	// A query with no usable terms returns nothing rather than erroring.
	ids, err := s.Match(ctx, `" ' ( )`, 10)
	if err != nil {
		t.Fatalf("Match on empty-after-sanitize query: %v", err)
	}
	if ids != nil {
		t.Errorf("expected no hits, got %v", ids)
	}
}

func TestGetByIDsSkipsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertEntityChunks(ctx, 1, records.TypeSCP, "SCP-173",
		[]string{"sculpture"}, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	chunks, err := s.GetByIDs(ctx, []int64{1, 9999})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("expected only the existing chunk, got %d rows", len(chunks))
	}

	chunks, err = s.GetByIDs(ctx, nil)
	if err != nil {
		t.Fatalf("GetByIDs with no ids: %v", err)
	}
	if chunks != nil {
		t.Errorf("expected nil for empty id set, got %v", chunks)
	}
}

func TestByEntityReturnsChunksInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertEntityChunks(ctx, 7, records.TypeSCP, "SCP-173",
		[]string{"first chunk", "second chunk", "third chunk"}, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertEntityChunks(ctx, 7, records.TypeIncident, "INC-7",
		[]string{"same id, different type"}, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	chunks, err := s.ByEntity(ctx, records.TypeSCP, 7)
	if err != nil {
		t.Fatalf("ByEntity: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Order != i {
			t.Errorf("chunk %d has order %d", i, c.Order)
		}
	}
	if chunks[1].Text != "second chunk" {
		t.Errorf("chunk 1 text = %q", chunks[1].Text)
	}

	none, err := s.ByEntity(ctx, records.TypeFacility, 7)
	if err != nil {
		t.Fatalf("ByEntity miss: %v", err)
	}
	if none != nil {
		t.Errorf("expected no chunks, got %v", none)
	}
}

func TestEmbeddingBlobRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, float32(math.Pi), 0}
	got, err := decodeEmbedding(encodeEmbedding(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("dimension = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("component %d = %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestDecodeEmbeddingRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"too short":    {0x01, 0x00},
		"bad tag":      {0x7f, 1, 0, 0, 0, 0, 0, 0, 0},
		"length drift": {0x01, 2, 0, 0, 0, 0, 0, 0, 0},
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeEmbedding(blob); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}
