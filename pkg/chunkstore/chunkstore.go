// Package chunkstore persists text chunks and their embeddings in SQLite,
// with an FTS5 leg for keyword retrieval. Chunk IDs are stable identifiers:
// the vector index refers to chunks by chunk_id and nothing else.
package chunkstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scpdb/semsearch/pkg/records"
)

// Chunk is one stored chunk row, without its embedding.
type Chunk struct {
	ID          int64
	EntityID    int64
	EntityType  records.EntityType
	DisplayCode string
	Order       int
	Text        string
}

// StoredVector pairs a chunk id with its decoded embedding.
type StoredVector struct {
	ChunkID int64
	Vector  []float32
}

// Store handles all chunk table operations.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the chunk database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open database handle and ensures the schema.
// The caller keeps ownership of the handle.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create chunk schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so callers that Open the store can share
// the connection with other adapters on the same database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertEntityChunks replaces every chunk stored under displayCode with the
// given texts and vectors, in one transaction. texts and vectors must be
// parallel slices; a nil vectors slice stores NULL embeddings.
func (s *Store) UpsertEntityChunks(ctx context.Context, entityID int64, entityType records.EntityType, displayCode string, texts []string, vectors [][]float32) error {
	if vectors != nil && len(vectors) != len(texts) {
		return fmt.Errorf("have %d texts but %d vectors", len(texts), len(vectors))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chunk upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE display_code = ?`, displayCode); err != nil {
		return fmt.Errorf("failed to clear old chunks for %s: %w", displayCode, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (entity_id, entity_type, display_code, chunk_order, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, text := range texts {
		var blob []byte
		if vectors != nil {
			blob = encodeEmbedding(vectors[i])
		}
		if _, err := stmt.ExecContext(ctx, entityID, string(entityType), displayCode, i, text, blob); err != nil {
			return fmt.Errorf("failed to insert chunk %d for %s: %w", i, displayCode, err)
		}
	}

	return tx.Commit()
}

// DeleteByCodes removes every chunk belonging to the given display codes.
func (s *Store) DeleteByCodes(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(codes))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM chunks WHERE display_code IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to delete chunks by code: %w", err)
	}
	return nil
}

// DistinctCodes returns the set of display codes currently stored.
func (s *Store) DistinctCodes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT display_code FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored codes: %w", err)
	}
	defer rows.Close()

	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scanning stored code: %w", err)
		}
		codes[code] = struct{}{}
	}
	return codes, rows.Err()
}

// AllVectors returns every stored embedding in ascending chunk_id order.
// Rows with NULL embeddings are skipped.
func (s *Store) AllVectors(ctx context.Context) ([]StoredVector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, embedding FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY chunk_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored vectors: %w", err)
	}
	defer rows.Close()

	var out []StoredVector
	for rows.Next() {
		var sv StoredVector
		var blob []byte
		if err := rows.Scan(&sv.ChunkID, &blob); err != nil {
			return nil, fmt.Errorf("scanning stored vector: %w", err)
		}
		sv.Vector, err = decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", sv.ChunkID, err)
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}

// Match performs an FTS5 keyword search and returns matching chunk ids.
func (s *Store) Match(ctx context.Context, query string, limit int) ([]int64, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts)
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("FTS search query: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning FTS result: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByIDs fetches chunk rows for the given ids. IDs with no matching row are
// silently skipped, so the result may be shorter than the input.
func (s *Store) GetByIDs(ctx context.Context, ids []int64) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunk_id, entity_id, entity_type, display_code, chunk_order, text
		FROM chunks
		WHERE chunk_id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var entityType string
		var text sql.NullString
		if err := rows.Scan(&c.ID, &c.EntityID, &entityType, &c.DisplayCode, &c.Order, &text); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		c.EntityType = records.EntityType(entityType)
		c.Text = text.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ByEntity returns the chunks stored for one entity in chunk order.
func (s *Store) ByEntity(ctx context.Context, entityType records.EntityType, entityID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, entity_id, entity_type, display_code, chunk_order, text
		FROM chunks
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY chunk_order ASC
	`, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entity chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var et string
		var text sql.NullString
		if err := rows.Scan(&c.ID, &c.EntityID, &et, &c.DisplayCode, &c.Order, &text); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		c.EntityType = records.EntityType(et)
		c.Text = text.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// buildFTSQuery converts user input to FTS5 query syntax.
// Uses OR between terms for broad recall.
// Examples:
//   - "cat dog"   -> "cat" OR "dog"
//   - "cat | dog" -> "cat" OR "dog"
func buildFTSQuery(query string) string {
	query = strings.ReplaceAll(query, `"`, "")
	query = strings.ReplaceAll(query, `'`, "")
	query = strings.ReplaceAll(query, "|", " ")

	words := strings.Fields(query)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 1 {
			continue
		}
		w = escapeFTSWord(w)
		if w != "" {
			quoted = append(quoted, fmt.Sprintf(`"%s"`, w))
		}
	}

	if len(quoted) == 0 {
		return ""
	}

	return strings.Join(quoted, " OR ")
}

// escapeFTSWord strips special FTS5 characters from a word
func escapeFTSWord(word string) string {
	replacer := strings.NewReplacer(
		`"`, ``,
		`'`, ``,
		`(`, ``,
		`)`, ``,
		`*`, ``,
		`:`, ``,
		`^`, ``,
	)
	return replacer.Replace(word)
}
