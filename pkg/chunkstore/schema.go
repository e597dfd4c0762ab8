package chunkstore

// Schema defines the SQLite tables for persisted chunks. The FTS5 table is
// external-content over chunks, kept in sync by triggers, so chunk text is
// stored once.
const schema = `
-- Chunks table: one row per text chunk of one indexed entity
CREATE TABLE IF NOT EXISTS chunks (
    chunk_id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id INTEGER NOT NULL,
    entity_type TEXT NOT NULL,
    display_code TEXT NOT NULL,
    chunk_order INTEGER NOT NULL,   -- position of this chunk within its entity
    text TEXT,
    embedding BLOB                  -- encoded query-ready vector, see blob.go
);

CREATE INDEX IF NOT EXISTS idx_chunks_display_code ON chunks(display_code);
CREATE INDEX IF NOT EXISTS idx_chunks_entity ON chunks(entity_type, entity_id);

-- Full-text search over chunk text
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    text,
    content='chunks',
    content_rowid='chunk_id',
    tokenize='unicode61'
);

-- Triggers to keep FTS in sync
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, text) VALUES (NEW.chunk_id, NEW.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', OLD.chunk_id, OLD.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', OLD.chunk_id, OLD.text);
    INSERT INTO chunks_fts(rowid, text) VALUES (NEW.chunk_id, NEW.text);
END;
`
