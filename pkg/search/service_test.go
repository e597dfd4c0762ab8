package search

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/scpdb/semsearch/pkg/chunkstore"
	"github.com/scpdb/semsearch/pkg/hnsw"
	"github.com/scpdb/semsearch/pkg/records"
	"github.com/scpdb/semsearch/pkg/searchconfig"
	"github.com/scpdb/semsearch/pkg/vectorindex"
)

const recordSchema = `
CREATE TABLE SCP (
	scp_id INTEGER PRIMARY KEY AUTOINCREMENT,
	scp_code TEXT, title TEXT, object_class TEXT,
	full_description TEXT, containment_procedures TEXT
);
CREATE TABLE PERSONNEL (
	person_id INTEGER PRIMARY KEY AUTOINCREMENT,
	callsign TEXT, given_name TEXT, surname TEXT, role TEXT, notes TEXT
);
CREATE TABLE MOBILE_TASK_FORCE (
	mtf_id INTEGER PRIMARY KEY AUTOINCREMENT,
	designation TEXT, nickname TEXT, primary_role TEXT, notes TEXT
);
CREATE TABLE FACILITY (
	facility_id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT, name TEXT, purpose TEXT, city TEXT, country TEXT
);
CREATE TABLE INCIDENT (
	incident_id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT, incident_date TEXT, summary TEXT, severity_level TEXT
);
`

// fixedEmbedder returns one preset vector for every query.
type fixedEmbedder struct {
	vec []float32
	err error
}

func (f *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, f.err
}

type failingScorer struct{}

func (failingScorer) Score(_ context.Context, _ string, _ []string) ([]float64, error) {
	return nil, errors.New("rerank service down")
}

type fixture struct {
	db     *sql.DB
	svc    *Service
	chunks *chunkstore.Store
	index  *vectorindex.Manager
	embed  *fixedEmbedder
	cfg    *searchconfig.Config
}

func newFixture(t *testing.T, scorer Scorer) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(recordSchema); err != nil {
		t.Fatalf("creating record schema: %v", err)
	}

	chunks, err := chunkstore.NewWithDB(db)
	if err != nil {
		t.Fatalf("initializing chunk store: %v", err)
	}

	cfg := searchconfig.Default()
	cfg.Embedding.Dimension = 4
	cfg.Search.TopK = 10
	cfg.Index.Path = filepath.Join(t.TempDir(), "index.bin")

	index := vectorindex.NewManager(cfg.Index.Path, 4, hnsw.DefaultConfig(), zerolog.Nop())
	embed := &fixedEmbedder{vec: []float32{1, 0, 0, 0}}

	svc := New(cfg, records.New(db), chunks, index, embed, scorer, zerolog.Nop())
	return &fixture{db: db, svc: svc, chunks: chunks, index: index, embed: embed, cfg: cfg}
}

// seed inserts an SCP record, stores its chunks with the given vectors, and
// rebuilds the index over everything stored so far.
func (f *fixture) seed(t *testing.T, code, title, desc string, chunkTexts []string, vectors [][]float32) {
	t.Helper()

	res, err := f.db.Exec(
		`INSERT INTO SCP (scp_code, title, object_class, full_description) VALUES (?, ?, 'Euclid', ?)`,
		code, title, desc)
	if err != nil {
		t.Fatalf("inserting %s: %v", code, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId: %v", err)
	}

	ctx := context.Background()
	if err := f.chunks.UpsertEntityChunks(ctx, id, records.TypeSCP, code, chunkTexts, vectors); err != nil {
		t.Fatalf("upserting chunks for %s: %v", code, err)
	}

	stored, err := f.chunks.AllVectors(ctx)
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	ids := make([]int64, len(stored))
	vecs := make([][]float32, len(stored))
	for i, sv := range stored {
		ids[i] = sv.ChunkID
		vecs[i] = sv.Vector
	}
	if err := f.index.Rebuild(ids, vecs); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
}

func TestFastPathReturnsExactMatch(t *testing.T) {
	f := newFixture(t, LexicalScorer{})
	ctx := context.Background()

	longDesc := strings.Repeat("A humanoid entity in the garb of a plague doctor. ", 20)
	if _, err := f.db.Exec(
		`INSERT INTO SCP (scp_code, title, object_class, full_description) VALUES ('SCP-049', 'Plague Doctor', 'Euclid', ?)`,
		longDesc); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for _, query := range []string{"SCP-049", "tell me about scp 49", "what is SCP-0049?"} {
		t.Run(query, func(t *testing.T) {
			results := f.svc.Search(ctx, query, 5)
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			r := results[0]
			if r.Score != 1.0 {
				t.Errorf("score = %v, want 1.0", r.Score)
			}
			if r.EntityType != records.TypeSCP || r.Title != "Plague Doctor" || r.Subtitle != "Euclid" {
				t.Errorf("unexpected result: %+v", r)
			}
			if len([]rune(r.Snippet)) > f.cfg.Search.FastPathChars+3 {
				t.Errorf("snippet not truncated: %d runes", len([]rune(r.Snippet)))
			}
		})
	}
}

func TestFastPathMissFallsThroughToRetrieval(t *testing.T) {
	f := newFixture(t, LexicalScorer{})

	// "SCP-999" matches the pattern but no record exists; with an empty
	// index retrieval yields an empty result set, not an error or a hit.
	results := f.svc.Search(context.Background(), "SCP-999", 5)
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

func TestEmptyIndexYieldsEmptyResults(t *testing.T) {
	f := newFixture(t, LexicalScorer{})

	results := f.svc.Search(context.Background(), "plague doctor", 5)
	if len(results) != 0 {
		t.Errorf("expected empty results on empty index, got %d", len(results))
	}
}

func TestEmbedderOutageYieldsEmptyResults(t *testing.T) {
	f := newFixture(t, LexicalScorer{})
	f.seed(t, "SCP-173", "The Sculpture", "a statue",
		[]string{"a concrete sculpture that moves"}, [][]float32{{1, 0, 0, 0}})

	f.embed.err = errors.New("embedding service down")
	results := f.svc.Search(context.Background(), "moving statue", 5)
	if len(results) != 0 {
		t.Errorf("expected empty results when embedder is down, got %d", len(results))
	}
}

func TestDeduplicatesByEntity(t *testing.T) {
	f := newFixture(t, LexicalScorer{})
	f.seed(t, "SCP-173", "The Sculpture", "a statue",
		[]string{
			"a concrete sculpture that moves when unobserved",
			"the sculpture attacks by snapping the neck",
		},
		[][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}})

	results := f.svc.Search(context.Background(), "sculpture", 5)
	if len(results) != 1 {
		t.Fatalf("got %d results for a single entity, want 1", len(results))
	}
	if results[0].DisplayCode != "SCP-173" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestKeywordLegSurfacesVectorMisses(t *testing.T) {
	f := newFixture(t, LexicalScorer{})

	// Two entities: one aligned with the query vector, one orthogonal but a
	// perfect keyword match. Both must appear in the candidates.
	f.seed(t, "SCP-173", "The Sculpture", "a statue",
		[]string{"a concrete sculpture"}, [][]float32{{1, 0, 0, 0}})
	f.seed(t, "SCP-049", "Plague Doctor", "a doctor",
		[]string{"a humanoid plague doctor entity"}, [][]float32{{0, 0, 0, 1}})

	results := f.svc.Search(context.Background(), "plague doctor", 5)

	var found bool
	for _, r := range results {
		if r.DisplayCode == "SCP-049" {
			found = true
		}
	}
	if !found {
		t.Errorf("keyword match SCP-049 missing from results: %+v", results)
	}
}

func TestRerankerOutageFallsBackToLexical(t *testing.T) {
	f := newFixture(t, failingScorer{})
	f.seed(t, "SCP-173", "The Sculpture", "a statue",
		[]string{"a concrete sculpture that moves"}, [][]float32{{1, 0, 0, 0}})

	results := f.svc.Search(context.Background(), "concrete sculpture", 5)
	if len(results) != 1 {
		t.Fatalf("expected lexical fallback to keep results, got %d", len(results))
	}
	if results[0].Score <= 0 {
		t.Errorf("lexical fallback score = %v, want > 0", results[0].Score)
	}
}

func TestTopKLimitsDistinctEntities(t *testing.T) {
	f := newFixture(t, LexicalScorer{})
	f.seed(t, "SCP-173", "The Sculpture", "", []string{"anomaly one text"}, [][]float32{{1, 0, 0, 0}})
	f.seed(t, "SCP-049", "Plague Doctor", "", []string{"anomaly two text"}, [][]float32{{0.9, 0.1, 0, 0}})
	f.seed(t, "SCP-096", "Shy Guy", "", []string{"anomaly three text"}, [][]float32{{0.8, 0.2, 0, 0}})

	results := f.svc.Search(context.Background(), "anomaly text", 2)
	if len(results) != 2 {
		t.Errorf("got %d results, want topk=2", len(results))
	}
}

func TestVanishedEntityIsDropped(t *testing.T) {
	f := newFixture(t, LexicalScorer{})
	f.seed(t, "SCP-173", "The Sculpture", "", []string{"a concrete sculpture"}, [][]float32{{1, 0, 0, 0}})

	// Remove the record but leave its chunks and index entry stale.
	if _, err := f.db.Exec(`DELETE FROM SCP`); err != nil {
		t.Fatalf("deleting record: %v", err)
	}

	results := f.svc.Search(context.Background(), "concrete sculpture", 5)
	if len(results) != 0 {
		t.Errorf("stale hit for vanished entity: %+v", results)
	}
}

func TestFastPathPattern(t *testing.T) {
	cases := []struct {
		query string
		want  string // "" means no match
	}{
		{"SCP-173", "SCP-173"},
		{"scp 49", "SCP-049"},
		{"SCP-0049", "SCP-049"},
		{"what about scp-1000?", "SCP-1000"},
		{"scp12345", ""},  // five digits, not a designation
		{"telescope 50", ""},
		{"plague doctor", ""},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			m := fastPathPattern.FindStringSubmatch(tc.query)
			if tc.want == "" {
				if m != nil {
					t.Errorf("unexpected match %v", m)
				}
				return
			}
			if m == nil {
				t.Fatal("expected a match")
			}
		})
	}
}
