package vectordb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRerankClient_FlatScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"scores": [0.9, 0.1, 0.5]}`)
	}))
	defer srv.Close()

	c := NewRerankClient(RerankConfig{BaseURL: srv.URL, Model: "test"})

	got, err := c.Score(context.Background(), "query", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(got) != 3 || got[0] != 0.9 || got[1] != 0.1 || got[2] != 0.5 {
		t.Fatalf("scores = %v", got)
	}
}

func TestRerankClient_IndexedResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// TEI returns results sorted by relevance, not input order.
		io.WriteString(w, `{"results": [
			{"index": 2, "relevance_score": 0.8},
			{"index": 0, "relevance_score": 0.3},
			{"index": 1, "relevance_score": 0.1}
		]}`)
	}))
	defer srv.Close()

	c := NewRerankClient(RerankConfig{BaseURL: srv.URL, Model: "test"})

	got, err := c.Score(context.Background(), "query", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got[0] != 0.3 || got[1] != 0.1 || got[2] != 0.8 {
		t.Fatalf("scores not realigned to input order: %v", got)
	}
}

func TestRerankClient_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"scores": [0.9]}`)
	}))
	defer srv.Close()

	c := NewRerankClient(RerankConfig{BaseURL: srv.URL, Model: "test"})

	if _, err := c.Score(context.Background(), "query", []string{"a", "b"}); err == nil {
		t.Fatal("expected error on score count mismatch")
	}
}

func TestRerankClient_EmptyDocs(t *testing.T) {
	c := NewRerankClient(RerankConfig{BaseURL: "http://127.0.0.1:1", Model: "test"})
	got, err := c.Score(context.Background(), "query", nil)
	if err != nil || got != nil {
		t.Fatalf("empty docs: got %v, %v", got, err)
	}
}
