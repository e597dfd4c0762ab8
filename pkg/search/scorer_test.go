package search

import (
	"context"
	"testing"
)

func TestLexicalScorerRanksByOverlap(t *testing.T) {
	docs := []string{
		"a concrete sculpture that moves when unobserved",
		"a humanoid plague doctor entity",
		"routine site maintenance schedule",
	}

	scores, err := LexicalScorer{}.Score(context.Background(), "plague doctor", docs)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(scores) != len(docs) {
		t.Fatalf("got %d scores for %d docs", len(scores), len(docs))
	}

	if scores[1] <= scores[0] || scores[1] <= scores[2] {
		t.Errorf("expected doc 1 to rank highest, got %v", scores)
	}
	if scores[2] != 0 {
		t.Errorf("doc with no term overlap scored %v, want 0", scores[2])
	}
}

func TestLexicalScorerDegenerateInputs(t *testing.T) {
	scores, err := LexicalScorer{}.Score(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Score on empty docs: %v", err)
	}
	if scores != nil {
		t.Errorf("expected nil scores, got %v", scores)
	}

	scores, err = LexicalScorer{}.Score(context.Background(), "", []string{"some text"})
	if err != nil {
		t.Fatalf("Score on empty query: %v", err)
	}
	if scores[0] != 0 {
		t.Errorf("empty query scored %v, want 0", scores[0])
	}
}

func TestTermFreqNormalizesTokens(t *testing.T) {
	tf := termFreq(`The "Doctor" doctor, DOCTOR!`)
	if tf["doctor"] != 3 {
		t.Errorf(`tf["doctor"] = %v, want 3`, tf["doctor"])
	}
	if _, ok := tf["the"]; !ok {
		t.Error("expected lowercase token for The")
	}
}
