package search

import (
	"context"
	"math"
	"strings"
)

// Scorer rates how relevant each doc is to the query. Higher is better.
// *vectordb.RerankClient satisfies this for the cross-encoder strategy.
type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// LexicalScorer is a pure-computation relevance fallback: TF-IDF cosine
// similarity between the query and each candidate, with IDF computed over
// the candidate set itself. No external service involved, so it can never
// be unavailable.
type LexicalScorer struct{}

func (LexicalScorer) Score(_ context.Context, query string, docs []string) ([]float64, error) {
	n := len(docs)
	if n == 0 {
		return nil, nil
	}

	docTerms := make([]map[string]float64, n)
	df := make(map[string]int)
	for i, doc := range docs {
		tf := termFreq(doc)
		docTerms[i] = tf
		for term := range tf {
			df[term]++
		}
	}

	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log(float64(1+n)/float64(1+count)) + 1
	}

	queryVec := termFreq(query)
	var queryNorm float64
	for term, tf := range queryVec {
		w := tf * idf[term]
		queryVec[term] = w
		queryNorm += w * w
	}
	queryNorm = math.Sqrt(queryNorm)

	scores := make([]float64, n)
	if queryNorm == 0 {
		return scores, nil
	}

	for i, tf := range docTerms {
		var dot, docNorm float64
		for term, f := range tf {
			w := f * idf[term]
			docNorm += w * w
			if qw, ok := queryVec[term]; ok {
				dot += w * qw
			}
		}
		if docNorm > 0 {
			scores[i] = dot / (queryNorm * math.Sqrt(docNorm))
		}
	}
	return scores, nil
}

func termFreq(text string) map[string]float64 {
	tf := make(map[string]float64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if word == "" {
			continue
		}
		tf[word]++
	}
	return tf
}
