// Package search runs the query pipeline: an exact-designation fast path,
// hybrid vector+keyword candidate retrieval, relevance scoring, and
// per-entity de-duplication. Every run is stateless; failures degrade to an
// empty result list rather than surfacing errors to callers.
package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/scpdb/semsearch/pkg/chunkstore"
	"github.com/scpdb/semsearch/pkg/records"
	"github.com/scpdb/semsearch/pkg/searchconfig"
	"github.com/scpdb/semsearch/pkg/util"
	"github.com/scpdb/semsearch/pkg/vectorindex"
)

// Embedder produces a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one search hit.
type Result struct {
	EntityID    int64              `json:"id"`
	EntityType  records.EntityType `json:"type"`
	DisplayCode string             `json:"code"`
	Title       string             `json:"title"`
	Subtitle    string             `json:"subtitle"`
	Snippet     string             `json:"snippet"`
	Score       float64            `json:"score"`
}

// fastPathPattern picks anomaly designations out of free text. "scp 49",
// "SCP-049" and "SCP-0049" all normalize to the same padded code.
var fastPathPattern = regexp.MustCompile(`(?i)\bSCP[- ]?0*([0-9]{1,4})\b`)

// Service orchestrates one search call end to end.
type Service struct {
	cfg      *searchconfig.Config
	records  *records.Store
	chunks   *chunkstore.Store
	index    *vectorindex.Manager
	embed    Embedder
	scorer   Scorer
	fallback Scorer
	log      zerolog.Logger
}

// New creates a search service. scorer is the configured relevance strategy;
// when it fails at query time the service falls back to lexical scoring so a
// rerank outage degrades quality instead of emptying results.
func New(cfg *searchconfig.Config, rec *records.Store, chunks *chunkstore.Store, index *vectorindex.Manager, embed Embedder, scorer Scorer, log zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		records:  rec,
		chunks:   chunks,
		index:    index,
		embed:    embed,
		scorer:   scorer,
		fallback: LexicalScorer{},
		log:      log,
	}
}

// Search runs the full pipeline. It never returns an error to the caller:
// unavailable services and empty indexes both yield an empty slice, with the
// cause logged.
func (s *Service) Search(ctx context.Context, query string, topk int) []Result {
	if topk <= 0 {
		topk = s.cfg.Search.TopK
	}

	if res, ok := s.fastPath(ctx, query); ok {
		return res
	}

	results, err := s.retrieve(ctx, query, topk)
	if err != nil {
		s.log.Warn().Err(err).Str("query", query).Msg("search degraded to empty results")
		return []Result{}
	}
	return results
}

// fastPath answers exact-designation queries straight from the record store.
// The second return value reports whether the fast path produced an answer;
// a designation that matches the pattern but no record falls through to
// retrieval.
func (s *Service) fastPath(ctx context.Context, query string) ([]Result, bool) {
	m := fastPathPattern.FindStringSubmatch(query)
	if m == nil {
		return nil, false
	}
	num, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, false
	}
	code := fmt.Sprintf("SCP-%03d", num)

	row, err := s.records.FindSCPByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, records.ErrNotFound) {
			s.log.Warn().Err(err).Str("code", code).Msg("fast-path lookup failed")
		}
		return nil, false
	}

	return []Result{{
		EntityID:    row.ID,
		EntityType:  records.TypeSCP,
		DisplayCode: row.Code,
		Title:       row.Title,
		Subtitle:    row.ObjectClass,
		Snippet:     util.Truncate(row.Description, s.cfg.Search.FastPathChars),
		Score:       1.0,
	}}, true
}

func (s *Service) retrieve(ctx context.Context, query string, topk int) ([]Result, error) {
	indexSize := s.index.Size()
	if indexSize == 0 {
		return []Result{}, nil
	}

	queryVec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Over-fetch to leave room for per-entity de-duplication.
	queryK := 2 * topk
	if queryK > indexSize {
		queryK = indexSize
	}
	hits, err := s.index.Query(queryVec, queryK)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	candidates := make(map[int64]struct{}, len(hits))
	for _, hit := range hits {
		candidates[hit.ID] = struct{}{}
	}

	keywordLimit := s.cfg.Search.KeywordLimit
	if keywordLimit <= 0 {
		keywordLimit = topk
	}
	keywordIDs, err := s.chunks.Match(ctx, query, keywordLimit)
	if err != nil {
		// The vector leg alone still produces useful results.
		s.log.Warn().Err(err).Msg("keyword leg failed, continuing with vector candidates")
	}
	for _, id := range keywordIDs {
		candidates[id] = struct{}{}
	}

	if len(candidates) == 0 {
		return []Result{}, nil
	}

	ids := make([]int64, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	chunks, err := s.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching candidate chunks: %w", err)
	}
	if len(chunks) == 0 {
		return []Result{}, nil
	}

	scores := s.scoreChunks(ctx, query, chunks)

	return s.assemble(ctx, chunks, scores, topk), nil
}

func (s *Service) scoreChunks(ctx context.Context, query string, chunks []chunkstore.Chunk) []float64 {
	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Text
	}

	scores, err := s.scorer.Score(ctx, query, docs)
	if err == nil && len(scores) == len(docs) {
		return scores
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("reranker unavailable, falling back to lexical scoring")
	}

	scores, err = s.fallback.Score(ctx, query, docs)
	if err != nil || len(scores) != len(docs) {
		// Lexical scoring is pure computation and cannot realistically fail;
		// keep the candidates in retrieval order if it somehow does.
		return make([]float64, len(docs))
	}
	return scores
}

// assemble sorts candidates by score, keeps the best chunk per entity, and
// decorates each surviving hit with its display title and subtitle.
func (s *Service) assemble(ctx context.Context, chunks []chunkstore.Chunk, scores []float64, topk int) []Result {
	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return chunks[order[a]].ID < chunks[order[b]].ID
	})

	results := make([]Result, 0, topk)
	seen := make(map[string]struct{})
	for _, i := range order {
		c := chunks[i]
		key := string(c.EntityType) + "_" + strconv.FormatInt(c.EntityID, 10)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		title, subtitle, err := s.records.TitleSubtitle(ctx, c.EntityType, c.EntityID)
		if err != nil {
			// The entity vanished between indexing and now; drop the hit.
			if !errors.Is(err, records.ErrNotFound) {
				s.log.Warn().Err(err).Str("code", c.DisplayCode).Msg("detail fetch failed, dropping hit")
			}
			continue
		}

		results = append(results, Result{
			EntityID:    c.EntityID,
			EntityType:  c.EntityType,
			DisplayCode: c.DisplayCode,
			Title:       title,
			Subtitle:    subtitle,
			Snippet:     util.Truncate(c.Text, s.cfg.Search.SnippetChars),
			Score:       scores[i],
		})
		if len(results) >= topk {
			break
		}
	}
	return results
}
