// Package search implements hybrid retrieval: three independent signals
// (dense vector similarity, Postgres full-text rank, and tag hierarchy
// depth) run concurrently, each normalized on its own scale, then fused
// by Reciprocal Rank Fusion into one ranked, fully-annotated result list.
package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/cache"
	"htm-memory/internal/domain/node"
)

// RRFConstant is the rank-damping constant in 1/(k+rank), rank 1-based.
const RRFConstant = 60

// DefaultLimit bounds result size and the depth each retriever searches
// to when the caller doesn't specify one.
const DefaultLimit = 20

// Timeframe is the half-open interval [Since, Until) a retriever filters
// candidates to. Either bound may be nil, meaning unbounded on that side.
type Timeframe struct {
	Since, Until *time.Time
}

// Candidate is one retriever's raw, unnormalized hit.
type Candidate struct {
	NodeID node.ID
	Score  float64
}

// VectorRetriever selects nodes with a non-null embedding inside the
// timeframe, ranked by cosine similarity (Score ∈ [0,1]).
type VectorRetriever func(ctx context.Context, queryEmbedding []float32, tf *Timeframe, limit int) ([]Candidate, error)

// FullTextRetriever selects nodes ranked by Postgres full-text rank
// (Score is provider-defined and positive, not bounded to [0,1]).
type FullTextRetriever func(ctx context.Context, queryText string, tf *Timeframe, limit int) ([]Candidate, error)

// TagRetriever returns, for every candidate node carrying any extracted
// tag (or an ancestor of one), that node's own current tag names. The
// tag-depth score itself is computed by this package, not the retriever,
// since it depends only on tag names and the extracted chains.
type TagRetriever func(ctx context.Context, extractedTags []string, tf *Timeframe, limit int) (map[node.ID][]string, error)

// TagExtractor pulls candidate tag names out of free-text query, used
// when a Request supplies QueryText but not ExtractedTags directly.
type TagExtractor func(ctx context.Context, text string) ([]string, error)

// Request describes one hybrid search call.
type Request struct {
	QueryText      string
	QueryEmbedding []float32
	ExtractedTags  []string
	Timeframe      *Timeframe
	Limit          int
}

func (r Request) limit() int {
	if r.Limit <= 0 {
		return DefaultLimit
	}
	return r.Limit
}

// Result is one ranked hit with full per-retriever provenance.
type Result struct {
	NodeID   node.ID
	RRFScore float64
	Sources  []string // subset of {"vector","fulltext","tags"}, in that order

	VectorRank   *int
	FullTextRank *int
	TagRank      *int

	Similarity    *float64 // normalized vector score, present iff "vector" ∈ Sources
	TextRank      *float64 // normalized full-text score, present iff "fulltext" ∈ Sources
	TagDepthScore *float64 // raw tag-depth score (already bounded to [0,1.1]), present iff "tags" ∈ Sources
	MatchedTags   []string
}

// Searcher fuses the three retrievers. Any retriever left nil is skipped
// entirely (e.g. no embedding provider configured yet).
type Searcher struct {
	Vector       VectorRetriever
	FullText     FullTextRetriever
	Tag          TagRetriever
	TagExtractor TagExtractor

	cache *cache.Cache
}

// New creates a Searcher, optionally backed by a shared query cache.
func New(vector VectorRetriever, fullText FullTextRetriever, tag TagRetriever, extractor TagExtractor, c *cache.Cache) *Searcher {
	if c == nil {
		c = cache.New(cache.DefaultTTL, cache.DefaultSize)
	}
	return &Searcher{Vector: vector, FullText: fullText, Tag: tag, TagExtractor: extractor, cache: c}
}

// Hybrid runs every configured retriever concurrently, normalizes each
// retriever's raw scores independently, fuses the resulting rankings with
// RRF, and returns results sorted by descending RRF score.
func (s *Searcher) Hybrid(ctx context.Context, req Request) ([]Result, error) {
	extractedTags := req.ExtractedTags
	if len(extractedTags) == 0 && s.TagExtractor != nil && req.QueryText != "" {
		tags, err := s.TagExtractor(ctx, req.QueryText)
		if err != nil {
			return nil, apperrors.NewTag(err)
		}
		extractedTags = tags
	}

	key := cache.Key("search.Hybrid", map[string]interface{}{
		"q": req.QueryText, "tags": extractedTags, "limit": req.limit(),
	})
	if v, ok := s.cache.Get(key); ok {
		return v.([]Result), nil
	}

	vectorScores, fullTextScores, tagScores, tagsOf, err := s.fanOut(ctx, req, extractedTags)
	if err != nil {
		return nil, err
	}

	vectorScores = normalize(vectorScores)
	fullTextScores = normalize(fullTextScores)
	// tag-depth scores are already bounded by their own formula; no min-max pass.

	vectorRanks := rankOf(vectorScores)
	fullTextRanks := rankOf(fullTextScores)
	tagRanks := rankOf(tagScores)

	results := fuse(vectorScores, fullTextScores, tagScores, vectorRanks, fullTextRanks, tagRanks, tagsOf)

	sort.Slice(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}
		return results[i].NodeID < results[j].NodeID
	})
	if len(results) > req.limit() {
		results = results[:req.limit()]
	}

	s.cache.Put(key, results)
	return results, nil
}

func (s *Searcher) fanOut(ctx context.Context, req Request, extractedTags []string) (
	vector, fullText, tags map[node.ID]float64, matchedTags map[node.ID][]string, err error,
) {
	var wg sync.WaitGroup
	var vectorErr, fullTextErr, tagErr error
	vector = map[node.ID]float64{}
	fullText = map[node.ID]float64{}
	tags = map[node.ID]float64{}
	matchedTags = map[node.ID][]string{}

	if s.Vector != nil && len(req.QueryEmbedding) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidates, e := s.Vector(ctx, req.QueryEmbedding, req.Timeframe, req.limit())
			if e != nil {
				vectorErr = apperrors.NewEmbedding(e)
				return
			}
			for _, c := range candidates {
				vector[c.NodeID] = c.Score
			}
		}()
	}

	if s.FullText != nil && req.QueryText != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidates, e := s.FullText(ctx, req.QueryText, req.Timeframe, req.limit())
			if e != nil {
				fullTextErr = apperrors.NewInternal("full-text retriever failed", e)
				return
			}
			for _, c := range candidates {
				fullText[c.NodeID] = c.Score
			}
		}()
	}

	if s.Tag != nil && len(extractedTags) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidateTags, e := s.Tag(ctx, extractedTags, req.Timeframe, req.limit())
			if e != nil {
				tagErr = apperrors.NewTag(e)
				return
			}
			for id, nodeTags := range candidateTags {
				score, matched, e := TagDepthScore(extractedTags, nodeTags)
				if e != nil {
					continue
				}
				tags[id] = score
				matchedTags[id] = matched
			}
		}()
	}

	wg.Wait()

	if vectorErr != nil {
		return nil, nil, nil, nil, vectorErr
	}
	if fullTextErr != nil {
		return nil, nil, nil, nil, fullTextErr
	}
	if tagErr != nil {
		return nil, nil, nil, nil, tagErr
	}
	return vector, fullText, tags, matchedTags, nil
}

// rankOf assigns each id a 1-based rank by descending score, with ties
// broken by ascending node id for determinism.
func rankOf(scores map[node.ID]float64) map[node.ID]int {
	ids := make([]node.ID, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	ranks := make(map[node.ID]int, len(ids))
	for i, id := range ids {
		ranks[id] = i + 1
	}
	return ranks
}

func fuse(
	vectorScores, fullTextScores, tagScores map[node.ID]float64,
	vectorRanks, fullTextRanks, tagRanks map[node.ID]int,
	matchedTags map[node.ID][]string,
) []Result {
	byID := make(map[node.ID]*Result)

	get := func(id node.ID) *Result {
		r, ok := byID[id]
		if !ok {
			r = &Result{NodeID: id}
			byID[id] = r
		}
		return r
	}

	for id, rank := range vectorRanks {
		r := get(id)
		score := vectorScores[id]
		r.Similarity = &score
		rankCopy := rank
		r.VectorRank = &rankCopy
		r.RRFScore += 1.0 / float64(RRFConstant+rank)
		r.Sources = append(r.Sources, "vector")
	}
	for id, rank := range fullTextRanks {
		r := get(id)
		score := fullTextScores[id]
		r.TextRank = &score
		rankCopy := rank
		r.FullTextRank = &rankCopy
		r.RRFScore += 1.0 / float64(RRFConstant+rank)
		r.Sources = append(r.Sources, "fulltext")
	}
	for id, rank := range tagRanks {
		r := get(id)
		score := tagScores[id]
		r.TagDepthScore = &score
		rankCopy := rank
		r.TagRank = &rankCopy
		r.RRFScore += 1.0 / float64(RRFConstant+rank)
		r.Sources = append(r.Sources, "tags")
		r.MatchedTags = matchedTags[id]
	}

	results := make([]Result, 0, len(byID))
	for _, r := range byID {
		results = append(results, *r)
	}
	return results
}

// normalize min-max scales scores to [0,1]: the minimum maps to 0 and the
// maximum to 1. A set of identical scores maps every entry to 1.0. A
// single-entry set is returned unchanged, since there is no spread to
// normalize against. Keys absent from scores are never synthesized.
func normalize(scores map[node.ID]float64) map[node.ID]float64 {
	if len(scores) == 0 {
		return scores
	}
	if len(scores) == 1 {
		out := make(map[node.ID]float64, 1)
		for id, v := range scores {
			out[id] = v
		}
		return out
	}

	min, max := minMax(scores)
	out := make(map[node.ID]float64, len(scores))
	if min == max {
		for id := range scores {
			out[id] = 1.0
		}
		return out
	}
	for id, v := range scores {
		out[id] = (v - min) / (max - min)
	}
	return out
}

func minMax(scores map[node.ID]float64) (min, max float64) {
	first := true
	for _, v := range scores {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
