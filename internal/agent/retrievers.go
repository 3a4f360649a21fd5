package agent

import (
	"context"
	"strings"
	"time"

	"htm-memory/internal/domain/node"
	"htm-memory/internal/search"
	"htm-memory/internal/store"
	"htm-memory/internal/tagengine"
)

const fuzzyTagMinSimilarity = 0.4

func timeframeBounds(tf *search.Timeframe) (since, until *time.Time) {
	if tf == nil {
		return nil, nil
	}
	return tf.Since, tf.Until
}

// vectorRetriever adapts Store.VectorSearch to search.VectorRetriever.
func vectorRetriever(s *store.Store) search.VectorRetriever {
	return func(ctx context.Context, queryEmbedding []float32, tf *search.Timeframe, limit int) ([]search.Candidate, error) {
		since, until := timeframeBounds(tf)
		scored, err := s.VectorSearch(ctx, queryEmbedding, since, until, limit)
		if err != nil {
			return nil, err
		}
		return toCandidates(scored), nil
	}
}

// fullTextRetriever adapts Store.FullTextSearch to search.FullTextRetriever.
func fullTextRetriever(s *store.Store) search.FullTextRetriever {
	return func(ctx context.Context, queryText string, tf *search.Timeframe, limit int) ([]search.Candidate, error) {
		since, until := timeframeBounds(tf)
		scored, err := s.FullTextSearch(ctx, queryText, since, until, limit)
		if err != nil {
			return nil, err
		}
		return toCandidates(scored), nil
	}
}

// tagRetriever adapts Store.TagMatches to search.TagRetriever.
func tagRetriever(s *store.Store) search.TagRetriever {
	return func(ctx context.Context, extractedTags []string, tf *search.Timeframe, limit int) (map[node.ID][]string, error) {
		since, until := timeframeBounds(tf)
		return s.TagMatches(ctx, extractedTags, since, until, limit)
	}
}

func toCandidates(scored []store.ScoredNode) []search.Candidate {
	out := make([]search.Candidate, len(scored))
	for i, s := range scored {
		out[i] = search.Candidate{NodeID: s.NodeID, Score: s.Score}
	}
	return out
}

// fuzzyTagExtractor pulls candidate tag names out of free text by matching
// each word against the live ontology with tagengine's trigram fallback —
// the in-process stand-in for a dedicated NLP tagger, grounded on the same
// scorer SearchFuzzy already exposes for interactive lookup.
func fuzzyTagExtractor(tags *store.TagStore) search.TagExtractor {
	return func(ctx context.Context, text string) ([]string, error) {
		names, err := tags.AllTagNames(ctx)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, nil
		}

		seen := make(map[string]bool)
		var out []string
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,!?;:\"'()")
			if word == "" {
				continue
			}
			for _, m := range tagengine.SearchFuzzy(word, names, fuzzyTagMinSimilarity, 3) {
				if !seen[m.Name] {
					seen[m.Name] = true
					out = append(out, m.Name)
				}
			}
		}
		return out, nil
	}
}
