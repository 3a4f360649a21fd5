package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htm-memory/internal/cache"
	"htm-memory/internal/domain/node"
)

func candidates(pairs ...interface{}) []Candidate {
	var out []Candidate
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Candidate{NodeID: node.ID(pairs[i].(int)), Score: pairs[i+1].(float64)})
	}
	return out
}

func TestNormalizeSpreadsScoresIntoZeroOne(t *testing.T) {
	in := map[node.ID]float64{1: 0.2, 2: 0.8, 3: 0.5}
	out := normalize(in)
	assert.Equal(t, 0.0, out[1])
	assert.Equal(t, 1.0, out[2])
	assert.InDelta(t, 0.5, out[3], 1e-9)
}

func TestNormalizeIdenticalScoresAllMapToOne(t *testing.T) {
	in := map[node.ID]float64{1: 0.4, 2: 0.4, 3: 0.4}
	out := normalize(in)
	for _, v := range out {
		assert.Equal(t, 1.0, v)
	}
}

func TestNormalizeSingleElementUnchanged(t *testing.T) {
	in := map[node.ID]float64{1: 0.37}
	out := normalize(in)
	assert.Equal(t, 0.37, out[1])
}

func TestNormalizeDoesNotSynthesizeMissingKeys(t *testing.T) {
	in := map[node.ID]float64{1: 0.2, 2: 0.9}
	out := normalize(in)
	assert.Len(t, out, 2)
	_, ok := out[3]
	assert.False(t, ok)
}

func TestTagDepthScoreFullChainMatchScoresOne(t *testing.T) {
	score, matched, err := TagDepthScore([]string{"devops:k8s:pods"}, []string{"devops:k8s:pods"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, []string{"devops:k8s:pods"}, matched)
}

func TestTagDepthScorePartialMatchScoresDepthOverMaxDepth(t *testing.T) {
	score, matched, err := TagDepthScore([]string{"devops:k8s:pods"}, []string{"devops:k8s"})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, score, 1e-9)
	assert.Equal(t, []string{"devops:k8s"}, matched)
}

func TestTagDepthScoreNoMatchScoresZero(t *testing.T) {
	score, matched, err := TagDepthScore([]string{"devops:k8s:pods"}, []string{"cooking:baking"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
	assert.Nil(t, matched)
}

func TestTagDepthScoreTwoChainsMatchedAddsBonus(t *testing.T) {
	score, matched, err := TagDepthScore(
		[]string{"devops:k8s:pods", "devops:ci"},
		[]string{"devops:k8s:pods", "devops:ci"},
	)
	require.NoError(t, err)
	assert.InDelta(t, 1.05, score, 1e-9)
	assert.ElementsMatch(t, []string{"devops:k8s:pods", "devops:ci"}, matched)
}

func TestTagDepthScoreCappedAtOnePointOne(t *testing.T) {
	score, _, err := TagDepthScore(
		[]string{"a:b", "c:d", "e:f"},
		[]string{"a:b", "c:d", "e:f"},
	)
	require.NoError(t, err)
	assert.LessOrEqual(t, score, TagDepthScoreCap)
}

func TestTagDepthScoreEmptyExtractionScoresZero(t *testing.T) {
	score, matched, err := TagDepthScore(nil, []string{"devops:k8s"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
	assert.Nil(t, matched)
}

// Mirrors the canonical three-retriever merge scenario: node 2 is found by
// all three signals and must outrank every single-source node.
func TestHybridFusesAllThreeSignals(t *testing.T) {
	s := New(
		func(ctx context.Context, emb []float32, tf *Timeframe, limit int) ([]Candidate, error) {
			return candidates(1, 0.9, 2, 0.8), nil
		},
		func(ctx context.Context, q string, tf *Timeframe, limit int) ([]Candidate, error) {
			return candidates(2, 1.5, 3, 1.2), nil
		},
		func(ctx context.Context, tags []string, tf *Timeframe, limit int) (map[node.ID][]string, error) {
			return map[node.ID][]string{
				2: {"devops:k8s:pods"},
				4: {"devops:ci"},
			}, nil
		},
		nil,
		cache.New(cache.DefaultTTL, cache.DefaultSize),
	)

	results, err := s.Hybrid(context.Background(), Request{
		QueryText:      "k8s pods",
		QueryEmbedding: []float32{0.1, 0.2},
		ExtractedTags:  []string{"devops:k8s:pods", "devops:ci"},
		Limit:          10,
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	top := results[0]
	assert.Equal(t, node.ID(2), top.NodeID)
	assert.ElementsMatch(t, []string{"vector", "fulltext", "tags"}, top.Sources)
	require.NotNil(t, top.Similarity)
	require.NotNil(t, top.TextRank)
	require.NotNil(t, top.TagDepthScore)

	for _, r := range results[1:] {
		assert.Less(t, r.RRFScore, top.RRFScore)
	}
}

func TestHybridSkipsUnconfiguredRetrievers(t *testing.T) {
	s := New(nil, func(ctx context.Context, q string, tf *Timeframe, limit int) ([]Candidate, error) {
		return candidates(5, 3.0, 6, 1.0), nil
	}, nil, nil, cache.New(cache.DefaultTTL, cache.DefaultSize))

	results, err := s.Hybrid(context.Background(), Request{QueryText: "hello"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, node.ID(5), results[0].NodeID)
	assert.Equal(t, []string{"fulltext"}, results[0].Sources)
	assert.Nil(t, results[0].Similarity)
	assert.Nil(t, results[0].TagDepthScore)
}

func TestHybridDerivesTagsFromExtractorWhenNotProvided(t *testing.T) {
	var gotTags []string
	s := New(nil, nil, func(ctx context.Context, tags []string, tf *Timeframe, limit int) (map[node.ID][]string, error) {
		gotTags = tags
		return map[node.ID][]string{7: {"devops:k8s"}}, nil
	}, func(ctx context.Context, text string) ([]string, error) {
		return []string{"devops:k8s"}, nil
	}, cache.New(cache.DefaultTTL, cache.DefaultSize))

	results, err := s.Hybrid(context.Background(), Request{QueryText: "k8s stuff"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"devops:k8s"}, gotTags)
}

func TestHybridPropagatesRetrieverError(t *testing.T) {
	boom := errors.New("connection reset")
	s := New(func(ctx context.Context, emb []float32, tf *Timeframe, limit int) ([]Candidate, error) {
		return nil, boom
	}, nil, nil, nil, cache.New(cache.DefaultTTL, cache.DefaultSize))

	_, err := s.Hybrid(context.Background(), Request{QueryEmbedding: []float32{0.1}})
	require.Error(t, err)
}

func TestHybridRespectsLimit(t *testing.T) {
	s := New(nil, func(ctx context.Context, q string, tf *Timeframe, limit int) ([]Candidate, error) {
		return candidates(1, 0.9, 2, 0.8, 3, 0.7, 4, 0.6), nil
	}, nil, nil, cache.New(cache.DefaultTTL, cache.DefaultSize))

	results, err := s.Hybrid(context.Background(), Request{QueryText: "x", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
