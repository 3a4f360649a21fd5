package search

import (
	"strings"

	"htm-memory/internal/tagengine"
)

// TagDepthScoreBonus is added when a node matches two or more distinct
// extracted-tag chains.
const TagDepthScoreBonus = 0.05

// TagDepthScoreCap bounds the final score, matching a fully-matched chain
// (1.0) plus the multi-chain bonus with room to spare.
const TagDepthScoreCap = 1.1

// TagDepthScore scores how well candidateTags (a node's own tags) match
// extractedChains (the tag names pulled from a search query).
//
// For every extracted chain, every ancestor of that chain is a possible
// match at a depth between 1 and the chain's own full depth. A candidate
// tag matching an ancestor scores depth/fullDepth for that chain; when the
// candidate matches the chain at several ancestor levels, the deepest
// (highest-ratio) match wins. The node's score is the mean of its best
// ratio across every extracted chain, with TagDepthScoreBonus added when
// at least two distinct chains were matched, capped at TagDepthScoreCap.
//
// An extracted chain the candidate doesn't touch at all contributes 0 to
// the mean. Invalid chain names are skipped rather than failing the whole
// score, since a free-text extractor can emit something malformed.
func TagDepthScore(extractedChains []string, candidateTags []string) (float64, []string, error) {
	if len(extractedChains) == 0 {
		return 0, nil, nil
	}

	candidateSet := make(map[string]bool, len(candidateTags))
	for _, t := range candidateTags {
		candidateSet[strings.ToLower(t)] = true
	}

	var ratios []float64
	var matchedChains int
	matchedTags := make([]string, 0)
	seenMatch := make(map[string]bool)

	for _, chain := range extractedChains {
		h, err := tagengine.ParseHierarchy(chain)
		if err != nil {
			continue
		}

		best := 0.0
		var bestAncestor string
		for depth := 1; depth <= h.Depth; depth++ {
			ancestor := strings.Join(h.Levels[:depth], ":")
			if !candidateSet[strings.ToLower(ancestor)] {
				continue
			}
			ratio := float64(depth) / float64(h.Depth)
			if ratio > best {
				best = ratio
				bestAncestor = ancestor
			}
		}
		ratios = append(ratios, best)
		if best > 0 {
			matchedChains++
			if !seenMatch[bestAncestor] {
				seenMatch[bestAncestor] = true
				matchedTags = append(matchedTags, bestAncestor)
			}
		}
	}

	if len(ratios) == 0 {
		return 0, nil, nil
	}

	sum := 0.0
	for _, r := range ratios {
		sum += r
	}
	score := sum / float64(len(ratios))
	if matchedChains >= 2 {
		score += TagDepthScoreBonus
	}
	if score > TagDepthScoreCap {
		score = TagDepthScoreCap
	}
	if matchedChains == 0 {
		return 0, nil, nil
	}
	return score, matchedTags, nil
}
