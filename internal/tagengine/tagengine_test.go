package tagengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	cases := map[string]bool{
		"devops":                    true,
		"devops:kubernetes":         true,
		"devops:kubernetes:pods":    true,
		"a:b:c:d:e":                 true,
		"a:b:c:d:e:f":               false, // too deep
		"":                          false,
		"Devops":                    false, // uppercase
		"devops:":                   false,
		"devops::kubernetes":        false,
		"dev_ops":                   false, // underscore not allowed
		"devops:devops":             false, // root == leaf
		"devops:kubernetes:devops":  false, // duplicate segment
	}
	for name, want := range cases {
		assert.Equal(t, want, Valid(name), "Valid(%q)", name)
	}
}

func TestAncestors(t *testing.T) {
	chain, err := Ancestors("devops:kubernetes:pods")
	require.NoError(t, err)
	assert.Equal(t, []string{"devops", "devops:kubernetes", "devops:kubernetes:pods"}, chain)
}

func TestExpandAncestorsDedupesSharedPrefix(t *testing.T) {
	out, err := ExpandAncestors([]string{"devops:kubernetes:pods", "devops:kubernetes:services"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"devops", "devops:kubernetes", "devops:kubernetes:pods", "devops:kubernetes:services",
	}, out)
}

func TestParseHierarchy(t *testing.T) {
	h, err := ParseHierarchy("devops:kubernetes:pods")
	require.NoError(t, err)
	assert.Equal(t, "devops:kubernetes:pods", h.Full)
	assert.Equal(t, "devops", h.Root)
	assert.Equal(t, "devops:kubernetes", h.Parent)
	assert.Equal(t, 3, h.Depth)
}

func TestSearchPrefixBoundary(t *testing.T) {
	candidates := []string{"devops", "devops:kubernetes", "devops:kubernetes:pods", "devopsx:other"}
	out := SearchPrefix("devops", candidates)
	assert.ElementsMatch(t, []string{"devops", "devops:kubernetes", "devops:kubernetes:pods"}, out)
}

func TestSearchFuzzy(t *testing.T) {
	candidates := []string{"kubernetes", "postgres", "kubernetis"}
	matches := SearchFuzzy("kubernetes", candidates, 0.3, 10)
	require.NotEmpty(t, matches)
	assert.Equal(t, "kubernetes", matches[0].Name)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.0001)
}

type fakeStore struct {
	tags map[string]int64
	next int64
}

func newFakeStore() *fakeStore { return &fakeStore{tags: map[string]int64{}, next: 1} }

func (f *fakeStore) FindByNames(ctx context.Context, names []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, n := range names {
		if id, ok := f.tags[n]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func (f *fakeStore) CreateMissing(ctx context.Context, names []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, n := range names {
		f.tags[n] = f.next
		out[n] = f.next
		f.next++
	}
	return out, nil
}

func TestFindOrCreateWithAncestors(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	got, err := FindOrCreateWithAncestors(ctx, store, "devops:kubernetes:pods")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Contains(t, got, "devops")
	assert.Contains(t, got, "devops:kubernetes")
	assert.Contains(t, got, "devops:kubernetes:pods")

	// second tag sharing the prefix must not recreate shared ancestors
	got2, err := FindOrCreateWithAncestors(ctx, store, "devops:kubernetes:services")
	require.NoError(t, err)
	assert.Equal(t, got["devops"], got2["devops"])
	assert.Equal(t, got["devops:kubernetes"], got2["devops:kubernetes"])
}
