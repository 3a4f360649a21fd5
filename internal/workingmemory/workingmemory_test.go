package workingmemory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndTotalTokens(t *testing.T) {
	m := New()
	m.Add("a", "content a", 40, 0, false)
	m.Add("b", "content b", 40, 0, false)
	assert.Equal(t, 80, m.TotalTokens())
	assert.True(t, m.HasSpace(20, 100))
	assert.False(t, m.HasSpace(30, 100))
}

func TestEvictToMakeSpaceRemovesLowestScore(t *testing.T) {
	m := New()
	m.Add("old-unused", "x", 40, 0, false)
	// Force distinct creation times so ages differ deterministically.
	time.Sleep(2 * time.Millisecond)
	m.Add("frequent", "y", 40, 100, false)
	time.Sleep(2 * time.Millisecond)
	m.Add("new", "z", 40, 0, false)

	require.True(t, m.HasSpace(0, 120))
	require.False(t, m.HasSpace(40, 120)) // adding a 4th 40-token entry would overflow 120

	evicted := m.EvictToMakeSpace(40)
	require.Len(t, evicted, 1)
	// "old-unused" has access_count 0 and is oldest -> lowest score, evicted first.
	assert.Equal(t, "old-unused", evicted[0].Key)
	assert.LessOrEqual(t, m.TotalTokens(), 120-40) // 80 remaining
}

func TestAssembleContextUnknownStrategy(t *testing.T) {
	m := New()
	m.Add("a", "hello", 10, 0, false)
	_, err := m.AssembleContext("bogus", 100)
	assert.Error(t, err)
}

func TestAssembleContextFrequent(t *testing.T) {
	m := New()
	m.Add("low", "low freq", 10, 1, false)
	m.Add("high", "high freq", 10, 50, false)

	out, err := m.AssembleContext(StrategyFrequent, 100)
	require.NoError(t, err)
	assert.Equal(t, "high freq\n\nlow freq", out)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	m := New()
	m.Add("a", "hello", 10, 0, false)
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	m.Add("b", "world", 10, 0, false)
	assert.Len(t, snap, 1) // snapshot unaffected by later mutation
}
