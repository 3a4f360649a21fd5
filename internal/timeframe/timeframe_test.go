package timeframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.July, 31, 15, 0, 0, 0, time.UTC) // a Friday

func TestExtractLastWeekIsRollingSevenDays(t *testing.T) {
	e := Extract("what did we discuss last week about PostgreSQL", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	require.NotNil(t, e.Value.Range)
	assert.Equal(t, "what did we discuss about PostgreSQL", e.Query)
	assert.Equal(t, "last week", e.Extracted)
	assert.True(t, e.Value.Range.Start.Equal(fixedNow.AddDate(0, 0, -7)))
	assert.True(t, e.Value.Range.End.Equal(fixedNow))
}

func TestExtractUnknownPhraseLeavesQueryAndTimeframeNil(t *testing.T) {
	e := Extract("show me notes about PostgreSQL", fixedNow, time.Monday)
	assert.Nil(t, e.Value)
	assert.Equal(t, "show me notes about PostgreSQL", e.Query)
}

func TestExtractYesterdayIsFullCalendarDay(t *testing.T) {
	e := Extract("what happened yesterday", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	r := e.Value.Range
	wantStart := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, time.July, 31, 0, 0, 0, 0, time.UTC)
	assert.True(t, r.Start.Equal(wantStart))
	assert.True(t, r.End.Equal(wantEnd))
}

func TestExtractFewDaysAgoExpandsToThree(t *testing.T) {
	e := Extract("notes from few days ago", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	wantEnd := time.Date(2026, time.July, 29, 0, 0, 0, 0, time.UTC)
	assert.True(t, e.Value.Range.End.Equal(wantEnd))
}

func TestExtractTwoWeekendsAgo(t *testing.T) {
	e := Extract("notes from 2 weekends ago", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	r := e.Value.Range
	assert.Equal(t, time.Saturday, r.Start.Weekday())
	assert.Equal(t, time.Monday, r.End.Weekday())
	assert.Equal(t, 2*24*time.Hour, r.End.Sub(r.Start))
}

func TestExtractWeekendBeforeLastMatchesTwoWeekendsAgo(t *testing.T) {
	a := Extract("x 2 weekends ago", fixedNow, time.Monday)
	b := Extract("x weekend before last", fixedNow, time.Monday)
	assert.Equal(t, a.Value.Range.Start, b.Value.Range.Start)
	assert.Equal(t, a.Value.Range.End, b.Value.Range.End)
}

func TestExtractLastWeekendIsMostRecent(t *testing.T) {
	e := Extract("catch up from last weekend", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	r := e.Value.Range
	assert.Equal(t, time.Saturday, r.Start.Weekday())
	assert.True(t, r.Start.Before(fixedNow))
}

func TestExtractSinceYesterdayReturnsPoint(t *testing.T) {
	e := Extract("changes since yesterday", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	require.NotNil(t, e.Value.Point)
	assert.Nil(t, e.Value.Range)
	wantPoint := time.Date(2026, time.July, 30, 0, 0, 0, 0, time.UTC)
	assert.True(t, e.Value.Point.Equal(wantPoint))
}

func TestExtractInThePastFewHours(t *testing.T) {
	e := Extract("updates in the past few hours", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	assert.True(t, e.Value.Range.Start.Equal(fixedNow.Add(-3*time.Hour)))
	assert.True(t, e.Value.Range.End.Equal(fixedNow))
}

func TestExtractRecentlyIsRollingDay(t *testing.T) {
	e := Extract("recently added notes", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	assert.True(t, e.Value.Range.Start.Equal(fixedNow.Add(-24*time.Hour)))
}

func TestExtractNumberWordQuantifier(t *testing.T) {
	e := Extract("three weeks ago we talked about this", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	assert.True(t, e.Value.Range.Start.Equal(fixedNow.AddDate(0, 0, -21)))
	assert.True(t, e.Value.Range.End.Equal(fixedNow.AddDate(0, 0, -14)))
}

func TestExtractThisMorning(t *testing.T) {
	e := Extract("what did I write this morning", fixedNow, time.Monday)
	require.NotNil(t, e.Value)
	wantStart := time.Date(2026, time.July, 31, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, time.July, 31, 12, 0, 0, 0, time.UTC)
	assert.True(t, e.Value.Range.Start.Equal(wantStart))
	assert.True(t, e.Value.Range.End.Equal(wantEnd))
}

func TestNormalizePassesThroughRange(t *testing.T) {
	r := Range{Start: fixedNow.AddDate(0, 0, -1), End: fixedNow}
	v, err := Normalize(r, fixedNow, time.Monday)
	require.NoError(t, err)
	require.NotNil(t, v.Range)
	assert.Equal(t, r, *v.Range)
}

func TestNormalizeParsesRFC3339String(t *testing.T) {
	v, err := Normalize("2026-07-01T00:00:00Z", fixedNow, time.Monday)
	require.NoError(t, err)
	require.NotNil(t, v.Point)
}

func TestNormalizeParsesDateOnlyString(t *testing.T) {
	v, err := Normalize("2026-07-01", fixedNow, time.Monday)
	require.NoError(t, err)
	require.NotNil(t, v.Point)
	assert.Equal(t, 2026, v.Point.Year())
	assert.Equal(t, time.Month(7), v.Point.Month())
}

func TestNormalizeDelegatesUnparsedStringToExtract(t *testing.T) {
	v, err := Normalize("last week", fixedNow, time.Monday)
	require.NoError(t, err)
	require.NotNil(t, v.Range)
}

func TestNormalizeRejectsUnparsedGarbage(t *testing.T) {
	_, err := Normalize("not a time at all", fixedNow, time.Monday)
	require.Error(t, err)
}

func TestNormalizeTwoElementArrayFormsRange(t *testing.T) {
	v, err := Normalize([]interface{}{"2026-07-01T00:00:00Z", "2026-07-02T00:00:00Z"}, fixedNow, time.Monday)
	require.NoError(t, err)
	require.NotNil(t, v.Range)
	assert.True(t, v.Range.Start.Before(v.Range.End))
}

func TestNormalizeNilReturnsNil(t *testing.T) {
	v, err := Normalize(nil, fixedNow, time.Monday)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNormalizeAutoExtractsFromQueryWhenAuto(t *testing.T) {
	v, q, err := NormalizeAuto("auto", "what happened last week", fixedNow, time.Monday)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "what happened", q)
}

func TestNormalizeAutoPassesThroughExplicitValue(t *testing.T) {
	r := Range{Start: fixedNow.AddDate(0, 0, -2), End: fixedNow}
	v, q, err := NormalizeAuto(r, "unchanged query", fixedNow, time.Monday)
	require.NoError(t, err)
	require.NotNil(t, v.Range)
	assert.Equal(t, "unchanged query", q)
}

func TestRangeContains(t *testing.T) {
	r := Range{Start: fixedNow.AddDate(0, 0, -1), End: fixedNow}
	assert.True(t, r.Contains(fixedNow.AddDate(0, 0, -1)))
	assert.False(t, r.Contains(fixedNow))
	assert.True(t, r.Contains(fixedNow.Add(-time.Hour)))
}
