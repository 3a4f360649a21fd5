// Package timeframe turns a natural-language phrase ("last week", "2
// weekends ago") into a concrete time window, and strips the recognized
// phrase out of the surrounding query text so the rest can still be used
// for full-text or tag retrieval.
package timeframe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"htm-memory/internal/apperrors"
)

// Range is a half-open interval [Start, End).
type Range struct {
	Start, End time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Value is either a single instant or a bounded range — never both.
// "since yesterday" resolves to a Point (an open lower bound, paired with
// "now" by the caller); "last week" resolves to a Range.
type Value struct {
	Point *time.Time
	Range *Range
}

// Auto is the sentinel a caller passes as the timeframe argument to mean
// "derive it from the query text", mirroring the Agent Facade's
// timeframe=:auto mode.
const Auto = "auto"

// Few is what the word "few" expands to.
const Few = 3

// Extraction is what Extract returns: the query with any recognized
// timeframe phrase removed, the timeframe itself (nil if none was
// recognized), and the exact phrase that was matched.
type Extraction struct {
	Query     string
	Value     *Value
	Extracted string
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "few": Few,
}

const numberWordAlt = `(?:\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|few)`

func parseQuantifier(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, ok := numberWords[s]; ok {
		return n
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return 1
}

type matcher struct {
	re    *regexp.Regexp
	build func(m []string, now time.Time, weekStart time.Weekday) *Value
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// dayRange returns the calendar-day range `daysAgo` days before now
// (0 = today, 1 = yesterday).
func dayRange(now time.Time, daysAgo int) *Value {
	end := startOfDay(now).AddDate(0, 0, -daysAgo+1)
	start := end.AddDate(0, 0, -1)
	return &Value{Range: &Range{Start: start, End: end}}
}

// weekRange returns a rolling 7-day window: "last week" is weeksAgo=1,
// giving [now-7d, now) exactly (not the calendar week containing now-7d).
func weekRange(now time.Time, weeksAgo int) *Value {
	end := now.AddDate(0, 0, -7*(weeksAgo-1))
	start := end.AddDate(0, 0, -7)
	return &Value{Range: &Range{Start: start, End: end}}
}

// monthRange is the rolling analogue of weekRange, using a 30-day month.
func monthRange(now time.Time, monthsAgo int) *Value {
	end := now.AddDate(0, 0, -30*(monthsAgo-1))
	start := end.AddDate(0, 0, -30)
	return &Value{Range: &Range{Start: start, End: end}}
}

// weekendRange returns [Saturday 00:00, Monday 00:00) of the weekend
// `weekendsAgo` weekends back: 1 is the most recently completed (or, if
// today is itself Saturday/Sunday, currently in progress) weekend; 2 is
// "the weekend before last".
func weekendRange(now time.Time, weekendsAgo int) *Value {
	d := startOfDay(now)
	for d.Weekday() != time.Saturday {
		d = d.AddDate(0, 0, -1)
	}
	start := d.AddDate(0, 0, -7*(weekendsAgo-1))
	end := start.AddDate(0, 0, 2)
	return &Value{Range: &Range{Start: start, End: end}}
}

func dayPartRange(now time.Time, startHour, endHour int) *Value {
	day := startOfDay(now)
	return &Value{Range: &Range{
		Start: day.Add(time.Duration(startHour) * time.Hour),
		End:   day.Add(time.Duration(endHour) * time.Hour),
	}}
}

// buildMatchers constructs the ordered phrase table. Order matters: more
// specific multi-word phrases are tried before the generic quantifier
// fallback so "2 weekends ago" isn't swallowed by the plain "N days ago"
// pattern.
func buildMatchers() []matcher {
	return []matcher{
		{
			re: regexp.MustCompile(`(?i)\bin the past (` + numberWordAlt + `) hours?\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value {
				n := parseQuantifier(m[1])
				return &Value{Range: &Range{Start: now.Add(-time.Duration(n) * time.Hour), End: now}}
			},
		},
		{
			re: regexp.MustCompile(`(?i)\bsince (yesterday|today|last week|this morning)\b`),
			build: func(m []string, now time.Time, weekStart time.Weekday) *Value {
				inner := resolveWord(m[1], now, weekStart)
				if inner == nil {
					return nil
				}
				point := inner.Point
				if point == nil {
					point = &inner.Range.Start
				}
				return &Value{Point: point}
			},
		},
		{
			re: regexp.MustCompile(`(?i)\bweekend before last\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return weekendRange(now, 2) },
		},
		{
			re: regexp.MustCompile(`(?i)\b(` + numberWordAlt + `)\s+weekends?\s+ago\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value {
				return weekendRange(now, parseQuantifier(m[1]))
			},
		},
		{
			re: regexp.MustCompile(`(?i)\blast weekend\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return weekendRange(now, 1) },
		},
		{
			re: regexp.MustCompile(`(?i)\bthis morning\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return dayPartRange(now, 0, 12) },
		},
		{
			re: regexp.MustCompile(`(?i)\bthis afternoon\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return dayPartRange(now, 12, 18) },
		},
		{
			re: regexp.MustCompile(`(?i)\bthis evening\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return dayPartRange(now, 18, 24) },
		},
		{
			re: regexp.MustCompile(`(?i)\b(` + numberWordAlt + `)\s+hours?\s+ago\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value {
				n := parseQuantifier(m[1])
				return &Value{Range: &Range{Start: now.Add(-time.Duration(n) * time.Hour), End: now}}
			},
		},
		{
			re: regexp.MustCompile(`(?i)\b(` + numberWordAlt + `)\s+days?\s+ago\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value {
				return dayRange(now, parseQuantifier(m[1]))
			},
		},
		{
			re: regexp.MustCompile(`(?i)\b(` + numberWordAlt + `)\s+weeks?\s+ago\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value {
				return weekRange(now, parseQuantifier(m[1]))
			},
		},
		{
			re: regexp.MustCompile(`(?i)\b(` + numberWordAlt + `)\s+months?\s+ago\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value {
				return monthRange(now, parseQuantifier(m[1]))
			},
		},
		{
			re: regexp.MustCompile(`(?i)\blast week\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return weekRange(now, 1) },
		},
		{
			re: regexp.MustCompile(`(?i)\blast month\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return monthRange(now, 1) },
		},
		{
			re: regexp.MustCompile(`(?i)\brecently\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value {
				return &Value{Range: &Range{Start: now.Add(-24 * time.Hour), End: now}}
			},
		},
		{
			re: regexp.MustCompile(`(?i)\byesterday\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return dayRange(now, 1) },
		},
		{
			re: regexp.MustCompile(`(?i)\btoday\b`),
			build: func(m []string, now time.Time, _ time.Weekday) *Value { return dayRange(now, 0) },
		},
	}
}

// resolveWord handles the limited vocabulary "since <word>" accepts by
// delegating to the same phrase table.
func resolveWord(word string, now time.Time, weekStart time.Weekday) *Value {
	for _, m := range buildMatchers() {
		if m.re.MatchString(word) {
			loc := m.re.FindStringSubmatch(word)
			return m.build(loc, now, weekStart)
		}
	}
	return nil
}

// Extract scans query for a recognized timeframe phrase. now is the
// reference instant ("now"). weekStart is passed through to the phrase
// builders, none of which reads it: week phrases resolve to rolling 7-day
// windows, not calendar weeks. An unrecognized or absent phrase
// returns a zero Extraction with Value nil and Query unchanged.
func Extract(query string, now time.Time, weekStart time.Weekday) Extraction {
	for _, m := range buildMatchers() {
		loc := m.re.FindStringIndex(query)
		if loc == nil {
			continue
		}
		groups := m.re.FindStringSubmatch(query)
		value := m.build(groups, now, weekStart)
		if value == nil {
			continue
		}
		extracted := query[loc[0]:loc[1]]
		stripped := query[:loc[0]] + query[loc[1]:]
		stripped = strings.Join(strings.Fields(stripped), " ")
		return Extraction{Query: stripped, Value: value, Extracted: strings.TrimSpace(extracted)}
	}
	return Extraction{Query: query, Value: nil}
}

// Normalize accepts whatever shape the Agent Facade's timeframe parameter
// arrives in — a *Value/Value, a Range, a time.Time, a parseable string,
// or a two-element slice forming an explicit range — and returns a
// canonical *Value. A nil input returns (nil, nil).
func Normalize(value interface{}, now time.Time, weekStart time.Weekday) (*Value, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Value:
		return v, nil
	case Value:
		return &v, nil
	case Range:
		return &Value{Range: &v}, nil
	case *Range:
		return &Value{Range: v}, nil
	case time.Time:
		return &Value{Point: &v}, nil
	case *time.Time:
		return &Value{Point: v}, nil
	case string:
		return normalizeString(v, now, weekStart)
	case []interface{}:
		if len(v) != 2 {
			return nil, apperrors.NewValidation("timeframe", "array form must have exactly two elements")
		}
		start, err := Normalize(v[0], now, weekStart)
		if err != nil {
			return nil, err
		}
		end, err := Normalize(v[1], now, weekStart)
		if err != nil {
			return nil, err
		}
		if start == nil || end == nil || start.Point == nil || end.Point == nil {
			return nil, apperrors.NewValidation("timeframe", "array form requires two instants")
		}
		return &Value{Range: &Range{Start: *start.Point, End: *end.Point}}, nil
	default:
		return nil, apperrors.NewValidation("timeframe", fmt.Sprintf("unsupported timeframe value of type %T", value))
	}
}

func normalizeString(s string, now time.Time, weekStart time.Weekday) (*Value, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &Value{Point: &t}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return &Value{Point: &t}, nil
	}
	extraction := Extract(s, now, weekStart)
	if extraction.Value == nil {
		return nil, apperrors.NewValidation("timeframe", "could not parse timeframe string: "+s)
	}
	return extraction.Value, nil
}

// NormalizeAuto implements the :auto mode: when value is the Auto
// sentinel, the timeframe (and a stripped query) are derived from query
// itself; any other value is normalized directly and query passes through
// unchanged.
func NormalizeAuto(value interface{}, query string, now time.Time, weekStart time.Weekday) (*Value, string, error) {
	if s, ok := value.(string); ok && strings.EqualFold(s, Auto) {
		extraction := Extract(query, now, weekStart)
		return extraction.Value, extraction.Query, nil
	}
	v, err := Normalize(value, now, weekStart)
	return v, query, err
}
