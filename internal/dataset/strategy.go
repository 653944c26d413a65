package dataset

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

type StrategyKind string

const (
	KindStrict            StrategyKind = "STRICT"
	KindIgnore            StrategyKind = "IGNORE"
	KindNumeric           StrategyKind = "NUMERIC"
	KindCaseInsensitive   StrategyKind = "CASE_INSENSITIVE"
	KindTimestampFlexible StrategyKind = "TIMESTAMP_FLEXIBLE"
	KindNotNull           StrategyKind = "NOT_NULL"
	KindRegex             StrategyKind = "REGEX"
)

// ComparisonStrategy decides whether an actual cell matches an expected one.
// The zero value behaves as STRICT.
type ComparisonStrategy struct {
	kind    StrategyKind
	pattern *regexp.Regexp
}

var (
	Strict            = ComparisonStrategy{kind: KindStrict}
	Ignore            = ComparisonStrategy{kind: KindIgnore}
	Numeric           = ComparisonStrategy{kind: KindNumeric}
	CaseInsensitive   = ComparisonStrategy{kind: KindCaseInsensitive}
	TimestampFlexible = ComparisonStrategy{kind: KindTimestampFlexible}
	NotNull           = ComparisonStrategy{kind: KindNotNull}
)

// Regex builds a REGEX strategy; the expected value is ignored and the
// stringified actual value must match pattern.
func Regex(pattern string) (ComparisonStrategy, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ComparisonStrategy{}, fmt.Errorf("invalid comparison pattern %q: %w", pattern, err)
	}
	return ComparisonStrategy{kind: KindRegex, pattern: re}, nil
}

// ParseComparisonStrategy accepts the strategy names, case-insensitively,
// and "REGEX:<pattern>".
func ParseComparisonStrategy(s string) (ComparisonStrategy, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) >= len(KindRegex)+1 && strings.EqualFold(trimmed[:len(KindRegex)+1], string(KindRegex)+":") {
		return Regex(trimmed[len(KindRegex)+1:])
	}
	switch StrategyKind(strings.ToUpper(trimmed)) {
	case KindStrict:
		return Strict, nil
	case KindIgnore:
		return Ignore, nil
	case KindNumeric:
		return Numeric, nil
	case KindCaseInsensitive:
		return CaseInsensitive, nil
	case KindTimestampFlexible:
		return TimestampFlexible, nil
	case KindNotNull:
		return NotNull, nil
	}
	return ComparisonStrategy{}, fmt.Errorf("unknown comparison strategy %q", s)
}

func (s ComparisonStrategy) Kind() StrategyKind {
	if s.kind == "" {
		return KindStrict
	}
	return s.kind
}

func (s ComparisonStrategy) String() string {
	if s.kind == KindRegex {
		return string(KindRegex) + ":" + s.pattern.String()
	}
	return string(s.Kind())
}

// Matches applies the strategy. Arguments may be raw values or CellValues.
//
// NULL handling: IGNORE always matches. NOT_NULL looks only at actual.
// REGEX never matches a NULL actual. Every other strategy matches two NULLs
// and rejects exactly one NULL.
func (s ComparisonStrategy) Matches(expected, actual any) bool {
	expected, actual = unwrap(expected), unwrap(actual)

	switch s.Kind() {
	case KindIgnore:
		return true
	case KindNotNull:
		return actual != nil
	case KindRegex:
		if actual == nil {
			return false
		}
		return s.pattern.MatchString(Text(actual))
	}

	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch s.Kind() {
	case KindNumeric:
		return numericEqual(expected, actual)
	case KindCaseInsensitive:
		return strings.EqualFold(Text(expected), Text(actual))
	case KindTimestampFlexible:
		return timestampEqual(expected, actual)
	default:
		return strictEqual(expected, actual)
	}
}

func unwrap(v any) any {
	if c, ok := v.(CellValue); ok {
		return c.v
	}
	return v
}

// strictEqual treats values as equal when their payloads are equal or their
// canonical text forms are identical.
func strictEqual(expected, actual any) bool {
	if NewCellValue(expected).Equal(NewCellValue(actual)) {
		return true
	}
	// drivers report booleans natively; datasets spell them as text
	if b, ok := actual.(bool); ok {
		if e, ok := ParseBool(Text(expected)); ok {
			return e == b
		}
	}
	if b, ok := expected.(bool); ok {
		if a, ok := ParseBool(Text(actual)); ok {
			return a == b
		}
	}
	return Text(expected) == Text(actual)
}

// ParseBool accepts true/false, 1/0, yes/no, t/f and y/n in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "1", "yes", "y":
		return true, true
	case "false", "f", "0", "no", "n":
		return false, true
	}
	return false, false
}

func numericEqual(expected, actual any) bool {
	a, _, errA := apd.NewFromString(strings.TrimSpace(Text(expected)))
	b, _, errB := apd.NewFromString(strings.TrimSpace(Text(actual)))
	if errA != nil || errB != nil {
		return strictEqual(expected, actual)
	}
	return a.Cmp(b) == 0
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp reads a time.Time or one of the accepted textual forms.
// Text without a zone is taken as UTC.
func ParseTimestamp(v any) (time.Time, bool) {
	switch x := unwrap(v).(type) {
	case time.Time:
		return x.UTC(), true
	case nil:
		return time.Time{}, false
	default:
		s := strings.TrimSpace(Text(x))
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func timestampEqual(expected, actual any) bool {
	a, okA := ParseTimestamp(expected)
	b, okB := ParseTimestamp(actual)
	if !okA || !okB {
		return strictEqual(expected, actual)
	}
	// Sub-second digits absent on either side are not compared.
	if a.Nanosecond() == 0 || b.Nanosecond() == 0 {
		a, b = a.Truncate(time.Second), b.Truncate(time.Second)
	}
	return a.Equal(b)
}
