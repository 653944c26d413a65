package compare

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/dberrors"
)

// Kind classifies a Difference.
type Kind string

const (
	KindTableCount Kind = "table_count"
	KindTable      Kind = "table"
	KindRowCount   Kind = "row_count"
	KindCell       Kind = "cell"
)

// Difference is one discrepancy between expected and actual state.
type Difference struct {
	Kind     Kind
	Table    string // empty for table_count
	Path     string // "row_count", "table", or "row[i].COLUMN"
	Expected any
	Actual   any
	Strategy string
	// column metadata, when known
	SQLType  string
	Nullable *bool
}

// DiffReport collects every difference found by one comparison.
type DiffReport struct {
	Differences []Difference
}

func (r *DiffReport) add(d Difference) {
	r.Differences = append(r.Differences, d)
}

func (r *DiffReport) merge(other *DiffReport) {
	r.Differences = append(r.Differences, other.Differences...)
}

func (r *DiffReport) Empty() bool { return r == nil || len(r.Differences) == 0 }

func (r *DiffReport) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Differences)
}

// Tables lists the tables with differences in the order first reported.
func (r *DiffReport) Tables() []string {
	if r == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, d := range r.Differences {
		if d.Table == "" || seen[d.Table] {
			continue
		}
		seen[d.Table] = true
		out = append(out, d.Table)
	}
	return out
}

// ForTable returns the differences recorded against table.
func (r *DiffReport) ForTable(table string) []Difference {
	var out []Difference
	for _, d := range r.Differences {
		if d.Table == table {
			out = append(out, d)
		}
	}
	return out
}

// Summary is the one-line headline, e.g.
// "Assertion failed: 3 differences in ORDERS, USERS".
func (r *DiffReport) Summary() string {
	if r.Empty() {
		return "Assertion passed: no differences"
	}
	tables := r.Tables()
	if len(tables) == 0 {
		return fmt.Sprintf("Assertion failed: %d differences", r.Count())
	}
	return fmt.Sprintf("Assertion failed: %d differences in %s", r.Count(), strings.Join(tables, ", "))
}

// YAML renders the structured breakdown:
//
//	summary:
//	  status: FAILED
//	  total_differences: 2
//	tables:
//	  USERS:
//	    differences:
//	    - path: row_count
//	      expected: 1
//	      actual: 2
func (r *DiffReport) YAML() (string, error) {
	status := "PASSED"
	if !r.Empty() {
		status = "FAILED"
	}
	summary := yaml.MapSlice{
		{Key: "status", Value: status},
		{Key: "total_differences", Value: r.Count()},
	}
	for _, d := range r.Differences {
		if d.Kind == KindTableCount {
			summary = append(summary, yaml.MapItem{Key: "table_count", Value: yaml.MapSlice{
				{Key: "expected", Value: d.Expected},
				{Key: "actual", Value: d.Actual},
			}})
		}
	}

	tables := yaml.MapSlice{}
	for _, name := range r.Tables() {
		var entries []yaml.MapSlice
		for _, d := range r.ForTable(name) {
			entries = append(entries, d.yaml())
		}
		tables = append(tables, yaml.MapItem{Key: name, Value: yaml.MapSlice{{Key: "differences", Value: entries}}})
	}

	doc := yaml.MapSlice{{Key: "summary", Value: summary}}
	if len(tables) > 0 {
		doc = append(doc, yaml.MapItem{Key: "tables", Value: tables})
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to render difference report: %w", err)
	}
	return string(out), nil
}

func (d Difference) yaml() yaml.MapSlice {
	entry := yaml.MapSlice{
		{Key: "path", Value: d.Path},
		{Key: "expected", Value: d.Expected},
		{Key: "actual", Value: d.Actual},
	}
	if d.Strategy != "" && d.Strategy != string(dataset.KindStrict) {
		entry = append(entry, yaml.MapItem{Key: "strategy", Value: d.Strategy})
	}
	if d.SQLType != "" || d.Nullable != nil {
		column := yaml.MapSlice{}
		if d.SQLType != "" {
			column = append(column, yaml.MapItem{Key: "type", Value: d.SQLType})
		}
		if d.Nullable != nil {
			column = append(column, yaml.MapItem{Key: "nullable", Value: *d.Nullable})
		}
		entry = append(entry, yaml.MapItem{Key: "column", Value: column})
	}
	return entry
}

// String is the summary line followed by the YAML breakdown.
func (r *DiffReport) String() string {
	body, err := r.YAML()
	if err != nil {
		return r.Summary() + "\n" + err.Error()
	}
	return r.Summary() + "\n" + body
}

// Err converts a non-empty report into a validation error carrying the
// rendered text.
func (r *DiffReport) Err() error {
	if r.Empty() {
		return nil
	}
	return dberrors.Validation(r.String())
}
