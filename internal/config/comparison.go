package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/dberrors"
)

// ComparisonSettings is the YAML file controlling verification:
//
//	exclude_columns: [created_at]
//	tables:
//	  USERS:
//	    exclude_columns: [password_hash]
//	    columns:
//	      email: CASE_INSENSITIVE
//	      token: "REGEX:^[0-9a-f]{32}$"
type ComparisonSettings struct {
	ExcludeColumns []string                           `yaml:"exclude_columns"`
	Tables         map[string]TableComparisonSettings `yaml:"tables"`
}

type TableComparisonSettings struct {
	ExcludeColumns []string          `yaml:"exclude_columns"`
	Columns        map[string]string `yaml:"columns"`
}

// LoadComparisonSettings reads path. An empty path yields empty settings.
func LoadComparisonSettings(path string) (*ComparisonSettings, error) {
	if path == "" {
		return &ComparisonSettings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dberrors.Configuration(fmt.Sprintf("failed to read comparison settings %s", path), err)
	}
	return ParseComparisonSettings(data)
}

func ParseComparisonSettings(data []byte) (*ComparisonSettings, error) {
	s := &ComparisonSettings{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, dberrors.Configuration("failed to parse comparison settings", err)
	}
	if _, err := s.Strategies(); err != nil {
		return nil, err
	}
	return s, nil
}

// Strategies compiles the per-column overrides, keyed by table then column.
func (s *ComparisonSettings) Strategies() (map[string]map[string]dataset.ComparisonStrategy, error) {
	out := make(map[string]map[string]dataset.ComparisonStrategy, len(s.Tables))
	for table, ts := range s.Tables {
		cols := make(map[string]dataset.ComparisonStrategy, len(ts.Columns)+len(ts.ExcludeColumns))
		for col, name := range ts.Columns {
			strategy, err := dataset.ParseComparisonStrategy(name)
			if err != nil {
				return nil, dberrors.Configuration(fmt.Sprintf("table %s column %s", table, col), err)
			}
			cols[col] = strategy
		}
		out[table] = cols
	}
	return out, nil
}

// TableExclusions returns the per-table excluded columns.
func (s *ComparisonSettings) TableExclusions() map[string][]string {
	out := make(map[string][]string)
	for table, ts := range s.Tables {
		if len(ts.ExcludeColumns) > 0 {
			out[table] = append([]string(nil), ts.ExcludeColumns...)
		}
	}
	return out
}
