package loader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/dataset"
	"github.com/arwahdevops/dbtester/internal/dberrors"
)

const (
	DefaultScenarioMarker = "[Scenario]"
	DefaultLoadOrderFile  = "load-order.txt"

	// NullToken is the explicit spelling of SQL NULL in a dataset file.
	NullToken = "[NULL]"
)

// Loader reads dataset directories: one {TABLE}.csv or {TABLE}.tsv file per
// table, first row holding the column headers.
type Loader struct {
	FS             fs.FS
	ScenarioMarker string
	LoadOrderFile  string
	Logger         *zap.Logger
}

func New(fsys fs.FS, scenarioMarker, loadOrderFile string, logger *zap.Logger) *Loader {
	if scenarioMarker == "" {
		scenarioMarker = DefaultScenarioMarker
	}
	if loadOrderFile == "" {
		loadOrderFile = DefaultLoadOrderFile
	}
	return &Loader{FS: fsys, ScenarioMarker: scenarioMarker, LoadOrderFile: loadOrderFile, Logger: logger.Named("loader")}
}

// LoadDir loads every table file in dir. With scenarios given, rows whose
// marker cell names none of them are dropped; rows with an empty marker are
// shared by all scenarios. Tables are declared in load-order file order when
// that file exists, lexical file order otherwise.
func (l *Loader) LoadDir(dir string, scenarios ...string) (dataset.TableSet, error) {
	log := l.Logger.With(zap.String("dir", dir), zap.Strings("scenarios", scenarios))

	entries, err := fs.ReadDir(l.FS, dir)
	if err != nil {
		return dataset.TableSet{}, dberrors.DataSetLoad(dir, "cannot read dataset directory", err)
	}

	var tables []dataset.Table
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(e.Name()))
		var comma rune
		switch ext {
		case ".csv":
			comma = ','
		case ".tsv":
			comma = '\t'
		default:
			continue
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		t, err := l.readTable(path.Join(dir, e.Name()), name, comma, scenarios)
		if err != nil {
			return dataset.TableSet{}, err
		}
		tables = append(tables, t)
	}

	order, err := LoadOrder(l.FS, path.Join(dir, l.LoadOrderFile))
	switch {
	case err == nil:
		tables = applyOrder(tables, order)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return dataset.TableSet{}, err
	}

	ts, err := dataset.NewTableSet(tables...)
	if err != nil {
		return dataset.TableSet{}, dberrors.DataSetLoad(dir, "invalid dataset", err)
	}
	log.Debug("Dataset loaded", zap.Int("tables", ts.Len()))
	return ts, nil
}

// LoadSources loads several directories with the same scenarios and merges
// them with strategy.
func (l *Loader) LoadSources(strategy dataset.MergeStrategy, scenarios []string, dirs ...string) (dataset.TableSet, error) {
	sets := make([]dataset.TableSet, 0, len(dirs))
	for _, d := range dirs {
		ts, err := l.LoadDir(d, scenarios...)
		if err != nil {
			return dataset.TableSet{}, err
		}
		sets = append(sets, ts)
	}
	merged, err := dataset.Merge(strategy, sets...)
	if err != nil {
		return dataset.TableSet{}, dberrors.DataSetLoad(strings.Join(dirs, ","), "cannot merge datasets", err)
	}
	return merged, nil
}

func (l *Loader) readTable(file, tableName string, comma rune, scenarios []string) (dataset.Table, error) {
	name, err := dataset.NewTableName(tableName)
	if err != nil {
		return dataset.Table{}, dberrors.DataSetLoad(file, "invalid table name", err)
	}

	f, err := l.FS.Open(file)
	if err != nil {
		return dataset.Table{}, dberrors.DataSetLoad(file, "cannot open file", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = comma
	if comma == '\t' {
		reader.LazyQuotes = true
	}

	headers, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dataset.Table{}, dberrors.DataSetLoad(file, "missing header row", nil)
		}
		return dataset.Table{}, dberrors.DataSetLoad(file, "cannot read header row", err)
	}

	markerIdx := -1
	var columns []dataset.Column
	var colIdx []int
	for i, h := range headers {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == l.ScenarioMarker {
			markerIdx = i
			continue
		}
		cn, err := dataset.NewColumnName(h)
		if err != nil {
			return dataset.Table{}, dberrors.DataSetLoad(file, fmt.Sprintf("header %d", i+1), err)
		}
		columns = append(columns, dataset.NewColumn(cn))
		colIdx = append(colIdx, i)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return dataset.Table{}, dberrors.DataSetLoad(file, "malformed row", err)
	}

	rows := make([]dataset.Row, 0, len(records))
	for _, rec := range records {
		if markerIdx >= 0 && !selected(rec[markerIdx], scenarios) {
			continue
		}
		cells := make([]dataset.Cell, len(columns))
		for j, c := range columns {
			cells[j] = dataset.NewCell(c.Name(), parseField(rec[colIdx[j]]))
		}
		rows = append(rows, dataset.NewRow(cells...))
	}

	t, err := dataset.NewTable(name, columns, rows)
	if err != nil {
		return dataset.Table{}, dberrors.DataSetLoad(file, "invalid table", err)
	}
	l.Logger.Debug("Loaded table file",
		zap.String("file", file),
		zap.String("table", tableName),
		zap.Int("rows", len(rows)),
		zap.Int("skipped", len(records)-len(rows)))
	return t, nil
}

func parseField(s string) dataset.CellValue {
	if s == "" || s == NullToken {
		return dataset.Null
	}
	return dataset.NewCellValue(s)
}

func selected(marker string, scenarios []string) bool {
	marker = strings.TrimSpace(marker)
	if len(scenarios) == 0 || marker == "" {
		return true
	}
	for _, m := range strings.Split(marker, ",") {
		m = strings.TrimSpace(m)
		for _, s := range scenarios {
			if m == s {
				return true
			}
		}
	}
	return false
}

// applyOrder puts tables named in order first, in that order, followed by
// the rest in their original order.
func applyOrder(tables []dataset.Table, order []string) []dataset.Table {
	byName := make(map[string]int, len(tables))
	for i, t := range tables {
		byName[t.Name().Value()] = i
	}
	used := make([]bool, len(tables))
	out := make([]dataset.Table, 0, len(tables))
	for _, n := range order {
		if i, ok := byName[n]; ok && !used[i] {
			used[i] = true
			out = append(out, tables[i])
		}
	}
	for i, t := range tables {
		if !used[i] {
			out = append(out, t)
		}
	}
	return out
}

// ReadLoadOrder parses a load-order file: one table per line, blank lines
// and lines starting with '#' ignored.
func ReadLoadOrder(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// LoadOrder reads the load-order file at p. A missing file matches
// fs.ErrNotExist as well as dberrors.ErrDataSetLoad.
func LoadOrder(fsys fs.FS, p string) ([]string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return nil, dberrors.DataSetLoad(p, "cannot open load-order file", err)
	}
	defer f.Close()

	names, err := ReadLoadOrder(f)
	if err != nil {
		return nil, dberrors.DataSetLoad(p, "cannot read load-order file", err)
	}
	return names, nil
}
