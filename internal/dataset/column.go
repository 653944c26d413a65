package dataset

import (
	"database/sql"
	"regexp"
	"strings"
)

// ColumnMetadata is what introspection knows about a column.
type ColumnMetadata struct {
	SQLType      string // as reported by the database, e.g. "varchar(255)"
	Nullable     bool
	PrimaryKey   bool
	Ordinal      int // 1-based position, 0 when unknown
	Precision    sql.NullInt64
	Scale        sql.NullInt64
	DefaultValue sql.NullString
}

// TypeCategory groups SQL types by how values must be bound.
type TypeCategory string

const (
	CategoryUnknown   TypeCategory = "unknown"
	CategoryString    TypeCategory = "string"
	CategoryInteger   TypeCategory = "integer"
	CategoryDecimal   TypeCategory = "decimal"
	CategoryFloat     TypeCategory = "float"
	CategoryBoolean   TypeCategory = "boolean"
	CategoryDate      TypeCategory = "date"
	CategoryTime      TypeCategory = "time"
	CategoryTimestamp TypeCategory = "timestamp"
	CategoryBinary    TypeCategory = "binary"
)

var typeModifierPattern = regexp.MustCompile(`\s*\([^)]*\)`)

var typeAliases = map[string]string{
	"character varying":           "varchar",
	"character":                   "char",
	"double precision":            "double",
	"boolean":                     "bool",
	"timestamp with time zone":    "timestamptz",
	"timestamp without time zone": "timestamp",
	"time with time zone":         "timetz",
	"time without time zone":      "time",
	"integer":                     "int",
	"int4":                        "int",
	"int8":                        "bigint",
	"int2":                        "smallint",
	"serial4":                     "serial",
	"serial8":                     "bigserial",
	"float8":                      "double",
	"float4":                      "real",
}

// NormalizeTypeName lowercases a type name and strips size modifiers and
// MySQL display attributes, mapping common aliases to one spelling.
func NormalizeTypeName(typeName string) string {
	name := strings.ToLower(strings.TrimSpace(typeName))
	name = typeModifierPattern.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, " unsigned", "")
	name = strings.ReplaceAll(name, " zerofill", "")
	name = strings.Join(strings.Fields(name), " ")
	if mapped, ok := typeAliases[name]; ok {
		name = mapped
	}
	return name
}

// CategoryOf classifies a raw SQL type name.
func CategoryOf(sqlType string) TypeCategory {
	raw := strings.ToLower(sqlType)
	name := NormalizeTypeName(sqlType)
	switch name {
	case "":
		return CategoryUnknown
	case "tinyint":
		// MySQL's BOOL is tinyint(1)
		if strings.Contains(raw, "tinyint(1)") {
			return CategoryBoolean
		}
		return CategoryInteger
	case "int", "smallint", "mediumint", "bigint", "serial", "bigserial", "smallserial", "year":
		return CategoryInteger
	case "decimal", "numeric", "money":
		return CategoryDecimal
	case "float", "double", "real":
		return CategoryFloat
	case "bool", "bit":
		return CategoryBoolean
	case "date":
		return CategoryDate
	case "time", "timetz":
		return CategoryTime
	case "timestamp", "timestamptz", "datetime":
		return CategoryTimestamp
	case "bytea", "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return CategoryBinary
	case "varchar", "char", "text", "tinytext", "mediumtext", "longtext", "string",
		"uuid", "json", "jsonb", "enum", "set", "xml", "citext", "clob":
		return CategoryString
	}
	// SQLite declared types follow affinity rules.
	switch {
	case strings.Contains(name, "int"):
		return CategoryInteger
	case strings.Contains(name, "char"), strings.Contains(name, "text"), strings.Contains(name, "clob"):
		return CategoryString
	case strings.Contains(name, "blob"):
		return CategoryBinary
	case strings.Contains(name, "real"), strings.Contains(name, "floa"), strings.Contains(name, "doub"):
		return CategoryFloat
	}
	return CategoryUnknown
}

// TypeCategory classifies the column's SQL type.
func (m ColumnMetadata) TypeCategory() TypeCategory {
	return CategoryOf(m.SQLType)
}

// Column is identified by its name only. Metadata and strategy travel with
// it but do not take part in equality or ordering.
type Column struct {
	name     ColumnName
	metadata *ColumnMetadata
	strategy ComparisonStrategy
}

// NewColumn creates a column with no metadata and the STRICT strategy.
func NewColumn(name ColumnName) Column {
	return Column{name: name, strategy: Strict}
}

func (c Column) Name() ColumnName { return c.name }

// Metadata returns the column's metadata, if introspected.
func (c Column) Metadata() (ColumnMetadata, bool) {
	if c.metadata == nil {
		return ColumnMetadata{}, false
	}
	return *c.metadata, true
}

// Strategy returns the comparison strategy, STRICT unless set.
func (c Column) Strategy() ComparisonStrategy {
	if c.strategy.kind == "" {
		return Strict
	}
	return c.strategy
}

func (c Column) WithMetadata(m ColumnMetadata) Column {
	c.metadata = &m
	return c
}

func (c Column) WithStrategy(s ComparisonStrategy) Column {
	c.strategy = s
	return c
}

func (c Column) Equal(other Column) bool { return c.name == other.name }

func (c Column) Compare(other Column) int { return c.name.Compare(other.name) }

func (c Column) String() string { return c.name.value }
