package dataset

import (
	"errors"
	"strings"
)

// ErrBlankName is returned when a table or column name is empty after trimming.
var ErrBlankName = errors.New("name must not be blank")

// TableName is a trimmed, case-preserving table identifier.
// Equality and ordering are case-sensitive.
type TableName struct {
	value string
}

// NewTableName trims s and rejects blank input.
func NewTableName(s string) (TableName, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return TableName{}, ErrBlankName
	}
	return TableName{value: v}, nil
}

// MustTableName panics on blank input. Intended for literals and tests.
func MustTableName(s string) TableName {
	n, err := NewTableName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n TableName) Value() string  { return n.value }
func (n TableName) String() string { return n.value }
func (n TableName) IsZero() bool   { return n.value == "" }

// Compare orders names by their exact string value.
func (n TableName) Compare(other TableName) int {
	return strings.Compare(n.value, other.value)
}

// EqualFold reports whether two names match ignoring case, as most
// databases do for unquoted identifiers.
func (n TableName) EqualFold(other TableName) bool {
	return strings.EqualFold(n.value, other.value)
}

// ColumnName is a trimmed, case-preserving column identifier.
type ColumnName struct {
	value string
}

func NewColumnName(s string) (ColumnName, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return ColumnName{}, ErrBlankName
	}
	return ColumnName{value: v}, nil
}

func MustColumnName(s string) ColumnName {
	n, err := NewColumnName(s)
	if err != nil {
		panic(err)
	}
	return n
}

func (n ColumnName) Value() string  { return n.value }
func (n ColumnName) String() string { return n.value }
func (n ColumnName) IsZero() bool   { return n.value == "" }

func (n ColumnName) Compare(other ColumnName) int {
	return strings.Compare(n.value, other.value)
}

func (n ColumnName) EqualFold(other ColumnName) bool {
	return strings.EqualFold(n.value, other.value)
}

// TableNames returns the string values of names, in order.
func TableNames(names []TableName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.value
	}
	return out
}
