package dataset

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// CellValue wraps an optional scalar. A nil payload is SQL NULL.
type CellValue struct {
	v any
}

// Null is the shared SQL NULL value. The zero CellValue equals Null.
var Null = CellValue{}

// NewCellValue wraps v. A nil v (or a *CellValue holding NULL) yields Null.
func NewCellValue(v any) CellValue {
	switch x := v.(type) {
	case nil:
		return Null
	case CellValue:
		return x
	}
	return CellValue{v: v}
}

func (c CellValue) IsNull() bool { return c.v == nil }

// Raw returns the wrapped payload, nil for NULL.
func (c CellValue) Raw() any { return c.v }

// String returns the canonical text form, "" for NULL.
func (c CellValue) String() string { return Text(c.v) }

// Equal compares payloads exactly. Byte slices compare by content.
func (c CellValue) Equal(other CellValue) bool {
	if c.v == nil || other.v == nil {
		return c.v == nil && other.v == nil
	}
	if a, ok := c.v.([]byte); ok {
		if b, ok := other.v.([]byte); ok {
			return bytes.Equal(a, b)
		}
		return false
	}
	return reflect.DeepEqual(c.v, other.v)
}

const canonicalTimeLayout = "2006-01-02 15:04:05"

// Text renders a raw value in the canonical textual form used for
// comparison and reporting: int64(1) and "1" both render as "1".
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case CellValue:
		return Text(x.v)
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(x).Int(), 10)
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(x).Uint(), 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		if x.Nanosecond() == 0 {
			return x.Format(canonicalTimeLayout)
		}
		return x.Format(canonicalTimeLayout + ".999999999")
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Cell pairs a column with its value.
type Cell struct {
	Column ColumnName
	Value  CellValue
}

func NewCell(column ColumnName, value CellValue) Cell {
	return Cell{Column: column, Value: value}
}
