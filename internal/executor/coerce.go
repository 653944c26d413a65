package executor

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/arwahdevops/dbtester/internal/dataset"
)

// Base64Prefix marks a binary cell encoded as base64 text.
const Base64Prefix = "[BASE64]"

var timeLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04"}

// coerce converts a dataset value into the parameter bound for a column of
// the given category. Non-text values pass through untouched; NULL binds nil.
func coerce(v dataset.CellValue, category dataset.TypeCategory) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	s, ok := v.Raw().(string)
	if !ok {
		return v.Raw(), nil
	}

	trimmed := strings.TrimSpace(s)
	switch category {
	case dataset.CategoryInteger:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to integer", s)
		}
		return n, nil
	case dataset.CategoryDecimal:
		d, _, err := apd.NewFromString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to decimal", s)
		}
		return d.Text('f'), nil
	case dataset.CategoryFloat:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to float", s)
		}
		return f, nil
	case dataset.CategoryBoolean:
		b, ok := dataset.ParseBool(trimmed)
		if !ok {
			return nil, fmt.Errorf("cannot convert %q to boolean", s)
		}
		return b, nil
	case dataset.CategoryDate:
		d, err := time.Parse("2006-01-02", trimmed)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to date", s)
		}
		return d.Format("2006-01-02"), nil
	case dataset.CategoryTime:
		for _, layout := range timeLayouts {
			if _, err := time.Parse(layout, trimmed); err == nil {
				return trimmed, nil
			}
		}
		return nil, fmt.Errorf("cannot convert %q to time", s)
	case dataset.CategoryTimestamp:
		ts, ok := dataset.ParseTimestamp(trimmed)
		if !ok {
			return nil, fmt.Errorf("cannot convert %q to timestamp", s)
		}
		return ts, nil
	case dataset.CategoryBinary:
		if rest, ok := strings.CutPrefix(s, Base64Prefix); ok {
			b, err := base64.StdEncoding.DecodeString(rest)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 binary value: %w", err)
			}
			return b, nil
		}
		return []byte(s), nil
	default:
		return s, nil
	}
}
