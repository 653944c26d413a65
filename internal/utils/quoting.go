package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// identifierPattern accepts a plain name or a single schema-qualified name.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// ValidateIdentifier rejects anything that is not safe to splice into SQL text.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier: `%s`", name)
	}
	return nil
}

// QuoteIdentifier quotes an identifier based on the specified SQL dialect.
// Schema-qualified names are quoted per part.
func QuoteIdentifier(name, dialect string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quotePart(p, dialect)
	}
	return strings.Join(parts, ".")
}

func quotePart(name, dialect string) string {
	switch strings.ToLower(dialect) {
	case "mysql":
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case "postgres":
		return pq.QuoteIdentifier(name)
	default:
		// sqlite and anything unknown: ANSI double quotes
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// SQLIdentifier validates name and returns the text to splice into SQL,
// quoted when quote is set.
func SQLIdentifier(name, dialect string, quote bool) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	if !quote {
		return name, nil
	}
	return QuoteIdentifier(name, dialect), nil
}
