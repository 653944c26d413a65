package dberrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds. Every *Error matches exactly one of these via errors.Is.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrDataSetLoad        = errors.New("dataset load error")
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrDatabaseOperation  = errors.New("database operation error")
	ErrValidation         = errors.New("validation error")
)

// Error carries the failing context of a module-boundary failure.
type Error struct {
	Kind  error  // one of the Err* sentinels
	Op    string // operation or phase, e.g. "CLEAN_INSERT" or "load"
	Table string
	Path  string // file or directory, when relevant
	Msg   string
	Err   error // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		fmt.Fprintf(&b, " [operation=%s]", e.Op)
	}
	if e.Table != "" {
		fmt.Fprintf(&b, " [table=%s]", e.Table)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " [path=%s]", e.Path)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause, so errors.Is works for either.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Configuration(msg string, err error) error {
	return &Error{Kind: ErrConfiguration, Msg: msg, Err: err}
}

func DataSetLoad(path, msg string, err error) error {
	return &Error{Kind: ErrDataSetLoad, Path: path, Msg: msg, Err: err}
}

func DataSourceNotFound(name string) error {
	if name == "" {
		return &Error{Kind: ErrDataSourceNotFound, Msg: "no default data source registered"}
	}
	return &Error{Kind: ErrDataSourceNotFound, Msg: fmt.Sprintf("no data source registered under name %q", name)}
}

func DatabaseOperation(op, table string, err error) error {
	return &Error{Kind: ErrDatabaseOperation, Op: op, Table: table, Err: err}
}

// Validation wraps a rendered difference report.
func Validation(report string) error {
	return &Error{Kind: ErrValidation, Msg: report}
}

// SQLState returns the driver-level error code for PostgreSQL (SQLSTATE) or
// MySQL (numeric error number) failures, or "" when err carries neither.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.SQLState != [5]byte{} {
			return string(myErr.SQLState[:])
		}
		return fmt.Sprintf("%d", myErr.Number)
	}
	return ""
}
