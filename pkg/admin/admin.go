// Package admin issues the one-off administrative statements needed when
// migrating older MySQL schemas: relaxing strict mode for a session and
// making legacy zero-default TIMESTAMP columns nullable.
//
// An Admin is bound to one database session. Session-level settings such as
// sql_mode only stick when every statement goes through the same session, so
// pass a *sql.Conn or *sql.Tx rather than a pooled *sql.DB when that matters.
package admin

import (
	"context"
	"database/sql"
	"regexp"
	"sync"

	"github.com/ha1tch/dongle/pkg/dongle"
	dgerrors "github.com/ha1tch/dongle/pkg/errors"
	"github.com/ha1tch/dongle/pkg/log"
)

// DefaultTimestampColumns are converted when ConvertTimestamps is given no columns.
var DefaultTimestampColumns = []string{"created_at", "updated_at"}

const disableStrictModeSQL = "SET @@SQL_MODE=''"

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_$]+$`)

// Executor runs a statement. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Admin issues administrative statements against one session.
type Admin struct {
	exec        Executor
	dialect     dongle.Dialect
	tablePrefix string
	strict      bool
	logger      *log.Logger

	mu                 sync.Mutex
	strictModeDisabled bool
}

// Option configures an Admin.
type Option func(*Admin)

// WithStrict records whether the connection is configured for strict mode.
// A non-strict connection never needs strict mode disabled. Default true.
func WithStrict(strict bool) Option {
	return func(a *Admin) {
		a.strict = strict
	}
}

// WithLogger sets the logger used for issued statements.
func WithLogger(logger *log.Logger) Option {
	return func(a *Admin) {
		a.logger = logger
	}
}

// New creates an Admin. Statements are only issued for DialectMySQL; every
// operation is a no-op for other dialects.
func New(exec Executor, dialect dongle.Dialect, tablePrefix string, opts ...Option) *Admin {
	a := &Admin{
		exec:        exec,
		dialect:     dialect,
		tablePrefix: tablePrefix,
		strict:      true,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StrictModeDisabled reports whether DisableStrictMode has issued its statement.
func (a *Admin) StrictModeDisabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.strictModeDisabled
}

// DisableStrictMode clears sql_mode for the session, at most once. It does
// nothing when the connection is not strict. A failed statement is not
// remembered, so a later call tries again.
func (a *Admin) DisableStrictMode(ctx context.Context) error {
	if a.dialect != dongle.DialectMySQL {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.strictModeDisabled || !a.strict {
		return nil
	}

	if _, err := a.exec.ExecContext(ctx, disableStrictModeSQL); err != nil {
		return dgerrors.Wrap(err, dgerrors.ErrCodeAdminStatement, "disable strict mode").
			WithOp("Admin.DisableStrictMode").
			WithField("statement", disableStrictModeSQL).
			Err()
	}

	a.strictModeDisabled = true
	a.logger.Admin().Info("strict mode disabled")
	return nil
}

// ConvertTimestamps makes the given TIMESTAMP columns of table nullable with
// a NULL default and replaces stored zero dates with NULL. The table prefix
// is prepended to table. With no columns, DefaultTimestampColumns are used.
func (a *Admin) ConvertTimestamps(ctx context.Context, table string, columns ...string) error {
	if a.dialect != dongle.DialectMySQL {
		return nil
	}
	if len(columns) == 0 {
		columns = DefaultTimestampColumns
	}

	prefixed := a.tablePrefix + table
	if err := checkIdentifier("table", prefixed); err != nil {
		return err
	}
	for _, column := range columns {
		if err := checkIdentifier("column", column); err != nil {
			return err
		}
	}

	for _, column := range columns {
		statements := []string{
			"ALTER TABLE " + prefixed + " MODIFY `" + column + "` TIMESTAMP NULL DEFAULT NULL",
			"UPDATE " + prefixed + " SET " + column + " = null WHERE " + column + " = 0",
		}
		for _, stmt := range statements {
			if _, err := a.exec.ExecContext(ctx, stmt); err != nil {
				return dgerrors.Wrap(err, dgerrors.ErrCodeAdminStatement, "convert timestamp column").
					WithOp("Admin.ConvertTimestamps").
					WithField("table", prefixed).
					WithField("column", column).
					WithField("statement", stmt).
					Err()
			}
		}
		a.logger.Admin().Info("timestamp column converted",
			"table", prefixed,
			"column", column,
		)
	}
	return nil
}

// Close returns a *sql.Conn session to its pool. Any other executor,
// including a *sql.DB, is left open for its owner to close.
func (a *Admin) Close() error {
	if c, ok := a.exec.(*sql.Conn); ok {
		return c.Close()
	}
	return nil
}

// checkIdentifier accepts unquoted MySQL identifiers only, since names are
// spliced into statements verbatim.
func checkIdentifier(kind, name string) error {
	if !identifierPattern.MatchString(name) {
		return dgerrors.Newf(dgerrors.ErrCodeInvalidIdentifier, "invalid %s name %q", kind, name).
			WithOp("Admin.ConvertTimestamps").
			WithField(kind, name).
			Err()
	}
	return nil
}
