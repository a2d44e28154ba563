// Package dongle translates MySQL-flavoured SQL fragments into the syntax of
// other database engines.
//
// It is not a parser. A Translator applies a fixed pipeline of textual
// rewrites, each looking for one construct:
//
//	GROUP_CONCAT(x SEPARATOR ', ')  -> string_agg(x::VARCHAR, ', ')   (PostgreSQL, PostGIS)
//	CONCAT(a, b, c)                 -> a || b || c                     (PostgreSQL, PostGIS, SQLite)
//	IFNULL(x, 0)                    -> COALESCE(x, 0) / ISNULL(x, 0)   (PostgreSQL / SQL Server)
//	active = true                   -> active = 1                      (SQLite)
//
// Anything the rules do not recognise passes through unchanged, and no rule
// ever fails: invalid SQL is left for the database to reject.
package dongle

import (
	"github.com/ha1tch/dongle/pkg/log"
)

// DefaultCastType is the target type used by Cast.
const DefaultCastType = "INTEGER"

// ConnectionProvider exposes what a Translator needs from a database
// connection. It is consulted once, at construction.
type ConnectionProvider interface {
	DriverName() string
	TablePrefix() string
}

// Expression is a translated fragment ready to be embedded verbatim in a
// larger query.
type Expression string

func (e Expression) String() string {
	return string(e)
}

// Translator rewrites fragments for a single dialect. It holds no mutable
// state and is safe for concurrent use.
type Translator struct {
	dialect     Dialect
	features    Features
	tablePrefix string
	logger      *log.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithLogger logs each rewrite at debug level under the translation category.
func WithLogger(logger *log.Logger) Option {
	return func(t *Translator) {
		t.logger = logger
	}
}

// New creates a translator for dialect. tablePrefix is carried for callers
// that build table names; the rewrite rules never use it.
func New(dialect Dialect, tablePrefix string, opts ...Option) *Translator {
	t := &Translator{
		dialect:     dialect,
		features:    dialect.Features(),
		tablePrefix: tablePrefix,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewFromProvider creates a translator for the provider's driver. An
// unrecognised driver yields a pass-through translator.
func NewFromProvider(p ConnectionProvider, opts ...Option) *Translator {
	dialect, err := ParseDialect(p.DriverName())
	t := New(dialect, p.TablePrefix(), opts...)
	if err != nil && t.logger != nil {
		t.logger.Translation().Warn("unrecognised driver, fragments will pass through unchanged",
			"driver", p.DriverName(),
		)
	}
	return t
}

// Dialect returns the target dialect.
func (t *Translator) Dialect() Dialect {
	return t.dialect
}

// TablePrefix returns the table-name prefix of the underlying connection.
func (t *Translator) TablePrefix() string {
	return t.tablePrefix
}

// Translate runs the full pipeline over sql.
func (t *Translator) Translate(sql string) string {
	out := sql
	for _, r := range pipeline {
		next := r.apply(out, t.features)
		if next != out && t.logger != nil {
			if tl := t.logger.Translation(); tl.DebugEnabled() {
				tl.Debug("fragment rewritten",
					"dialect", t.dialect.String(),
					"rule", r.name,
					"before", out,
					"after", next,
				)
			}
		}
		out = next
	}
	return out
}

// Raw translates sql and wraps it as an Expression.
func (t *Translator) Raw(sql string) Expression {
	return Expression(t.Translate(sql))
}

// RewriteAggregateConcat rewrites GROUP_CONCAT calls.
func (t *Translator) RewriteAggregateConcat(sql string) string {
	return rewriteAggregateConcat(sql, t.features)
}

// RewriteFieldConcat rewrites CONCAT calls into operator chains. It never
// touches GROUP_CONCAT.
func (t *Translator) RewriteFieldConcat(sql string) string {
	return rewriteFieldConcat(sql, t.features)
}

// RewriteNullCoalesce renames IFNULL calls.
func (t *Translator) RewriteNullCoalesce(sql string) string {
	return rewriteNullCoalesce(sql, t.features)
}

// NormalizeBooleanLiteral rewrites "col = true" style comparisons to
// integer literals. The literal must be followed by whitespace or the end of
// the fragment.
func (t *Translator) NormalizeBooleanLiteral(sql string) string {
	return normalizeBooleanLiteral(sql, t.features)
}

// Cast wraps expr as CAST(expr AS INTEGER) where the dialect needs
// same-type comparisons spelled out, and returns it unchanged elsewhere.
func (t *Translator) Cast(expr string) string {
	return castExpr(expr, DefaultCastType, t.features)
}

// CastAs is Cast with an explicit target type.
func (t *Translator) CastAs(expr, asType string) string {
	return castExpr(expr, asType, t.features)
}
