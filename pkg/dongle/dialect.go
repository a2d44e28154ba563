package dongle

import (
	"strings"

	dgerrors "github.com/ha1tch/dongle/pkg/errors"
)

// Dialect identifies the database engine a fragment is translated for.
// Fragments are always written against DialectMySQL.
type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectPostgres
	DialectPostGIS
	DialectSQLite
	DialectSQLServer
)

// Features is the registry row every rewrite rule consults.
type Features struct {
	// AggregateFunc replaces the GROUP_CONCAT function name. Empty keeps it.
	AggregateFunc string `json:"aggregate_func,omitempty" yaml:"aggregate_func,omitempty"`
	// UnifySeparator turns "x SEPARATOR y" into a plain second argument.
	UnifySeparator bool `json:"unify_separator" yaml:"unify_separator"`
	// CastAggregateArgs casts the leading aggregate argument to VARCHAR.
	CastAggregateArgs bool `json:"cast_aggregate_args" yaml:"cast_aggregate_args"`
	// ConcatOperator replaces CONCAT(a, b) with "a <op> b". Empty keeps CONCAT.
	ConcatOperator string `json:"concat_operator,omitempty" yaml:"concat_operator,omitempty"`
	// NullCoalesceFunc replaces the IFNULL function name. Empty keeps it.
	NullCoalesceFunc string `json:"null_coalesce_func,omitempty" yaml:"null_coalesce_func,omitempty"`
	// IntegerBooleans rewrites "col = true" to "col = 1".
	IntegerBooleans bool `json:"integer_booleans" yaml:"integer_booleans"`
	// ExplicitCasts makes Cast wrap expressions in CAST(... AS type).
	ExplicitCasts bool `json:"explicit_casts" yaml:"explicit_casts"`
}

type dialectInfo struct {
	name     string
	aliases  []string
	features Features
}

var registry = [...]dialectInfo{
	DialectMySQL: {
		name:    "mysql",
		aliases: []string{"mariadb"},
	},
	DialectPostgres: {
		name:    "pgsql",
		aliases: []string{"postgres", "postgresql", "pgx"},
		features: Features{
			AggregateFunc:     "string_agg",
			UnifySeparator:    true,
			CastAggregateArgs: true,
			ConcatOperator:    "||",
			NullCoalesceFunc:  "COALESCE",
			ExplicitCasts:     true,
		},
	},
	DialectPostGIS: {
		name: "postgis",
		features: Features{
			AggregateFunc:     "string_agg",
			UnifySeparator:    true,
			CastAggregateArgs: true,
			ConcatOperator:    "||",
			NullCoalesceFunc:  "COALESCE",
			ExplicitCasts:     true,
		},
	},
	DialectSQLite: {
		name:    "sqlite",
		aliases: []string{"sqlite3"},
		features: Features{
			UnifySeparator:  true,
			ConcatOperator:  "||",
			IntegerBooleans: true,
		},
	},
	DialectSQLServer: {
		name:    "sqlsrv",
		aliases: []string{"sqlserver", "mssql"},
		features: Features{
			// Needs the GROUP_CONCAT_D user-defined aggregate installed in dbo.
			AggregateFunc:    "dbo.GROUP_CONCAT_D",
			UnifySeparator:   true,
			NullCoalesceFunc: "ISNULL",
		},
	},
}

func (d Dialect) info() dialectInfo {
	if d < 0 || int(d) >= len(registry) {
		return registry[DialectMySQL]
	}
	return registry[d]
}

// String returns the canonical driver name, e.g. "pgsql".
func (d Dialect) String() string {
	return d.info().name
}

// Aliases returns the other names ParseDialect accepts for d.
func (d Dialect) Aliases() []string {
	return append([]string(nil), d.info().aliases...)
}

// Features returns the rewrite behaviour for the dialect. Values outside
// the registry get the reference (MySQL) row, which rewrites nothing.
func (d Dialect) Features() Features {
	return d.info().features
}

// IsReference reports whether fragments pass through untouched.
func (d Dialect) IsReference() bool {
	return d.Features() == Features{}
}

// Dialects lists every supported dialect in declaration order.
func Dialects() []Dialect {
	out := make([]Dialect, len(registry))
	for i := range registry {
		out[i] = Dialect(i)
	}
	return out
}

// ParseDialect resolves a driver or dialect name. Unknown names resolve to
// DialectMySQL together with an ErrCodeUnknownDialect error, so callers that
// ignore the error still get the pass-through behaviour.
func ParseDialect(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, info := range registry {
		if info.name == key {
			return Dialect(i), nil
		}
		for _, alias := range info.aliases {
			if alias == key {
				return Dialect(i), nil
			}
		}
	}
	return DialectMySQL, dgerrors.UnknownDialect(name).WithOp("ParseDialect").Err()
}

// MarshalText encodes the canonical name.
func (d Dialect) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts any name ParseDialect accepts.
func (d *Dialect) UnmarshalText(text []byte) error {
	parsed, err := ParseDialect(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
