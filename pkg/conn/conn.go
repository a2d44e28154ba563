// Package conn opens database connections for the supported dialects and
// pairs each with a long-lived Translator, so fragments embedded in queries
// can be written once in MySQL syntax.
package conn

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/ha1tch/dongle/pkg/admin"
	"github.com/ha1tch/dongle/pkg/dongle"
	dgerrors "github.com/ha1tch/dongle/pkg/errors"
	"github.com/ha1tch/dongle/pkg/log"
)

// Config describes one database connection.
type Config struct {
	// Driver is a dialect name or alias (mysql, pgsql, sqlite, sqlsrv, ...).
	Driver string

	// DSN is passed to the database/sql driver unchanged.
	DSN string

	// TablePrefix is prepended to table names by administrative helpers.
	TablePrefix string

	// Strict reports whether the server enforces strict SQL mode. Only
	// meaningful for MySQL.
	Strict bool

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a strict in-memory SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Driver:       "sqlite",
		DSN:          ":memory:",
		Strict:       true,
		MaxOpenConns: 1, // SQLite prefers single writer
		MaxIdleConns: 1,
	}
}

// driverNames maps each dialect to its registered database/sql driver.
var driverNames = map[dongle.Dialect]string{
	dongle.DialectMySQL:     "mysql",
	dongle.DialectPostgres:  "pgx",
	dongle.DialectPostGIS:   "pgx",
	dongle.DialectSQLite:    "sqlite3",
	dongle.DialectSQLServer: "sqlserver",
}

// SQLDriver returns the database/sql driver name used for d.
func SQLDriver(d dongle.Dialect) string {
	if name, ok := driverNames[d]; ok {
		return name
	}
	return driverNames[dongle.DialectMySQL]
}

// Conn is an open database handle with its translator.
type Conn struct {
	db         *sql.DB
	cfg        Config
	dialect    dongle.Dialect
	translator *dongle.Translator
	logger     *log.Logger

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger shared by the connection and its translator.
func WithLogger(logger *log.Logger) Option {
	return func(c *Conn) {
		c.logger = logger
	}
}

// Open validates cfg, opens the driver for its dialect and pings the server.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Conn, error) {
	dialect, err := dongle.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, dgerrors.Wrap(err, dgerrors.ErrCodeDriverMissing, "no database driver for dialect").
			WithOp("conn.Open").
			WithField("driver", cfg.Driver).
			Err()
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, dgerrors.New(dgerrors.ErrCodeConfigMissing, "dsn is required").
			WithOp("conn.Open").
			WithField("driver", cfg.Driver).
			Err()
	}
	if dialect == dongle.DialectMySQL {
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return nil, dgerrors.Wrap(err, dgerrors.ErrCodeInvalidDSN, "invalid mysql dsn").
				WithOp("conn.Open").
				Err()
		}
	}

	driverName := SQLDriver(dialect)
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, dgerrors.Wrap(err, dgerrors.ErrCodeConnectionFailed, "failed to open database").
			WithOp("conn.Open").
			WithField("driver", driverName).
			Err()
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dgerrors.Wrap(err, dgerrors.ErrCodeConnectionFailed, "failed to ping database").
			WithOp("conn.Open").
			WithField("driver", driverName).
			Err()
	}

	c := NewConn(db, cfg, opts...)
	c.logger.System().Info("connected",
		"dialect", dialect.String(),
		"driver", driverName,
	)
	return c, nil
}

// NewConn wraps an already open handle. An unrecognised cfg.Driver yields a
// connection whose translator passes fragments through unchanged.
func NewConn(db *sql.DB, cfg Config, opts ...Option) *Conn {
	c := &Conn{
		db:     db,
		cfg:    cfg,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.translator = dongle.NewFromProvider(c, dongle.WithLogger(c.logger))
	c.dialect = c.translator.Dialect()
	return c
}

// DriverName returns the configured driver name.
func (c *Conn) DriverName() string {
	return c.cfg.Driver
}

// TablePrefix returns the configured table prefix.
func (c *Conn) TablePrefix() string {
	return c.cfg.TablePrefix
}

// Strict reports whether the connection is configured for strict mode.
func (c *Conn) Strict() bool {
	return c.cfg.Strict
}

// Dialect returns the resolved dialect.
func (c *Conn) Dialect() dongle.Dialect {
	return c.dialect
}

// DB returns the underlying handle.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// Translator returns the connection's translator. The same instance is
// returned on every call.
func (c *Conn) Translator() *dongle.Translator {
	return c.translator
}

// Raw translates a fragment for this connection's dialect.
func (c *Conn) Raw(sql string) dongle.Expression {
	return c.translator.Raw(sql)
}

// Exec translates query and executes it.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.db.ExecContext(ctx, c.translator.Translate(query), args...)
	if err != nil {
		return nil, c.wrapClosed(err, "Conn.Exec")
	}
	return res, nil
}

// Query translates query and runs it.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.db.QueryContext(ctx, c.translator.Translate(query), args...)
	if err != nil {
		return nil, c.wrapClosed(err, "Conn.Query")
	}
	return rows, nil
}

// QueryRow translates query and runs it expecting at most one row.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.translator.Translate(query), args...)
}

// Admin reserves a dedicated session and returns an Admin bound to it. The
// caller must Close the Admin to release the session.
func (c *Conn) Admin(ctx context.Context) (*admin.Admin, error) {
	session, err := c.db.Conn(ctx)
	if err != nil {
		return nil, c.wrapClosed(err, "Conn.Admin")
	}
	return admin.New(session, c.dialect, c.cfg.TablePrefix,
		admin.WithStrict(c.cfg.Strict),
		admin.WithLogger(c.logger),
	), nil
}

// Close closes the underlying handle. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.db.Close()
	})
	return c.closeErr
}

func (c *Conn) wrapClosed(err error, op string) error {
	if dgerrors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "sql: database is closed") {
		return dgerrors.Wrap(err, dgerrors.ErrCodeConnectionClosed, "connection closed").WithOp(op).Err()
	}
	return err
}
