//go:build integration

package conn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ha1tch/dongle/pkg/admin"
	"github.com/ha1tch/dongle/pkg/dongle"
	"github.com/ha1tch/dongle/pkg/log"
)

func startMySQL(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := mysql.Run(ctx, "mysql:8",
		mysql.WithUsername("root"),
		mysql.WithPassword("secret"),
		mysql.WithDatabase("dongle"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)
	return dsn
}

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithUsername("dongle"),
		postgres.WithPassword("secret"),
		postgres.WithDatabase("dongle"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestIntegration_MySQLAdmin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := Open(ctx, Config{
		Driver:      "mysql",
		DSN:         startMySQL(ctx, t),
		TablePrefix: "app_",
		Strict:      true,
	}, WithLogger(log.Discard()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Exec(ctx, `CREATE TABLE app_posts (
		id INT PRIMARY KEY,
		title VARCHAR(50) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	require.NoError(t, err)

	// Zero dates need a relaxed session, so insert them through the admin's session.
	session, err := c.DB().Conn(ctx)
	require.NoError(t, err)
	adm := admin.New(session, c.Dialect(), c.TablePrefix(), admin.WithLogger(log.Discard()))
	defer adm.Close()

	require.NoError(t, adm.DisableStrictMode(ctx))
	assert.True(t, adm.StrictModeDisabled())

	_, err = session.ExecContext(ctx, "INSERT INTO app_posts VALUES (1, 'legacy', '0000-00-00 00:00:00', '0000-00-00 00:00:00')")
	require.NoError(t, err)

	require.NoError(t, adm.ConvertTimestamps(ctx, "posts"))

	var nullCount int
	err = session.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM app_posts WHERE created_at IS NULL AND updated_at IS NULL").Scan(&nullCount)
	require.NoError(t, err)
	assert.Equal(t, 1, nullCount)

	// Fragments pass through untouched on MySQL.
	_, err = c.Exec(ctx, "INSERT INTO app_posts (id, title) VALUES (2, 'b'), (3, 'a')")
	require.NoError(t, err)
	var titles string
	err = c.QueryRow(ctx, "SELECT GROUP_CONCAT(title ORDER BY title SEPARATOR ', ') FROM app_posts WHERE id > 1").Scan(&titles)
	require.NoError(t, err)
	assert.Equal(t, "a, b", titles)
}

func TestIntegration_PostgresTranslation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := Open(ctx, Config{Driver: "pgsql", DSN: startPostgres(ctx, t)}, WithLogger(log.Discard()))
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, dongle.DialectPostgres, c.Dialect())

	_, err = c.Exec(ctx, "CREATE TABLE users (id INT, first TEXT, last TEXT, nick TEXT, active BOOLEAN)")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "INSERT INTO users VALUES (1, 'Ada', 'Lovelace', NULL, true), (2, 'Alan', 'Turing', 'at', false)")
	require.NoError(t, err)

	var name, nick string
	err = c.QueryRow(ctx,
		"SELECT CONCAT(first, ' ', last), IFNULL(nick, '-') FROM users WHERE active = true").Scan(&name, &nick)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", name)
	assert.Equal(t, "-", nick)

	var ids string
	err = c.QueryRow(ctx, "SELECT GROUP_CONCAT(id SEPARATOR ',') FROM users").Scan(&ids)
	require.NoError(t, err)
	assert.Contains(t, []string{"1,2", "2,1"}, ids)

	var n int64
	err = c.QueryRow(ctx, "SELECT "+c.Translator().CastAs("'42'", "BIGINT")).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestIntegration_SQLiteTranslation(t *testing.T) {
	ctx := context.Background()

	c, err := Open(ctx, DefaultConfig(), WithLogger(log.Discard()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Exec(ctx, "CREATE TABLE tags (post_id INTEGER, name TEXT, visible INTEGER)")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "INSERT INTO tags VALUES (1, 'go', 1), (1, 'sql', 1), (2, 'hidden', 0)")
	require.NoError(t, err)

	var tags string
	err = c.QueryRow(ctx,
		"SELECT GROUP_CONCAT(name SEPARATOR '|') FROM (SELECT name FROM tags WHERE visible = true ORDER BY name)").Scan(&tags)
	require.NoError(t, err)
	assert.Equal(t, "go|sql", tags)
}
