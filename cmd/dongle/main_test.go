package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ha1tch/dongle/pkg/version"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{
			name: "postgres from args",
			args: []string{"translate", "-d", "pgsql", "SELECT CONCAT(a, b) FROM t"},
			want: "SELECT a || b FROM t\n",
		},
		{
			name: "args are joined",
			args: []string{"translate", "--driver", "sqlite", "SELECT", "*", "FROM", "t", "WHERE", "active", "=", "true"},
			want: "SELECT * FROM t WHERE active = 1\n",
		},
		{
			name:  "sql server from stdin",
			stdin: "SELECT IFNULL(x, 0) FROM t",
			args:  []string{"translate", "-d", "mssql"},
			want:  "SELECT ISNULL(x, 0) FROM t\n",
		},
		{
			name:  "multi-line stdin keeps newlines",
			stdin: "SELECT GROUP_CONCAT(name SEPARATOR ', ')\nFROM tags\n",
			args:  []string{"translate", "-d", "postgres"},
			want:  "SELECT string_agg(name::VARCHAR, ', ')\nFROM tags\n",
		},
		{
			name: "reference dialect passes through",
			args: []string{"translate", "SELECT CONCAT(a, b), IFNULL(c, 0) FROM t WHERE d = true"},
			want: "SELECT CONCAT(a, b), IFNULL(c, 0) FROM t WHERE d = true\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runCLI(t, tc.stdin, tc.args...)
			require.Equal(t, exitOK, res.code, res.stderr)
			assert.Equal(t, tc.want, res.stdout)
		})
	}
}

func TestTranslate_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT CONCAT(a, CONCAT(b, c)) FROM t"), 0o644))

	res := runCLI(t, "", "translate", "-d", "sqlite", "--file", path)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, "SELECT a || b || c FROM t\n", res.stdout)

	res = runCLI(t, "", "translate", "-d", "sqlite", "--file", path, "SELECT 1")
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, "--file cannot be combined")

	res = runCLI(t, "", "translate", "--file", filepath.Join(t.TempDir(), "missing.sql"))
	assert.Equal(t, exitFailure, res.code)
}

func TestCast(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"postgres default type", []string{"cast", "-d", "pgsql", "nest_left"}, "CAST(nest_left AS INTEGER)\n"},
		{"postgis explicit type", []string{"cast", "-d", "postgis", "--type", "BIGINT", "parent_id"}, "CAST(parent_id AS BIGINT)\n"},
		{"sqlite unchanged", []string{"cast", "-d", "sqlite", "nest_left"}, "nest_left\n"},
		{"mysql unchanged", []string{"cast", "nest_left"}, "nest_left\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runCLI(t, "", tc.args...)
			require.Equal(t, exitOK, res.code, res.stderr)
			assert.Equal(t, tc.want, res.stdout)
		})
	}

	res := runCLI(t, "", "cast")
	assert.Equal(t, exitUsage, res.code)
}

func TestDialects(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		res := runCLI(t, "", "dialects", "--format", "json")
		require.Equal(t, exitOK, res.code, res.stderr)

		var rows []dialectRow
		require.NoError(t, json.Unmarshal([]byte(res.stdout), &rows))
		require.Len(t, rows, 5)
		assert.Equal(t, "pgsql", rows[1].Name)
		assert.Equal(t, "pgx", rows[1].Driver)
		assert.Equal(t, "string_agg", rows[1].Features.AggregateFunc)
		assert.Equal(t, []string{}, rows[2].Aliases)
	})

	t.Run("yaml", func(t *testing.T) {
		res := runCLI(t, "", "dialects", "-o", "yaml")
		require.Equal(t, exitOK, res.code, res.stderr)

		var rows []dialectRow
		require.NoError(t, yaml.Unmarshal([]byte(res.stdout), &rows))
		require.Len(t, rows, 5)
		assert.Equal(t, "sqlsrv", rows[4].Name)
		assert.Equal(t, "ISNULL", rows[4].Features.NullCoalesceFunc)
		assert.True(t, rows[3].Features.IntegerBooleans)
	})

	t.Run("table", func(t *testing.T) {
		res := runCLI(t, "", "dialects")
		require.Equal(t, exitOK, res.code, res.stderr)
		for _, want := range []string{"mysql", "postgis", "string_agg", "dbo.GROUP_CONCAT_D", "a || b", "COALESCE", "1 / 0"} {
			assert.Contains(t, res.stdout, want)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		res := runCLI(t, "", "dialects", "--format", "xml")
		assert.Equal(t, exitUsage, res.code)
	})
}

func TestWatchOnce(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "tags.sql"), []byte("SELECT GROUP_CONCAT(name) FROM tags"), 0o644))

	res := runCLI(t, "", "watch", "-d", "sqlsrv", "--once", src, dst)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "translated 1 file(s) for sqlsrv")
	assert.Contains(t, res.stdout, "created")

	out, err := os.ReadFile(filepath.Join(dst, "tags.sql"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT dbo.GROUP_CONCAT_D(name) FROM tags", string(out))

	res = runCLI(t, "", "watch", src)
	assert.Equal(t, exitUsage, res.code)
}

func TestMigrate_NonMySQLDoesNothing(t *testing.T) {
	res := runCLI(t, "", "migrate", "timestamps", "-d", "sqlite", "--dsn", ":memory:", "--log-level", "off", "users")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "nothing to do for sqlite")

	res = runCLI(t, "", "migrate", "strict-off", "-d", "sqlite", "--dsn", ":memory:", "--log-level", "off")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "nothing to do for sqlite")
}

func TestMigrate_Errors(t *testing.T) {
	res := runCLI(t, "", "migrate", "timestamps", "-d", "mysql")
	assert.Equal(t, exitUsage, res.code, "table argument is required")

	res = runCLI(t, "", "migrate", "timestamps", "-d", "mysql", "users")
	assert.Equal(t, exitUsage, res.code, "dsn is required")
	assert.Contains(t, res.stderr, "dsn is required")

	res = runCLI(t, "", "migrate", "strict-off", "-d", "mysql", "--dsn", "not a dsn")
	assert.Equal(t, exitFailure, res.code)
	assert.Contains(t, res.stderr, "invalid mysql dsn")
}

func TestVersion(t *testing.T) {
	res := runCLI(t, "", "version")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "dongle version "+version.String())
	assert.Contains(t, res.stdout, "built with go")

	res = runCLI(t, "", "--version")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, "dongle version "+version.String()+"\n", res.stdout)
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantStderr string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"unknown flag", []string{"translate", "--frobnicate"}, "unknown flag"},
		{"unknown driver", []string{"translate", "-d", "oracle", "SELECT 1"}, "unsupported driver"},
		{"bad log level", []string{"translate", "--log-level", "loud", "SELECT 1"}, "log.level"},
		{"missing config file", []string{"translate", "--config", "/nonexistent/dongle.yaml", "SELECT 1"}, "config file not found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runCLI(t, "", tc.args...)
			assert.Equal(t, exitUsage, res.code)
			assert.Contains(t, res.stderr, tc.wantStderr)
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dongle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver: pgsql\nlog:\n  level: error\n"), 0o644))

	res := runCLI(t, "", "translate", "--config", path, "SELECT IFNULL(a, 0)")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, "SELECT COALESCE(a, 0)\n", res.stdout)

	// Flags override the file
	res = runCLI(t, "", "translate", "--config", path, "-d", "sqlsrv", "SELECT IFNULL(a, 0)")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, "SELECT ISNULL(a, 0)\n", res.stdout)
}
