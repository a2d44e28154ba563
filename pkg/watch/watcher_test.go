package watch

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/dongle/pkg/dongle"
	dgerrors "github.com/ha1tch/dongle/pkg/errors"
	"github.com/ha1tch/dongle/pkg/log"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(src, dst, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, filepath.Base(src)+":"+event)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.events...)
	sort.Strings(out)
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func newTestWatcher(t *testing.T, src, dst string, d dongle.Dialect, opts ...WatcherOption) *Watcher {
	t.Helper()
	logger := log.New(log.Config{DefaultLevel: log.LevelError, Output: os.Stderr})
	w, err := NewWatcher(src, dst, dongle.New(d, ""), logger, opts...)
	require.NoError(t, err)
	return w
}

func TestTranslateAll(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	writeFile(t, filepath.Join(src, "users.sql"), "SELECT CONCAT(first, ' ', last) FROM users WHERE active = true\n")
	writeFile(t, filepath.Join(src, "reports", "tags.SQL"), "SELECT IFNULL(name, '') FROM tags\n")
	writeFile(t, filepath.Join(src, "README.md"), "not sql")
	writeFile(t, filepath.Join(src, ".hidden", "skip.sql"), "SELECT 1")

	rec := &recorder{}
	w := newTestWatcher(t, src, dst, dongle.DialectSQLite, WithOnTranslate(rec.record))

	n, err := w.TranslateAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "SELECT first || ' ' || last FROM users WHERE active = 1\n", readFile(t, filepath.Join(dst, "users.sql")))
	assert.Equal(t, "SELECT IFNULL(name, '') FROM tags\n", readFile(t, filepath.Join(dst, "reports", "tags.SQL")))
	assert.NoFileExists(t, filepath.Join(dst, "README.md"))
	assert.NoDirExists(t, filepath.Join(dst, ".hidden"))
	assert.Equal(t, []string{"tags.SQL:created", "users.sql:created"}, rec.snapshot())

	// A second pass finds the outputs current
	_, err = w.TranslateAll()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tags.SQL:created", "tags.SQL:unchanged",
		"users.sql:created", "users.sql:unchanged",
	}, rec.snapshot())
}

func TestTranslateAll_SkipsOutputInsideSource(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(src, "out")

	writeFile(t, filepath.Join(src, "q.sql"), "SELECT IFNULL(a, 0)")

	w := newTestWatcher(t, src, dst, dongle.DialectPostgres)

	n, err := w.TranslateAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.TranslateAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "outputs are not treated as sources")
	assert.Equal(t, "SELECT COALESCE(a, 0)", readFile(t, filepath.Join(dst, "q.sql")))
}

func TestNewWatcher_RejectsOutputContainingSource(t *testing.T) {
	root := t.TempDir()

	for _, dst := range []string{root, filepath.Dir(root)} {
		_, err := NewWatcher(root, dst, dongle.New(dongle.DialectSQLite, ""), log.Discard())
		require.Error(t, err)
		assert.True(t, dgerrors.IsCode(err, dgerrors.ErrCodeConfigValidation))
	}
}

func TestWatcher_StartStop(t *testing.T) {
	w := newTestWatcher(t, t.TempDir(), t.TempDir(), dongle.DialectSQLite)

	assert.False(t, w.IsRunning())
	require.NoError(t, w.Start())
	assert.True(t, w.IsRunning())
	require.NoError(t, w.Start())

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

func TestWatcher_DropsBatchAfterStop(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	srcPath := filepath.Join(src, "late.sql")
	writeFile(t, srcPath, "SELECT CONCAT(a, b)")

	rec := &recorder{}
	w := newTestWatcher(t, src, dst, dongle.DialectSQLite, WithOnTranslate(rec.record))
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())

	// A debounce timer that fired just before Stop runs its batch late
	w.mu.Lock()
	w.pendingEvents[srcPath] = fsnotify.Write
	w.mu.Unlock()
	w.processPendingEvents()

	_, err := os.Stat(filepath.Join(dst, "late.sql"))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, rec.snapshot())
}

func TestWatcher_TranslatesChangedFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	rec := &recorder{}
	w := newTestWatcher(t, src, dst, dongle.DialectSQLServer,
		WithDebounceDelay(20*time.Millisecond),
		WithOnTranslate(rec.record),
	)
	require.NoError(t, w.Start())
	defer w.Stop()

	srcPath := filepath.Join(src, "nick.sql")
	dstPath := filepath.Join(dst, "nick.sql")

	writeFile(t, srcPath, "SELECT IFNULL(nick, '') FROM users")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(dstPath)
		return err == nil && string(b) == "SELECT ISNULL(nick, '') FROM users"
	}, 2*time.Second, 20*time.Millisecond)

	writeFile(t, srcPath, "SELECT GROUP_CONCAT(nick) FROM users")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(dstPath)
		return err == nil && string(b) == "SELECT dbo.GROUP_CONCAT_D(nick) FROM users"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(srcPath))
	require.Eventually(t, func() bool {
		_, err := os.Stat(dstPath)
		return os.IsNotExist(err)
	}, 2*time.Second, 20*time.Millisecond)

	assert.Contains(t, rec.snapshot(), "nick.sql:removed")
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	w := newTestWatcher(t, src, dst, dongle.DialectPostgres, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	sub := filepath.Join(src, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Give the watcher time to register the new directory
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(sub, "q.sql"), "SELECT CONCAT(a, b)")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(dst, "nested", "q.sql"))
		return err == nil && string(b) == "SELECT a || b"
	}, 2*time.Second, 20*time.Millisecond)
}
