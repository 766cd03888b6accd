package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("dump"), 0o600))
	require.NoError(t, os.Chtimes(p, mod, mod))
	return p
}

func TestPurgeRemovesOnlyOldDumps(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := touch(t, dir, "crash-1.log", now.Add(-48*time.Hour))
	fresh := touch(t, dir, "crash-2.log", now.Add(-time.Hour))
	other := touch(t, dir, "notes.log", now.Add(-48*time.Hour))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "crash-dir.log"), 0o700))

	n, err := Purge(dir, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
	assert.DirExists(t, filepath.Join(dir, "crash-dir.log"))
}

func TestPurgeMissingDir(t *testing.T) {
	n, err := Purge(filepath.Join(t.TempDir(), "absent"), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartValidates(t *testing.T) {
	_, err := Start(context.Background(), Options{Dir: t.TempDir(), Cron: "not a cron", MaxAge: time.Hour})
	assert.Error(t, err)

	_, err = Start(context.Background(), Options{Dir: t.TempDir(), Cron: "0 * * * *"})
	assert.Error(t, err)
}

func TestManagerRunOnceAndStop(t *testing.T) {
	dir := t.TempDir()
	old := touch(t, dir, "crash-9.log", time.Now().Add(-72*time.Hour))

	m, err := Start(context.Background(), Options{Dir: dir, Cron: "0 0 1 1 *", MaxAge: 24 * time.Hour})
	require.NoError(t, err)
	m.RunOnce()
	assert.NoFileExists(t, old)

	stopped := make(chan struct{})
	go func() { m.Stop(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
