package archive

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestManager(t *testing.T, base string, retentionDays int) *Manager {
	t.Helper()
	return NewManager(testLogger(), Config{BasePath: base, RetentionDays: retentionDays})
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func daysAgo(n int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	payload := []byte("fake png payload for round-trip")

	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			m := newTestManager(t, t.TempDir(), -1)
			date := day(2025, time.June, 15)

			path, err := m.SaveDailyGraph(payload, date, compress)
			require.NoError(t, err)
			assert.FileExists(t, path)

			got, err := m.GetArchive(date)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestSaveCompressedLayout(t *testing.T) {
	base := t.TempDir()
	m := newTestManager(t, base, -1)
	payload := []byte("0123456789")
	date := day(2025, time.November, 4)

	path, err := m.SaveDailyGraph(payload, date, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "2025", "11", "04", "etna_20251104.png.gz"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	decompressed, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	assert.Equal(t, payload, decompressed)

	got, err := m.GetArchive(date)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSaveOverwritesExistingVariant(t *testing.T) {
	base := t.TempDir()
	m := newTestManager(t, base, -1)
	date := day(2025, time.April, 2)

	first := []byte("first payload")
	_, err := m.SaveDailyGraph(first, date, false)
	require.NoError(t, err)

	second := []byte("second payload, different length")
	_, err = m.SaveDailyGraph(second, date, true)
	require.NoError(t, err)

	got, err := m.GetArchive(date)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	entries, err := m.ListArchives(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Compressed)

	// The stale uncompressed file must be gone.
	files, err := os.ReadDir(filepath.Join(base, "2025", "04", "02"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSaveValidation(t *testing.T) {
	m := newTestManager(t, t.TempDir(), -1)

	_, err := m.SaveDailyGraph(nil, day(2025, time.May, 1), false)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = m.SaveDailyGraph([]byte("content"), time.Time{}, false)
	assert.ErrorIs(t, err, ErrInvalidDate)

	entries, err := m.ListArchives(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetArchiveNotFound(t *testing.T) {
	m := newTestManager(t, t.TempDir(), -1)

	_, err := m.GetArchive(day(2025, time.January, 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListArchives(t *testing.T) {
	m := newTestManager(t, t.TempDir(), -1)

	dates := []time.Time{
		day(2025, time.March, 3),
		day(2025, time.March, 1),
		day(2025, time.April, 10),
	}
	for i, date := range dates {
		_, err := m.SaveDailyGraph([]byte(fmt.Sprintf("payload-%d", i)), date, i%2 == 0)
		require.NoError(t, err)
	}

	t.Run("unbounded", func(t *testing.T) {
		entries, err := m.ListArchives(time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, day(2025, time.March, 1), entries[0].Date)
		assert.Equal(t, day(2025, time.March, 3), entries[1].Date)
		assert.Equal(t, day(2025, time.April, 10), entries[2].Date)
		for _, entry := range entries {
			assert.Greater(t, entry.Size, int64(0))
			assert.False(t, entry.Modified.IsZero())
		}
	})

	t.Run("inclusive bounds", func(t *testing.T) {
		entries, err := m.ListArchives(day(2025, time.March, 1), day(2025, time.March, 3))
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, day(2025, time.March, 1), entries[0].Date)
		assert.Equal(t, day(2025, time.March, 3), entries[1].Date)
	})

	t.Run("start only", func(t *testing.T) {
		entries, err := m.ListArchives(day(2025, time.March, 2), time.Time{})
		require.NoError(t, err)
		require.Len(t, entries, 2)
	})

	t.Run("end only", func(t *testing.T) {
		entries, err := m.ListArchives(time.Time{}, day(2025, time.March, 2))
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("empty range", func(t *testing.T) {
		entries, err := m.ListArchives(day(2026, time.January, 1), day(2026, time.December, 31))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestCleanupOldArchives(t *testing.T) {
	base := t.TempDir()
	// Write with retention disabled so old entries survive until the
	// cleanup under test runs.
	writer := newTestManager(t, base, -1)
	cleaner := newTestManager(t, base, 30)

	var expiredPaths []string
	for _, n := range []int{40, 31} {
		path, err := writer.SaveDailyGraph([]byte("expired"), daysAgo(n), true)
		require.NoError(t, err)
		expiredPaths = append(expiredPaths, path)
	}
	for _, n := range []int{30, 5, 0} {
		_, err := writer.SaveDailyGraph([]byte("retained"), daysAgo(n), true)
		require.NoError(t, err)
	}

	deleted, err := cleaner.CleanupOldArchives()
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	entries, err := cleaner.ListArchives(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, daysAgo(30), entries[0].Date)

	for _, path := range expiredPaths {
		assert.NoFileExists(t, path)
		_, err := os.Stat(filepath.Dir(path))
		assert.True(t, os.IsNotExist(err), "emptied day directory should be pruned")
	}

	deleted, err = cleaner.CleanupOldArchives()
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func requirePermissionChecks(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("directory permissions are not enforced on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}
}

func TestCleanupContinuesPastFailedEntry(t *testing.T) {
	requirePermissionChecks(t)

	base := t.TempDir()
	writer := newTestManager(t, base, -1)
	cleaner := newTestManager(t, base, 30)

	stuckPath, err := writer.SaveDailyGraph([]byte("stuck"), daysAgo(40), false)
	require.NoError(t, err)
	expiredPath, err := writer.SaveDailyGraph([]byte("expired"), daysAgo(35), false)
	require.NoError(t, err)
	keptPath, err := writer.SaveDailyGraph([]byte("kept"), daysAgo(5), false)
	require.NoError(t, err)

	stuckDir := filepath.Dir(stuckPath)
	require.NoError(t, os.Chmod(stuckDir, 0555))
	t.Cleanup(func() { os.Chmod(stuckDir, 0755) })

	deleted, err := cleaner.CleanupOldArchives()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "cleanup should delete the remaining expired entry")
	assert.FileExists(t, stuckPath)
	assert.NoFileExists(t, expiredPath)
	assert.FileExists(t, keptPath)

	// Once the directory is writable again, a later run converges.
	require.NoError(t, os.Chmod(stuckDir, 0755))
	deleted, err = cleaner.CleanupOldArchives()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, stuckPath)
}

func TestGetArchiveUnreadableVariant(t *testing.T) {
	requirePermissionChecks(t)

	m := newTestManager(t, t.TempDir(), -1)
	date := day(2025, time.August, 8)

	path, err := m.SaveDailyGraph([]byte("payload"), date, true)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(path, 0000))
	t.Cleanup(func() { os.Chmod(path, 0644) })

	_, err = m.GetArchive(date)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "an unreadable archive must not be reported as missing")
}

func TestCleanupDisabled(t *testing.T) {
	base := t.TempDir()
	m := newTestManager(t, base, -1)

	_, err := m.SaveDailyGraph([]byte("ancient"), daysAgo(400), false)
	require.NoError(t, err)

	deleted, err := m.CleanupOldArchives()
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	entries, err := m.ListArchives(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConcurrentSavesSameDate(t *testing.T) {
	m := newTestManager(t, t.TempDir(), -1)
	date := day(2025, time.July, 20)

	a := bytes.Repeat([]byte{'a'}, 4096)
	b := bytes.Repeat([]byte{'b'}, 8192)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		payload := a
		if i%2 == 1 {
			payload = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.SaveDailyGraph(payload, date, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.GetArchive(date)
	require.NoError(t, err)
	if !bytes.Equal(got, a) && !bytes.Equal(got, b) {
		t.Fatalf("archived content matches neither writer: %d bytes", len(got))
	}

	entries, err := m.ListArchives(time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(len(got)), entries[0].Size)
}
