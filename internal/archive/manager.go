package archive

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound     = errors.New("archive not found")
	ErrEmptyPayload = errors.New("payload is empty")
	ErrInvalidDate  = errors.New("invalid archive date")
)

const gzipLevel = 6

type Config struct {
	BasePath      string
	RetentionDays int
}

type Entry struct {
	Date       time.Time
	Path       string
	Size       int64
	Compressed bool
	Modified   time.Time
}

// Manager persists daily monitoring graphs under a date-partitioned tree:
// <base>/YYYY/MM/DD/etna_YYYYMMDD.png[.gz]. At most one variant exists per
// date; writers targeting the same date serialize on a per-day lock.
type Manager struct {
	cfg   Config
	log   *logrus.Entry
	locks sync.Map
}

func NewManager(logger *logrus.Logger, cfg Config) *Manager {
	if cfg.BasePath == "" {
		cfg.BasePath = "data/archives"
	}
	return &Manager{
		cfg: cfg,
		log: logger.WithField("component", "archive_manager"),
	}
}

func (m *Manager) dayDir(date time.Time) string {
	return filepath.Join(m.cfg.BasePath, date.Format("2006"), date.Format("01"), date.Format("02"))
}

func fileName(date time.Time) string {
	return "etna_" + date.Format("20060102") + ".png"
}

// lockFor serializes same-date writers within this process. Across
// processes the temp-file + rename step already keeps the final path
// whole, so no filesystem lock is taken.
func (m *Manager) lockFor(dir string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(dir, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SaveDailyGraph writes the payload for the given date, replacing any
// existing archive for that date, and returns the path written. A
// successful save triggers retention cleanup unless retention is disabled.
func (m *Manager) SaveDailyGraph(payload []byte, date time.Time, compress bool) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	if date.IsZero() {
		return "", ErrInvalidDate
	}

	finalPath, err := m.write(payload, date, compress)
	if err != nil {
		return "", err
	}

	m.log.WithFields(logrus.Fields{
		"date":       date.Format("2006-01-02"),
		"path":       finalPath,
		"compressed": compress,
	}).Info("Daily graph archived")

	if m.cfg.RetentionDays >= 0 {
		if _, err := m.CleanupOldArchives(); err != nil {
			m.log.WithError(err).Warn("Retention cleanup after save failed")
		}
	}
	return finalPath, nil
}

func (m *Manager) write(payload []byte, date time.Time, compress bool) (string, error) {
	dir := m.dayDir(date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create archive directory %s: %w", dir, err)
	}

	rawPath := filepath.Join(dir, fileName(date))
	finalPath := rawPath
	stalePath := rawPath + ".gz"
	if compress {
		finalPath = rawPath + ".gz"
		stalePath = rawPath
	}

	mu := m.lockFor(dir)
	mu.Lock()
	defer mu.Unlock()

	tmp, err := os.CreateTemp(dir, ".etna_*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if err := writePayload(tmp, payload, compress); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write archive for %s: %w", date.Format("2006-01-02"), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("flush archive for %s: %w", date.Format("2006-01-02"), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close archive for %s: %w", date.Format("2006-01-02"), err)
	}

	// A re-archive with a different compress flag must not leave the
	// previous variant behind as a second entry for the date.
	if err := os.Remove(stalePath); err != nil && !os.IsNotExist(err) {
		m.log.WithFields(logrus.Fields{
			"path":  stalePath,
			"error": err,
		}).Warn("Failed to remove stale archive variant")
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename archive for %s: %w", date.Format("2006-01-02"), err)
	}
	return finalPath, nil
}

func writePayload(f *os.File, payload []byte, compress bool) error {
	if !compress {
		_, err := f.Write(payload)
		return err
	}
	gz, err := gzip.NewWriterLevel(f, gzipLevel)
	if err != nil {
		return err
	}
	if _, err := gz.Write(payload); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// GetArchive returns the stored payload for the date, decompressing
// transparently. A missing date yields ErrNotFound, not an I/O error.
func (m *Manager) GetArchive(date time.Time) ([]byte, error) {
	if date.IsZero() {
		return nil, ErrInvalidDate
	}
	rawPath := filepath.Join(m.dayDir(date), fileName(date))
	gzPath := rawPath + ".gz"

	f, err := os.Open(gzPath)
	if err == nil {
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("read compressed archive %s: %w", gzPath, err)
		}
		defer gz.Close()
		content, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("decompress archive %s: %w", gzPath, err)
		}
		return content, nil
	}
	if !os.IsNotExist(err) {
		// A present-but-unreadable variant is an I/O failure, not a miss.
		return nil, fmt.Errorf("open compressed archive %s: %w", gzPath, err)
	}

	content, err := os.ReadFile(rawPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read archive %s: %w", rawPath, err)
	}
	return content, nil
}

// ListArchives walks the tree and returns entries within the inclusive
// bounds, ordered by date ascending. A zero bound is unbounded on that side.
func (m *Manager) ListArchives(start, end time.Time) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(m.cfg.BasePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		date, compressed, ok := m.parseEntryPath(path)
		if !ok {
			return nil
		}
		if !start.IsZero() && date.Before(start) {
			return nil
		}
		if !end.IsZero() && date.After(end) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Entry deleted mid-walk, e.g. by a concurrent cleanup.
			return nil
		}
		entries = append(entries, Entry{
			Date:       date,
			Path:       path,
			Size:       info.Size(),
			Compressed: compressed,
			Modified:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", m.cfg.BasePath, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
	return entries, nil
}

func (m *Manager) parseEntryPath(path string) (time.Time, bool, bool) {
	rel, err := filepath.Rel(m.cfg.BasePath, path)
	if err != nil {
		return time.Time{}, false, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 {
		return time.Time{}, false, false
	}
	name := parts[3]
	compressed := strings.HasSuffix(name, ".png.gz")
	if !compressed && !strings.HasSuffix(name, ".png") {
		return time.Time{}, false, false
	}
	date, err := time.Parse("2006/01/02", strings.Join(parts[:3], "/"))
	if err != nil {
		return time.Time{}, false, false
	}
	return date, compressed, true
}

// CleanupOldArchives deletes every entry strictly older than today minus the
// retention window and prunes emptied day/month/year directories. Individual
// deletion failures are logged and skipped.
func (m *Manager) CleanupOldArchives() (int, error) {
	if m.cfg.RetentionDays < 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, -m.cfg.RetentionDays)

	entries, err := m.ListArchives(time.Time{}, time.Time{})
	if err != nil {
		return 0, err
	}

	log := m.log.WithField("operation", "retention_cleanup")
	deleted := 0
	for _, entry := range entries {
		if !entry.Date.Before(cutoff) {
			continue
		}
		if err := os.Remove(entry.Path); err != nil {
			log.WithFields(logrus.Fields{
				"date":  entry.Date.Format("2006-01-02"),
				"path":  entry.Path,
				"error": err,
			}).Error("Failed to delete expired archive")
			continue
		}
		deleted++
		m.pruneEmptyDirs(filepath.Dir(entry.Path))
	}

	if deleted > 0 {
		log.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format("2006-01-02"),
		}).Info("Expired archives removed")
	}
	return deleted, nil
}

func (m *Manager) pruneEmptyDirs(dir string) {
	base := filepath.Clean(m.cfg.BasePath)
	for dir != base && strings.HasPrefix(dir, base+string(filepath.Separator)) {
		// Remove fails on non-empty directories, which ends the climb.
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
