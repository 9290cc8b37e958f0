package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/openbooks/models"
)

// snapshot pairs a table with the file state it was loaded from.
type snapshot struct {
	table   *Table
	exists  bool
	modTime time.Time
	gen     uint64
}

func (s *snapshot) matches(exists bool, modTime time.Time) bool {
	if s.exists != exists {
		return false
	}
	return !exists || s.modTime.Equal(modTime)
}

// Cache holds the most recently loaded table for one file path and reloads
// it whenever the file's modification time changes. Readers never block on
// each other; reloads are serialized and published with a single pointer swap.
type Cache struct {
	path    string
	metrics *Metrics
	load    func(string) (*Table, error)

	current atomic.Pointer[snapshot]

	mu  sync.Mutex // serializes reloads
	gen uint64
}

// NewCache binds a cache to path. metrics may be nil.
func NewCache(path string, metrics *Metrics) *Cache {
	return &Cache{
		path:    path,
		metrics: metrics,
		load:    Load,
	}
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// Table returns the current table, reloading it first if the file changed.
// On a failed reload the previous table stays cached and the error is
// returned.
func (c *Cache) Table() (*Table, error) {
	s, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return s.table, nil
}

// Health reports the file state and the size of the cached table.
func (c *Cache) Health() (models.Health, error) {
	s, err := c.snapshot()
	if err != nil {
		return models.Health{}, err
	}

	h := models.Health{
		Exists: s.exists,
		Rows:   s.table.Len(),
	}
	if s.exists {
		ts := s.modTime.UTC().Format(time.RFC3339)
		h.LastModified = &ts
	}
	return h, nil
}

func (c *Cache) snapshot() (*snapshot, error) {
	exists, modTime, err := c.observe()
	if err != nil {
		return nil, err
	}
	if s := c.current.Load(); s != nil && s.matches(exists, modTime) {
		return s, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have reloaded while we waited.
	if s := c.current.Load(); s != nil && s.matches(exists, modTime) {
		return s, nil
	}
	return c.reload(exists, modTime)
}

// reload must be called with c.mu held.
func (c *Cache) reload(exists bool, modTime time.Time) (*snapshot, error) {
	start := time.Now()
	table, err := c.load(c.path)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveReload("error", elapsed, 0)
		slog.Error("catalog reload failed",
			slog.String("path", c.path),
			slog.Any("error", err),
		)
		return nil, err
	}

	c.gen++
	s := &snapshot{
		table:   table,
		exists:  exists,
		modTime: modTime,
		gen:     c.gen,
	}
	c.current.Store(s)

	c.metrics.ObserveReload("ok", elapsed, table.Len())
	slog.Info("catalog reloaded",
		slog.String("path", c.path),
		slog.Bool("exists", exists),
		slog.Int("rows", table.Len()),
		slog.Duration("duration", elapsed),
	)
	return s, nil
}

func (c *Cache) observe() (bool, time.Time, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, fmt.Errorf("stat %s: %w", c.path, err)
	}
	return true, info.ModTime(), nil
}
