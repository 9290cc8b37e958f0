package catalog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeBooks = "title,price,rating,category\n" +
	"One,5.00,1,A\n" +
	"Two,10.00,2,B\n" +
	"Three,15.00,3,C\n"

func TestCacheReloadsWhenFileChanges(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1_700_000_000, 0)
	path := writeCatalog(t, dir, threeBooks, base)
	engine := newTestEngine(t, path)

	avg, err := engine.AvgPrice()
	require.NoError(t, err)
	assert.InDelta(t, 10.0, avg, 1e-9)

	writeCatalog(t, dir, "title,price\nOnly,50.00\n", base.Add(time.Minute))

	avg, err = engine.AvgPrice()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, avg, 1e-9)
}

func TestCacheSkipsReloadWhenUnchanged(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), threeBooks, time.Unix(1_700_000_000, 0))
	metrics := NewMetrics()
	cache := NewCache(path, metrics)

	calls := 0
	cache.load = func(p string) (*Table, error) {
		calls++
		return Load(p)
	}

	for i := 0; i < 5; i++ {
		_, err := cache.Table()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReloadsTotal.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Rows))
}

func TestCacheKeepsLastGoodTableOnLoadFailure(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1_700_000_000, 0)
	path := writeCatalog(t, dir, threeBooks, base)
	metrics := NewMetrics()
	cache := NewCache(path, metrics)

	good, err := cache.Table()
	require.NoError(t, err)
	require.Equal(t, 3, good.Len())

	writeCatalog(t, dir, "title,price\nBroken,1.00,extra\n", base.Add(time.Minute))

	_, err = cache.Table()
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReloadsTotal.WithLabelValues("error")))

	// The failed file is retried on every call and the old snapshot survives.
	_, err = cache.Table()
	require.Error(t, err)
	assert.Same(t, good, cache.current.Load().table)

	writeCatalog(t, dir, "title,price\nFixed,2.00\n", base.Add(2*time.Minute))
	fixed, err := cache.Table()
	require.NoError(t, err)
	assert.Equal(t, 1, fixed.Len())
}

func TestCacheTracksFileRemoval(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, threeBooks, time.Unix(1_700_000_000, 0))
	cache := NewCache(path, nil)

	table, err := cache.Table()
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	require.NoError(t, os.Remove(path))
	table, err = cache.Table()
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())

	writeCatalog(t, dir, threeBooks, time.Unix(1_700_000_000, 0))
	table, err = cache.Table()
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len(), "reappearing file with the old timestamp must still reload")
}

func TestCacheHealth(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		cache := NewCache(filepath.Join(dir, "absent.csv"), nil)
		h, err := cache.Health()
		require.NoError(t, err)
		assert.False(t, h.Exists)
		assert.Equal(t, 0, h.Rows)
		assert.Nil(t, h.LastModified)
	})

	t.Run("present file", func(t *testing.T) {
		modTime := time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)
		path := writeCatalog(t, dir, threeBooks, modTime)
		cache := NewCache(path, nil)

		h, err := cache.Health()
		require.NoError(t, err)
		assert.True(t, h.Exists)
		assert.Equal(t, 3, h.Rows)
		require.NotNil(t, h.LastModified)
		assert.Equal(t, "2025-11-04T13:09:13Z", *h.LastModified)
	})
}

func TestCacheConcurrentReadersSeeWholeTables(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1_700_000_000, 0)
	path := writeCatalog(t, dir, threeBooks, base)
	cache := NewCache(path, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				table, err := cache.Table()
				if err != nil {
					// A write may be observed half-done; that is not a torn table.
					continue
				}
				for i, row := range table.Rows {
					if row.ID != i+1 {
						select {
						case errs <- "non-sequential ids":
						default:
						}
						return
					}
				}
			}
		}()
	}

	for i := 1; i <= 20; i++ {
		writeCatalog(t, dir, threeBooks, base.Add(time.Duration(i)*time.Second))
	}
	close(stop)
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Fatal(msg)
	}
}
