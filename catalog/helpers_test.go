package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/openbooks/models"
)

var timeZero = time.Unix(1_700_000_000, 0)

const sampleCSV = "\ufefftitle,price,rating,availability,category,image_url,product_url\n" +
	"A Light in the Attic,£51.77,Three,In stock,Poetry,http://img/1.jpg,http://books/1\n" +
	"Tipping the Velvet,£53.74,One,In stock,Historical Fiction,http://img/2.jpg,http://books/2\n" +
	"Soumission,£50.10,One,In stock,Fiction,http://img/3.jpg,http://books/3\n" +
	"Sharp Objects,£47.82,Four,In stock,Mystery,http://img/4.jpg,http://books/4\n" +
	"Sapiens,£54.23,Five,In stock,History,http://img/5.jpg,http://books/5\n" +
	"The Requiem Red,£22.65,One,In stock, Young Adult ,http://img/6.jpg,http://books/6\n" +
	"The Dirty Little Secrets,£33.34,Four,In stock,Poetry,http://img/7.jpg,http://books/7\n" +
	"Unpriced,n/a,,Out of stock,,http://img/8.jpg,http://books/8\n"

// writeCatalog writes content to dir/books.csv and stamps it with modTime.
func writeCatalog(t *testing.T, dir, content string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, "books.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func newTestEngine(t *testing.T, path string) *Engine {
	t.Helper()
	engine, err := NewEngine(NewCache(path, NewMetrics()))
	require.NoError(t, err)
	return engine
}

func sampleEngine(t *testing.T) *Engine {
	t.Helper()
	path := writeCatalog(t, t.TempDir(), sampleCSV, timeZero)
	return newTestEngine(t, path)
}

func idsOf(rows []models.Row) []int {
	out := make([]int, len(rows))
	for i, row := range rows {
		out[i] = row.ID
	}
	return out
}
