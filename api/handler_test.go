package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/openbooks/catalog"
	"github.com/aluiziolira/openbooks/config"
	"github.com/aluiziolira/openbooks/models"
)

const booksCSV = "\ufefftitle,price,rating,availability,category,image_url,product_url\n" +
	"A Light in the Attic,£51.77,Three,In stock,Poetry,http://img/1,http://books/1\n" +
	"Tipping the Velvet,53.74,1,In stock,Historical Fiction,http://img/2,http://books/2\n" +
	"Soumission,50.10,One,In stock,Fiction,http://img/3,http://books/3\n" +
	"Unpriced,n/a,,Out of stock,,http://img/4,http://books/4\n"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func writeBooks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.csv")
	require.NoError(t, os.WriteFile(path, []byte(booksCSV), 0o644))
	modTime := time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func newTestRouter(t *testing.T, path string, cfg *config.ServerConfig) *gin.Engine {
	t.Helper()
	engine, err := catalog.NewEngine(catalog.NewCache(path, nil))
	require.NoError(t, err)
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}
	return NewRouter(NewHandler(engine, cfg), cfg, RouterOptions{})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func rowIDs(rows []models.Row) []int {
	ids := make([]int, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestHealth(t *testing.T) {
	t.Run("present file", func(t *testing.T) {
		rec := get(t, newTestRouter(t, writeBooks(t), nil), "/api/v1/health")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode[map[string]any](t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, true, body["csv_exists"])
		assert.Equal(t, 4.0, body["rows"])
		assert.Equal(t, "2025-11-04T13:09:13Z", body["last_updated"])
	})

	t.Run("missing file", func(t *testing.T) {
		router := newTestRouter(t, filepath.Join(t.TempDir(), "absent.csv"), nil)
		rec := get(t, router, "/api/v1/health")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode[map[string]any](t, rec)
		assert.Equal(t, false, body["csv_exists"])
		assert.Equal(t, 0.0, body["rows"])
		assert.Contains(t, body, "last_updated")
		assert.Nil(t, body["last_updated"])
	})
}

func TestListBooks(t *testing.T) {
	router := newTestRouter(t, writeBooks(t), nil)

	rec := get(t, router, "/api/v1/books")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]models.Row](t, rec)
	assert.Equal(t, []int{1, 2, 3, 4}, rowIDs(rows))

	raw := decode[[]map[string]any](t, rec)
	assert.Nil(t, raw[3]["price"], "missing price must encode as null")
	assert.Nil(t, raw[3]["rating"], "missing rating must encode as null")
	assert.Equal(t, 51.77, raw[0]["price"])
	assert.Equal(t, 3.0, raw[0]["rating"])

	rec = get(t, router, "/api/v1/books?limit=2&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{2, 3}, rowIDs(decode[[]models.Row](t, rec)))

	rec = get(t, router, "/api/v1/books?offset=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestPaginationValidation(t *testing.T) {
	router := newTestRouter(t, writeBooks(t), nil)

	tests := []struct {
		name   string
		target string
		detail string
	}{
		{name: "zero limit", target: "/api/v1/books?limit=0", detail: "limit must be between 1 and 1000"},
		{name: "limit above max", target: "/api/v1/books?limit=1001", detail: "limit must be between 1 and 1000"},
		{name: "non-integer limit", target: "/api/v1/books?limit=ten", detail: "limit must be an integer"},
		{name: "negative offset", target: "/api/v1/books/search?offset=-1", detail: "offset must be at least 0"},
		{name: "features limit", target: "/api/v1/ml/features?limit=-5", detail: "limit must be between 1 and 1000"},
		{name: "top rated limit", target: "/api/v1/books/top-rated?limit=0", detail: "limit must be between 1 and 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, router, tt.target)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.detail, decode[map[string]string](t, rec)["detail"])
		})
	}
}

func TestPaginationUsesConfiguredBounds(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.DefaultLimit = 2
	cfg.MaxLimit = 3
	router := newTestRouter(t, writeBooks(t), cfg)

	rec := get(t, router, "/api/v1/books")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Row](t, rec), 2)

	rec = get(t, router, "/api/v1/books?limit=4")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetBook(t *testing.T) {
	router := newTestRouter(t, writeBooks(t), nil)

	rec := get(t, router, "/api/v1/books/2")
	require.Equal(t, http.StatusOK, rec.Code)
	row := decode[models.Row](t, rec)
	assert.Equal(t, 2, row.ID)
	assert.Equal(t, "Tipping the Velvet", row.Title)
	assert.Equal(t, "http://books/2", row.ProductURL)

	for _, target := range []string{"/api/v1/books/0", "/api/v1/books/99", "/api/v1/books/-1"} {
		rec = get(t, router, target)
		require.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.JSONEq(t, `{"detail":"Book not found"}`, rec.Body.String())
	}

	rec = get(t, router, "/api/v1/books/abc")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSearchBooks(t *testing.T) {
	router := newTestRouter(t, writeBooks(t), nil)

	tests := []struct {
		target string
		want   []int
	}{
		{target: "/api/v1/books/search", want: []int{1, 2, 3, 4}},
		{target: "/api/v1/books/search?title=THE", want: []int{1, 2}},
		{target: "/api/v1/books/search?category=fiction", want: []int{2, 3}},
		{target: "/api/v1/books/search?title=the&category=fiction", want: []int{2}},
		{target: "/api/v1/books/search?title=the&limit=1&offset=1", want: []int{2}},
		{target: "/api/v1/books/search?category=cooking", want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, router, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rowIDs(decode[[]models.Row](t, rec)))
		})
	}
}

func TestTopRatedAndPriceRange(t *testing.T) {
	router := newTestRouter(t, writeBooks(t), nil)

	rec := get(t, router, "/api/v1/books/top-rated")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{1, 2, 3, 4}, rowIDs(decode[[]models.Row](t, rec)))

	rec = get(t, router, "/api/v1/books/top-rated?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{1}, rowIDs(decode[[]models.Row](t, rec)))

	rec = get(t, router, "/api/v1/books/price-range?min=50&max=52")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{3, 1}, rowIDs(decode[[]models.Row](t, rec)))

	for _, target := range []string{
		"/api/v1/books/price-range?min=50",
		"/api/v1/books/price-range?min=abc&max=3",
		"/api/v1/books/price-range?min=60&max=10",
		"/api/v1/books/price-range?min=NaN&max=10",
	} {
		rec = get(t, router, target)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, target)
	}
}

func TestCategoriesAndStats(t *testing.T) {
	router := newTestRouter(t, writeBooks(t), nil)

	rec := get(t, router, "/api/v1/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["Fiction","Historical Fiction","Poetry"]`, rec.Body.String())

	rec = get(t, router, "/api/v1/stats/overview")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"total_books": 4,
		"avg_price": 51.87,
		"ratings_distribution": {"1": 2, "2": 0, "3": 1, "4": 0, "5": 0}
	}`, rec.Body.String())

	rec = get(t, router, "/api/v1/stats/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[[]models.CategoryStats](t, rec)
	require.Len(t, stats, 3)
	assert.Equal(t, "Fiction", stats[0].Category)
	assert.Equal(t, 1, stats[0].Count)
	assert.InDelta(t, 50.10, stats[0].MinPrice, 1e-9)

	rec = get(t, router, "/api/v1/stats/avg-price")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 155.61/3, decode[map[string]float64](t, rec)["avg_price"], 1e-9)
}

func TestFeatureEndpoints(t *testing.T) {
	router := newTestRouter(t, writeBooks(t), nil)

	for _, target := range []string{"/api/v1/ml/features?limit=2", "/api/v1/ml/training-data?limit=2"} {
		rec := get(t, router, target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		rows := decode[[]map[string]any](t, rec)
		require.Len(t, rows, 2)
		assert.ElementsMatch(t, []string{"id", "title", "price", "rating", "category"}, keys(rows[0]))
		assert.Equal(t, "Poetry", rows[0]["category"])
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestCatalogReloadIsVisible(t *testing.T) {
	path := writeBooks(t)
	router := newTestRouter(t, path, nil)

	rec := get(t, router, "/api/v1/stats/avg-price")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, os.WriteFile(path, []byte("title,price\nOnly,50.00\n"), 0o644))
	later := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, later, later))

	rec = get(t, router, "/api/v1/stats/avg-price")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"avg_price": 50}`, rec.Body.String())
}

func TestLoadFailureIsServerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.csv")
	require.NoError(t, os.WriteFile(path, []byte("title,price\nBroken,1.00,extra\n"), 0o644))
	router := newTestRouter(t, path, nil)

	for _, target := range []string{"/api/v1/books", "/api/v1/books/1", "/api/v1/stats/overview", "/api/v1/health"} {
		rec := get(t, router, target)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.JSONEq(t, `{"detail":"catalog unavailable"}`, rec.Body.String())
	}
}

type failingCatalog struct {
	Catalog
	err error
}

func (f failingCatalog) Categories() ([]string, error) {
	return nil, f.err
}

func TestHandlerMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "not found sentinel", err: errBookNotFound, code: http.StatusNotFound},
		{name: "wrapped load error", err: &catalog.LoadError{Path: "x.csv", Err: errors.New("boom")}, code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultServerConfig()
			router := NewRouter(NewHandler(failingCatalog{err: tt.err}, cfg), cfg, RouterOptions{})
			rec := get(t, router, "/api/v1/categories")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, newTestRouter(t, writeBooks(t), nil), "/api/v2/books")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.CORSOrigin = "https://dashboard.example"
	router := newTestRouter(t, writeBooks(t), cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/books", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, router, "/api/v1/categories")
	assert.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	router := newTestRouter(t, writeBooks(t), cfg)

	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/health").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/health").Code)
	rec := get(t, router, "/api/v1/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	other := httptest.NewRecorder()
	router.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	engine, err := catalog.NewEngine(catalog.NewCache(writeBooks(t), nil))
	require.NoError(t, err)
	cfg := config.DefaultServerConfig()
	router := NewRouter(NewHandler(engine, cfg), cfg, RouterOptions{
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	get(t, router, "/api/v1/books/1")
	get(t, router, "/api/v1/books/99")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("/api/v1/books/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("/api/v1/books/:id", "404")))

	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openbooks_http_requests_total")

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}
