package catalog

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/openbooks/models"
)

const memoSize = 16

type memoKey struct {
	gen uint64
	op  string
}

// Engine answers queries against the table held by a Cache. Returned rows
// share storage with the cached table and must be treated as read-only.
type Engine struct {
	cache   *Cache
	metrics *Metrics

	// Derived results per snapshot generation, so a reload invalidates them.
	memo *lru.Cache[memoKey, any]
}

// NewEngine builds an engine over cache.
func NewEngine(cache *Cache) (*Engine, error) {
	memo, err := lru.New[memoKey, any](memoSize)
	if err != nil {
		return nil, fmt.Errorf("create memo cache: %w", err)
	}
	return &Engine{
		cache:   cache,
		metrics: cache.metrics,
		memo:    memo,
	}, nil
}

// Health reports the backing file state.
func (e *Engine) Health() (models.Health, error) {
	e.metrics.IncQuery("health")
	return e.cache.Health()
}

// List returns rows in file order, sliced [offset, offset+limit).
func (e *Engine) List(limit, offset int) ([]models.Row, error) {
	e.metrics.IncQuery("list")
	t, err := e.cache.Table()
	if err != nil {
		return nil, err
	}
	return paginate(t.Rows, limit, offset), nil
}

// Get looks a row up by its 1-based id.
func (e *Engine) Get(id int) (models.Row, bool, error) {
	e.metrics.IncQuery("get")
	t, err := e.cache.Table()
	if err != nil {
		return models.Row{}, false, err
	}
	if id < 1 || id > len(t.Rows) {
		return models.Row{}, false, nil
	}
	return t.Rows[id-1], true, nil
}

// Search keeps rows whose title and category contain the given text,
// case-insensitively. An empty filter is ignored.
func (e *Engine) Search(title, category string, limit, offset int) ([]models.Row, error) {
	e.metrics.IncQuery("search")
	t, err := e.cache.Table()
	if err != nil {
		return nil, err
	}

	title = strings.ToLower(title)
	category = strings.ToLower(category)

	matched := make([]models.Row, 0)
	for _, row := range t.Rows {
		if title != "" && !containsFold(row.Title, title) {
			continue
		}
		if category != "" && !containsFold(row.Category, category) {
			continue
		}
		matched = append(matched, row)
	}
	return paginate(matched, limit, offset), nil
}

// Categories returns the distinct non-blank categories in byte order.
func (e *Engine) Categories() ([]string, error) {
	e.metrics.IncQuery("categories")
	s, err := e.cache.snapshot()
	if err != nil {
		return nil, err
	}

	key := memoKey{gen: s.gen, op: "categories"}
	if v, ok := e.memo.Get(key); ok {
		return clone(v.([]string)), nil
	}

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, row := range s.table.Rows {
		if isBlank(row.Category) {
			continue
		}
		if _, ok := seen[row.Category]; ok {
			continue
		}
		seen[row.Category] = struct{}{}
		out = append(out, row.Category)
	}
	sort.Strings(out)

	e.memo.Add(key, out)
	return clone(out), nil
}

// TopRated returns the limit best-rated rows. Missing ratings sort last and
// ties keep ascending id.
func (e *Engine) TopRated(limit int) ([]models.Row, error) {
	e.metrics.IncQuery("top_rated")
	t, err := e.cache.Table()
	if err != nil {
		return nil, err
	}

	sorted := clone(t.Rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Rating, sorted[j].Rating
		switch {
		case a == nil && b == nil:
			return sorted[i].ID < sorted[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a > *b
		default:
			return sorted[i].ID < sorted[j].ID
		}
	})
	return paginate(sorted, limit, 0), nil
}

// PriceRange keeps rows priced within [minPrice, maxPrice], ordered by price then id.
func (e *Engine) PriceRange(minPrice, maxPrice float64, limit, offset int) ([]models.Row, error) {
	e.metrics.IncQuery("price_range")
	t, err := e.cache.Table()
	if err != nil {
		return nil, err
	}

	matched := make([]models.Row, 0)
	for _, row := range t.Rows {
		if row.Price == nil || *row.Price < minPrice || *row.Price > maxPrice {
			continue
		}
		matched = append(matched, row)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if *matched[i].Price != *matched[j].Price {
			return *matched[i].Price < *matched[j].Price
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, limit, offset), nil
}

// Features projects rows onto the fields used for model training.
func (e *Engine) Features(limit, offset int) ([]models.Projection, error) {
	e.metrics.IncQuery("features")
	return e.project(limit, offset)
}

// TrainingData is Features under the name used by training jobs.
func (e *Engine) TrainingData(limit, offset int) ([]models.Projection, error) {
	e.metrics.IncQuery("training_data")
	return e.project(limit, offset)
}

func (e *Engine) project(limit, offset int) ([]models.Projection, error) {
	t, err := e.cache.Table()
	if err != nil {
		return nil, err
	}

	page := paginate(t.Rows, limit, offset)
	out := make([]models.Projection, len(page))
	for i, row := range page {
		out[i] = models.Projection{
			ID:       row.ID,
			Title:    row.Title,
			Price:    row.Price,
			Rating:   row.Rating,
			Category: strings.TrimSpace(row.Category),
		}
	}
	return out, nil
}

// AvgPrice returns the unrounded mean of all numeric prices, 0 when there are none.
func (e *Engine) AvgPrice() (float64, error) {
	e.metrics.IncQuery("avg_price")
	t, err := e.cache.Table()
	if err != nil {
		return 0, err
	}
	return meanPrice(t.Rows), nil
}

func clone[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(items) {
		return []T{}
	}
	if limit > len(items)-offset {
		limit = len(items) - offset
	}
	return clone(items[offset : offset+limit])
}

// containsFold reports whether needle, already lower-cased, occurs in s
// ignoring case.
func containsFold(s, needle string) bool {
	return strings.Contains(strings.ToLower(s), needle)
}
