package catalog

import (
	"math"
	"sort"
	"strconv"

	"github.com/aluiziolira/openbooks/models"
)

// StatsOverview returns the row count, the mean price rounded to cents and a
// histogram of ratings with every key "1".."5" present.
func (e *Engine) StatsOverview() (models.Overview, error) {
	e.metrics.IncQuery("stats_overview")
	t, err := e.cache.Table()
	if err != nil {
		return models.Overview{}, err
	}

	dist := make(map[string]int, 5)
	for r := 1; r <= 5; r++ {
		dist[strconv.Itoa(r)] = 0
	}
	for _, row := range t.Rows {
		if row.Rating != nil {
			dist[strconv.Itoa(*row.Rating)]++
		}
	}

	return models.Overview{
		TotalBooks:          len(t.Rows),
		AvgPrice:            round2(meanPrice(t.Rows)),
		RatingsDistribution: dist,
	}, nil
}

// StatsByCategory returns price statistics per non-blank category, ordered by
// count descending then category name. Only rows with a numeric price count;
// categories without any are left out.
func (e *Engine) StatsByCategory() ([]models.CategoryStats, error) {
	e.metrics.IncQuery("stats_by_category")
	s, err := e.cache.snapshot()
	if err != nil {
		return nil, err
	}

	key := memoKey{gen: s.gen, op: "stats_by_category"}
	if v, ok := e.memo.Get(key); ok {
		return clone(v.([]models.CategoryStats)), nil
	}

	type acc struct {
		count    int
		sum      float64
		min, max float64
	}
	groups := make(map[string]*acc)
	for _, row := range s.table.Rows {
		if isBlank(row.Category) || row.Price == nil {
			continue
		}
		p := *row.Price
		g, ok := groups[row.Category]
		if !ok {
			groups[row.Category] = &acc{count: 1, sum: p, min: p, max: p}
			continue
		}
		g.count++
		g.sum += p
		g.min = math.Min(g.min, p)
		g.max = math.Max(g.max, p)
	}

	out := make([]models.CategoryStats, 0, len(groups))
	for name, g := range groups {
		out = append(out, models.CategoryStats{
			Category: name,
			Count:    g.count,
			AvgPrice: round2(g.sum / float64(g.count)),
			MinPrice: round2(g.min),
			MaxPrice: round2(g.max),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})

	e.memo.Add(key, out)
	return clone(out), nil
}

func meanPrice(rows []models.Row) float64 {
	sum, n := 0.0, 0
	for _, row := range rows {
		if row.Price != nil {
			sum += *row.Price
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// round2 rounds half to even on the exact binary value, so 10.125 gives 10.12.
func round2(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	if err != nil {
		return v
	}
	return r
}
