package models

// Columns is the fixed column set of the catalog file, in canonical order.
var Columns = []string{"title", "price", "rating", "availability", "category", "image_url", "product_url"}

// Row is one catalog record. Price and Rating are nil when the source value
// could not be coerced.
type Row struct {
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Price        *float64 `json:"price"`
	Rating       *int     `json:"rating"`
	Availability string   `json:"availability"`
	Category     string   `json:"category"`
	ImageURL     string   `json:"image_url"`
	ProductURL   string   `json:"product_url"`
}

// Projection is the feature view of a Row.
type Projection struct {
	ID       int      `json:"id"`
	Title    string   `json:"title"`
	Price    *float64 `json:"price"`
	Rating   *int     `json:"rating"`
	Category string   `json:"category"`
}

// Health describes the backing file and the cached table.
type Health struct {
	Exists       bool    `json:"csv_exists"`
	Rows         int     `json:"rows"`
	LastModified *string `json:"last_updated"`
}

// Overview holds dataset-wide statistics.
type Overview struct {
	TotalBooks          int            `json:"total_books"`
	AvgPrice            float64        `json:"avg_price"`
	RatingsDistribution map[string]int `json:"ratings_distribution"`
}

// CategoryStats holds per-category price statistics.
type CategoryStats struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	AvgPrice float64 `json:"avg_price"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
}
