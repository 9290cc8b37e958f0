// Package models defines data structures shared by the crawler and the catalog.
package models

import "time"

// Book is one product card captured by the crawler. Price and RatingText
// hold the raw page text until the pipeline normalises them.
type Book struct {
	Title         string    `json:"title"`
	Price         string    `json:"price"`
	RatingText    string    `json:"rating_text"`
	RatingNumeric int       `json:"rating"`
	Availability  string    `json:"availability"`
	Category      string    `json:"category"`
	ImageURL      string    `json:"image_url"`
	URL           string    `json:"product_url"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// ScraperResult summarises one crawl.
type ScraperResult struct {
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int // books accepted by the pipeline
	Categories   int
	RequestCount int
	PageCount    int
	ErrorCount   int
	RetryCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
}

// Duration is the wall time of the crawl.
func (r *ScraperResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
