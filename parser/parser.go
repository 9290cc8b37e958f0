package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aluiziolira/openbooks/models"
)

// FieldError reports a required field the crawler did not capture.
type FieldError struct {
	Field string
	Title string
}

func (e *FieldError) Error() string {
	if e.Title == "" {
		return "book missing " + e.Field
	}
	return fmt.Sprintf("book missing %s for %q", e.Field, e.Title)
}

// ValidateBook ensures the crawler captured the fields the catalog needs. The
// product URL is required because it is the de-duplication key.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return &FieldError{Field: "book"}
	}
	switch {
	case strings.TrimSpace(b.Title) == "":
		return &FieldError{Field: "title"}
	case strings.TrimSpace(b.URL) == "":
		return &FieldError{Field: "url", Title: b.Title}
	case strings.TrimSpace(b.Price) == "":
		return &FieldError{Field: "price", Title: b.Title}
	case strings.TrimSpace(b.RatingText) == "":
		return &FieldError{Field: "rating", Title: b.Title}
	}
	return nil
}

// NormalizePrice removes the currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.ReplaceAll(price, "Â£", "")
	price = strings.ReplaceAll(price, "£", "")
	return strings.TrimSpace(price)
}

// NormalizeAvailability trims spacing from the availability text.
func NormalizeAvailability(text string) string {
	return strings.TrimSpace(text)
}

// RatingToNumeric converts the textual rating to a numeric scale.
func RatingToNumeric(rating string) int {
	switch strings.TrimSpace(rating) {
	case "Zero":
		return 0
	case "One":
		return 1
	case "Two":
		return 2
	case "Three":
		return 3
	case "Four":
		return 4
	case "Five":
		return 5
	default:
		return 0
	}
}

// ParsePrice coerces a price cell into a number. The second result is false
// when the value is blank or not a finite decimal.
func ParsePrice(text string) (float64, bool) {
	text = NormalizePrice(text)
	if text == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseRating coerces a rating cell into 1..5. Integer text ("3", "3.0") and
// rating words ("Three", "three") are accepted; anything else is missing.
func ParseRating(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	rating := 0
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		if v < 1 || v > 5 || v != math.Trunc(v) {
			return 0, false
		}
		rating = int(v)
	} else {
		word := strings.ToUpper(text[:1]) + strings.ToLower(text[1:])
		rating = RatingToNumeric(word)
	}

	if rating < 1 || rating > 5 {
		return 0, false
	}
	return rating, true
}
