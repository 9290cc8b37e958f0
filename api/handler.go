// Package api serves the book catalog as JSON over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aluiziolira/openbooks/config"
	"github.com/aluiziolira/openbooks/models"
)

// topRatedLimit is the default size of the top-rated list.
const topRatedLimit = 10

// Catalog is the query surface the handlers need. *catalog.Engine satisfies it.
type Catalog interface {
	Health() (models.Health, error)
	List(limit, offset int) ([]models.Row, error)
	Get(id int) (models.Row, bool, error)
	Search(title, category string, limit, offset int) ([]models.Row, error)
	Categories() ([]string, error)
	TopRated(limit int) ([]models.Row, error)
	PriceRange(minPrice, maxPrice float64, limit, offset int) ([]models.Row, error)
	Features(limit, offset int) ([]models.Projection, error)
	TrainingData(limit, offset int) ([]models.Projection, error)
	StatsOverview() (models.Overview, error)
	StatsByCategory() ([]models.CategoryStats, error)
	AvgPrice() (float64, error)
}

// Handler binds catalog queries to routes.
type Handler struct {
	catalog      Catalog
	defaultLimit int
	maxLimit     int
}

// NewHandler builds a Handler with pagination bounds from cfg.
func NewHandler(c Catalog, cfg *config.ServerConfig) *Handler {
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}
	return &Handler{
		catalog:      c,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
	}
}

// Register mounts every catalog route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.health)

	books := r.Group("/books")
	books.GET("", h.listBooks)
	books.GET("/search", h.searchBooks)
	books.GET("/top-rated", h.topRated)
	books.GET("/price-range", h.priceRange)
	books.GET("/:id", h.getBook)

	r.GET("/categories", h.categories)

	stats := r.Group("/stats")
	stats.GET("/overview", h.statsOverview)
	stats.GET("/categories", h.statsByCategory)
	stats.GET("/avg-price", h.avgPrice)

	ml := r.Group("/ml")
	ml.GET("/features", h.features)
	ml.GET("/training-data", h.trainingData)
}

type healthResponse struct {
	Status string `json:"status"`
	models.Health
}

func (h *Handler) health(c *gin.Context) {
	health, err := h.catalog.Health()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, healthResponse{Status: "ok", Health: health})
}

func (h *Handler) listBooks(c *gin.Context) {
	limit, offset, err := h.page(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := h.catalog.List(limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) searchBooks(c *gin.Context) {
	limit, offset, err := h.page(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := h.catalog.Search(c.Query("title"), c.Query("category"), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) topRated(c *gin.Context) {
	limit, err := intQuery(c, "limit", topRatedLimit, 1, h.maxLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := h.catalog.TopRated(limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) priceRange(c *gin.Context) {
	minPrice, err := floatQuery(c, "min")
	if err != nil {
		h.fail(c, err)
		return
	}
	maxPrice, err := floatQuery(c, "max")
	if err != nil {
		h.fail(c, err)
		return
	}
	if minPrice > maxPrice {
		h.fail(c, &paramError{name: "min", msg: "must not exceed max"})
		return
	}
	limit, offset, err := h.page(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := h.catalog.PriceRange(minPrice, maxPrice, limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) getBook(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		h.fail(c, &paramError{name: "id", msg: "must be an integer"})
		return
	}
	row, ok, err := h.catalog.Get(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		h.fail(c, errBookNotFound)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) categories(c *gin.Context) {
	names, err := h.catalog.Categories()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (h *Handler) statsOverview(c *gin.Context) {
	overview, err := h.catalog.StatsOverview()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (h *Handler) statsByCategory(c *gin.Context) {
	stats, err := h.catalog.StatsByCategory()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) avgPrice(c *gin.Context) {
	avg, err := h.catalog.AvgPrice()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"avg_price": avg})
}

func (h *Handler) features(c *gin.Context) {
	h.projection(c, h.catalog.Features)
}

func (h *Handler) trainingData(c *gin.Context) {
	h.projection(c, h.catalog.TrainingData)
}

func (h *Handler) projection(c *gin.Context, query func(limit, offset int) ([]models.Projection, error)) {
	limit, offset, err := h.page(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := query(limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// errBookNotFound maps to a 404 in fail.
var errBookNotFound = errors.New("book not found")

// fail writes the error response for err and aborts the chain.
func (h *Handler) fail(c *gin.Context, err error) {
	var pe *paramError
	switch {
	case errors.As(err, &pe):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": pe.Error()})
	case errors.Is(err, errBookNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Book not found"})
	default:
		slog.Error("catalog query failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "catalog unavailable"})
	}
}
