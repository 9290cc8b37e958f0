package api

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
)

// paramError is a query or path parameter that failed validation.
type paramError struct {
	name string
	msg  string
}

func (e *paramError) Error() string {
	return e.name + " " + e.msg
}

// page reads limit and offset with the handler's bounds.
func (h *Handler) page(c *gin.Context) (limit, offset int, err error) {
	limit, err = intQuery(c, "limit", h.defaultLimit, 1, h.maxLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err = intQuery(c, "offset", 0, 0, math.MaxInt)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// intQuery returns the named parameter, or def when it is absent. Values
// outside [lo, hi] are rejected.
func intQuery(c *gin.Context, name string, def, lo, hi int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &paramError{name: name, msg: "must be an integer"}
	}
	if v < lo || v > hi {
		if hi == math.MaxInt {
			return 0, &paramError{name: name, msg: fmt.Sprintf("must be at least %d", lo)}
		}
		return 0, &paramError{name: name, msg: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return v, nil
}

// floatQuery returns a required finite number.
func floatQuery(c *gin.Context, name string) (float64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, &paramError{name: name, msg: "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &paramError{name: name, msg: "must be a number"}
	}
	return v, nil
}
