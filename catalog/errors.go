package catalog

import "fmt"

// LoadError indicates the catalog file exists but could not be parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Errorf("load %s: %w", e.Path, e.Err).Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
