// Package catalog loads the scraped books file and answers queries over it.
package catalog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/aluiziolira/openbooks/models"
	"github.com/aluiziolira/openbooks/parser"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is an immutable, ordered snapshot of the catalog file. Rows[i].ID is
// always i+1.
type Table struct {
	Rows []models.Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Load parses the catalog file at path. A missing file yields an empty table
// and no error; malformed content yields a *LoadError.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Table{}, nil
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	table, err := readTable(f)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return table, nil
}

func readTable(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, fmt.Errorf("skip byte order mark: %w", err)
		}
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	// Position of each expected column in the file, -1 when absent.
	positions := make([]int, len(models.Columns))
	for i, name := range models.Columns {
		positions[i] = -1
		for j, got := range header {
			if got == name {
				positions[i] = j
				break
			}
		}
	}

	table := &Table{}
	cells := make([]string, len(models.Columns))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if len(record) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(header), len(record))
		}

		for i, pos := range positions {
			cells[i] = ""
			if pos >= 0 && pos < len(record) {
				cells[i] = record[pos]
			}
		}
		table.Rows = append(table.Rows, buildRow(len(table.Rows)+1, cells))
	}

	return table, nil
}

// buildRow maps cells in models.Columns order onto a Row.
func buildRow(id int, cells []string) models.Row {
	row := models.Row{
		ID:           id,
		Title:        cells[0],
		Availability: cells[3],
		Category:     cells[4],
		ImageURL:     cells[5],
		ProductURL:   cells[6],
	}
	if price, ok := parser.ParsePrice(cells[1]); ok {
		row.Price = &price
	}
	if rating, ok := parser.ParseRating(cells[2]); ok {
		row.Rating = &rating
	}
	return row
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
