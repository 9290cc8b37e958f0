package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/openbooks/models"
)

// CSVHeader is the catalog column order written by CSVWriter.
var CSVHeader = models.Columns

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVWriter writes the catalog file. Records go to a temporary file in the
// target directory that Close renames over the destination, so readers of
// the catalog only ever see a complete file.
type CSVWriter struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	records int
	closed  bool
	mu      sync.Mutex
}

// NewCSVWriter opens a temporary file next to filename and writes the byte
// order mark and header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}
	discard := func() {
		f.Close()
		os.Remove(f.Name())
	}

	if err := f.Chmod(0o644); err != nil {
		discard()
		return nil, fmt.Errorf("chmod csv file: %w", err)
	}
	if _, err := f.Write(utf8BOM); err != nil {
		discard()
		return nil, fmt.Errorf("write byte order mark: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(CSVHeader); err != nil {
		discard()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		discard()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		path:   filename,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends books to the CSV output.
func (cw *CSVWriter) Write(books []*models.Book) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return fmt.Errorf("csv writer closed")
	}
	for _, book := range books {
		record := []string{
			book.Title,
			book.Price,
			strconv.Itoa(book.RatingNumeric),
			book.Availability,
			book.Category,
			book.ImageURL,
			book.URL,
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.records++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close publishes the file at its destination. A file without records is
// discarded and any existing catalog is left untouched.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return nil
	}
	cw.closed = true
	tmp := cw.file.Name()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush csv writer: %w", err)
	}
	if err := cw.file.Sync(); err != nil {
		cw.file.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync csv file: %w", err)
	}
	if err := cw.file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close csv file: %w", err)
	}

	if cw.records == 0 {
		slog.Warn("no records written; keeping existing catalog", slog.String("path", cw.path))
		return os.Remove(tmp)
	}
	if err := os.Rename(tmp, cw.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish csv file: %w", err)
	}
	return nil
}

// Records reports how many rows follow the header.
func (cw *CSVWriter) Records() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.records
}

// Validate ensures at least one record follows the header.
func (cw *CSVWriter) Validate() error {
	if cw.Records() == 0 {
		return fmt.Errorf("csv file has no records")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends books in JSONL format.
func (jw *JSONWriter) Write(books []*models.Book) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, book := range books {
		if err := jw.encoder.Encode(book); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
