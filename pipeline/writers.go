package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-cinemateca/models"
)

// Upserter persists scraped showings keyed by id.
type Upserter interface {
	Upsert(ctx context.Context, movies []*models.ScrapedMovie) error
}

// StoreWriter hands batches to the persistence store. The store is owned by
// the caller, so Close leaves it open.
type StoreWriter struct {
	store   Upserter
	written atomic.Int64
}

// NewStoreWriter wraps store as an OutputWriter.
func NewStoreWriter(store Upserter) *StoreWriter {
	return &StoreWriter{store: store}
}

// Write upserts the batch.
func (sw *StoreWriter) Write(ctx context.Context, movies []*models.ScrapedMovie) error {
	if err := sw.store.Upsert(ctx, movies); err != nil {
		return fmt.Errorf("upsert %d movies: %w", len(movies), err)
	}
	sw.written.Add(int64(len(movies)))
	return nil
}

// Written reports how many rows were upserted.
func (sw *StoreWriter) Written() int64 {
	return sw.written.Load()
}

func (sw *StoreWriter) Close() error {
	return nil
}

// Validate always succeeds: an empty listing is a valid run.
func (sw *StoreWriter) Validate() error {
	return nil
}

var csvHeader = []string{
	"id", "scraped_at", "place", "image_url", "event_name", "when",
	"more_info_url", "start_time", "end_time", "description", "raw_origin_html",
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends movies to the CSV output.
func (cw *CSVWriter) Write(_ context.Context, movies []*models.ScrapedMovie) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, movie := range movies {
		record := []string{
			movie.ID,
			movie.ScrapedAt.UTC().Format(time.RFC3339),
			movie.Place,
			movie.ImageURL,
			movie.EventName,
			movie.When,
			movie.MoreInfoURL,
			movie.StartTime,
			movie.EndTime,
			movie.Description,
			movie.RawOriginHTML,
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
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

// Write appends movies in JSONL format.
func (jw *JSONWriter) Write(_ context.Context, movies []*models.ScrapedMovie) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, movie := range movies {
		if err := jw.encoder.Encode(movie); err != nil {
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

// Validate checks the export file exists. A run with no cards leaves it empty.
func (jw *JSONWriter) Validate() error {
	if _, err := os.Stat(jw.file.Name()); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

// NewExportWriter opens the export writer for format. Dual writes CSV to
// filename and JSONL next to it.
func NewExportWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "json":
		return NewJSONWriter(filename)
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		ext := filepath.Ext(filename)
		jsonFilename := filename[:len(filename)-len(ext)] + ".jsonl"
		csvWriter, err := NewCSVWriter(filename)
		if err != nil {
			return nil, err
		}
		jsonWriter, err := NewJSONWriter(jsonFilename)
		if err != nil {
			csvWriter.Close()
			return nil, err
		}
		return NewMultiWriter(csvWriter, jsonWriter), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
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
