package store

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// Snapshot reads and replaces the full set of stored reviews in one file
// format. Write never leaves a partially written file at Path.
type Snapshot interface {
	Load() ([]*models.ReviewRecord, error)
	Write(records []*models.ReviewRecord) error
	Path() string
}

// Columns is the header row of the CSV output.
var Columns = []string{
	"book_id",
	"title",
	"author",
	"reviewer_ID",
	"review_rating",
	"review_date",
	"review_text",
	"review_upvotes",
	"review_comments",
	"review_shelf_tags",
}

const tagSeparator = ", "

// CSVWriter stores reviews as a CSV file with a header row.
type CSVWriter struct {
	path string
}

// NewCSVWriter returns a CSV snapshot at path.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

// Path implements Snapshot.
func (cw *CSVWriter) Path() string { return cw.path }

// Write implements Snapshot.
func (cw *CSVWriter) Write(records []*models.ReviewRecord) error {
	return replaceFile(cw.path, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write(Columns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, r := range records {
			if err := writer.Write(csvRow(r)); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return nil
	})
}

// Load implements Snapshot. A missing file yields no records. Rows that
// cannot be read are skipped; the caller validates the rest.
func (cw *CSVWriter) Load() ([]*models.ReviewRecord, error) {
	f, err := os.Open(cw.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index, err := columnIndex(header, Columns...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", cw.path, err)
	}

	var records []*models.ReviewRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		if record, ok := parseCSVRow(row, index); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func csvRow(r *models.ReviewRecord) []string {
	return []string{
		strconv.Itoa(r.BookID),
		r.Title,
		r.Author,
		r.ReviewerID,
		r.Rating.String(),
		orNotAvailable(r.Date),
		orNotAvailable(r.Text),
		strconv.Itoa(r.Upvotes),
		strconv.Itoa(r.Comments),
		strings.Join(r.ShelfTags, tagSeparator),
	}
}

func parseCSVRow(row []string, index map[string]int) (*models.ReviewRecord, bool) {
	field := func(name string) string {
		i := index[name]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	bookID, err := parseBookID(field("book_id"))
	if err != nil {
		return nil, false
	}
	return &models.ReviewRecord{
		BookID:     bookID,
		Title:      field("title"),
		Author:     field("author"),
		ReviewerID: strings.TrimSpace(field("reviewer_ID")),
		Rating:     models.ParseRating(field("review_rating")),
		Date:       fromNotAvailable(field("review_date")),
		Text:       fromNotAvailable(field("review_text")),
		Upvotes:    atoiOrZero(field("review_upvotes")),
		Comments:   atoiOrZero(field("review_comments")),
		ShelfTags:  splitTags(field("review_shelf_tags")),
	}, true
}

// JSONWriter stores reviews as newline-delimited JSON.
type JSONWriter struct {
	path string
}

// NewJSONWriter returns a JSON lines snapshot at path.
func NewJSONWriter(path string) *JSONWriter {
	return &JSONWriter{path: path}
}

// Path implements Snapshot.
func (jw *JSONWriter) Path() string { return jw.path }

// Write implements Snapshot.
func (jw *JSONWriter) Write(records []*models.ReviewRecord) error {
	return replaceFile(jw.path, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		for _, r := range records {
			if err := encoder.Encode(r); err != nil {
				return fmt.Errorf("encode json record: %w", err)
			}
		}
		return nil
	})
}

// Load implements Snapshot.
func (jw *JSONWriter) Load() ([]*models.ReviewRecord, error) {
	f, err := os.Open(jw.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}
	defer f.Close()

	var records []*models.ReviewRecord
	decoder := json.NewDecoder(bufio.NewReader(f))
	for {
		var r models.ReviewRecord
		err := decoder.Decode(&r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode json record: %w", err)
		}
		if r.ShelfTags == nil {
			r.ShelfTags = []string{}
		}
		records = append(records, &r)
	}
	return records, nil
}

// DualWriter keeps a CSV and a JSON lines snapshot of the same records.
// The CSV file is the one read back on startup.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
}

// NewDualWriter creates a snapshot writing both formats.
func NewDualWriter(csvPath, jsonPath string) *DualWriter {
	return &DualWriter{
		csvWriter:  NewCSVWriter(csvPath),
		jsonWriter: NewJSONWriter(jsonPath),
	}
}

// Path implements Snapshot.
func (dw *DualWriter) Path() string { return dw.csvWriter.Path() }

// Load implements Snapshot.
func (dw *DualWriter) Load() ([]*models.ReviewRecord, error) {
	return dw.csvWriter.Load()
}

// Write implements Snapshot. Both files are attempted even if one fails.
func (dw *DualWriter) Write(records []*models.ReviewRecord) error {
	var errs []error
	if err := dw.csvWriter.Write(records); err != nil {
		errs = append(errs, fmt.Errorf("CSV write failed: %w", err))
	}
	if err := dw.jsonWriter.Write(records); err != nil {
		errs = append(errs, fmt.Errorf("JSON write failed: %w", err))
	}
	return errors.Join(errs...)
}

// NewSnapshot picks the snapshot for an output format: csv, json or dual.
// For dual, the JSON file sits next to path with a .json extension.
func NewSnapshot(format, path string) (Snapshot, error) {
	switch format {
	case "csv":
		return NewCSVWriter(path), nil
	case "json":
		return NewJSONWriter(path), nil
	case "dual":
		jsonPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		return NewDualWriter(path, jsonPath), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
}

// replaceFile writes a temp file in the target directory and renames it over
// path once fill succeeds.
func replaceFile(path string, fill func(io.Writer) error) (err error) {
	if err := ensureDir(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buffer := bufio.NewWriter(tmp)
	if err = fill(buffer); err != nil {
		return err
	}
	if err = buffer.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
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

func orNotAvailable(s string) string {
	if s == "" {
		return models.NotAvailable
	}
	return s
}

func fromNotAvailable(s string) string {
	if s == models.NotAvailable {
		return ""
	}
	return s
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func splitTags(s string) []string {
	tags := []string{}
	if s == "" || s == models.NotAvailable {
		return tags
	}
	for _, tag := range strings.Split(s, tagSeparator) {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
