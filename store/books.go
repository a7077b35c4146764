package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// Input list columns.
const (
	ColumnBookID = "Book ID"
	ColumnTitle  = "Title"
	ColumnAuthor = "Author"
)

// ReadBooks reads the input book list. Columns are located by header name so
// extra columns are ignored. Rows whose book id is unreadable or not positive
// are skipped.
func ReadBooks(path string) ([]models.BookRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open book list: %w", err)
	}
	defer f.Close()
	return readBooks(f)
}

func readBooks(r io.Reader) ([]models.BookRequest, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read book list header: %w", err)
	}
	index, err := columnIndex(header, ColumnBookID, ColumnTitle, ColumnAuthor)
	if err != nil {
		return nil, fmt.Errorf("read book list: %w", err)
	}

	var books []models.BookRequest
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read book list line %d: %w", line, err)
		}
		if index[ColumnBookID] >= len(row) {
			continue
		}
		id, err := parseBookID(row[index[ColumnBookID]])
		if err != nil {
			slog.Warn("skipping book list row", slog.Int("line", line), slog.Any("error", err))
			continue
		}
		books = append(books, models.BookRequest{
			BookID: id,
			Title:  cell(row, index[ColumnTitle]),
			Author: cell(row, index[ColumnAuthor]),
		})
	}
	return books, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// columnIndex maps each required column name to its position in header.
func columnIndex(header []string, required ...string) (map[string]int, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := positions[name]; !dup {
			positions[name] = i
		}
	}

	index := make(map[string]int, len(required))
	var missing []string
	for _, name := range required {
		i, ok := positions[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		index[name] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return index, nil
}

// parseBookID accepts positive integral ids, including float renderings
// such as "12.0".
func parseBookID(s string) (int, error) {
	s = strings.TrimSpace(s)
	id, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("parse book id %q: %w", s, ferr)
		}
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("parse book id %q: not an integer", s)
		}
		id = int(f)
	}
	if id <= 0 {
		return 0, fmt.Errorf("parse book id %q: must be positive", s)
	}
	return id, nil
}
