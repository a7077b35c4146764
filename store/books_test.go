package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

func TestReadBooks(t *testing.T) {
	input := "\ufeffTitle,Book ID,Author,Shelf\n" +
		"Dune (Dune #1),12,Frank Herbert,sci-fi\n" +
		"Emma,34.0,Jane Austen,\n" +
		"Broken,abc,Nobody,\n" +
		"Zero,0,Nobody,\n" +
		"Negative,-7.0,Nobody,\n" +
		"\"Short, Sharp\",56, Ann Lee ,x\n"

	got, err := readBooks(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read books: %v", err)
	}
	want := []models.BookRequest{
		{BookID: 12, Title: "Dune (Dune #1)", Author: "Frank Herbert"},
		{BookID: 34, Title: "Emma", Author: "Jane Austen"},
		{BookID: 56, Title: "Short, Sharp", Author: "Ann Lee"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("books mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBooksMissingColumn(t *testing.T) {
	_, err := readBooks(strings.NewReader("Title,Author\nDune,Frank Herbert\n"))
	if err == nil || !strings.Contains(err.Error(), ColumnBookID) {
		t.Fatalf("err = %v, want missing %q", err, ColumnBookID)
	}
}

func TestReadBooksFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.csv")
	if err := os.WriteFile(path, []byte("Book ID,Title,Author\n1,Dune,Frank Herbert\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	got, err := ReadBooks(path)
	if err != nil {
		t.Fatalf("read books: %v", err)
	}
	if len(got) != 1 || got[0].BookID != 1 {
		t.Fatalf("books = %+v", got)
	}

	if _, err := ReadBooks(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseBookID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "12", want: 12},
		{in: " 12.0 ", want: 12},
		{in: "12.5", wantErr: true},
		{in: "0", wantErr: true},
		{in: "0.0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "", wantErr: true},
		{in: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBookID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBookID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("parseBookID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
