package finders

import (
	"fmt"
	"os"
	"path/filepath"
)

// BookDir is a book and the directory holding its harvested artifacts.
type BookDir struct {
	BookID string
	Path   string
}

// ListBookDirs lists the book directories under inputPath, one per book id.
// When bookIDs is not empty only those books are returned, whether or not
// their directory exists.
func ListBookDirs(inputPath string, bookIDs []string) ([]BookDir, error) {
	if len(bookIDs) > 0 {
		out := make([]BookDir, 0, len(bookIDs))
		for _, id := range bookIDs {
			out = append(out, BookDir{BookID: id, Path: filepath.Join(inputPath, id)})
		}
		return out, nil
	}

	entries, err := os.ReadDir(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list input path: %w", err)
	}
	var out []BookDir
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, BookDir{BookID: e.Name(), Path: filepath.Join(inputPath, e.Name())})
		}
	}
	return out, nil
}
