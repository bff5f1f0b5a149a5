package collector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/codeask/codeask/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// LocalCollector reads source files from an on-disk checkout, applying the
// same filter rules as the API collector. Useful when a clone already
// exists and API quota is precious.
type LocalCollector struct {
	Root        string
	MaxFileSize int
	Walker      FileSystemWalker
	FileReader  FileReader
}

func NewLocal(root string) *LocalCollector {
	return &LocalCollector{
		Root:        root,
		MaxFileSize: DefaultMaxFileSize,
		Walker:      &DefaultFileSystemWalker{},
		FileReader:  &DefaultFileReader{},
	}
}

// Collect walks Root and returns every indexable source file. The repo
// argument only identifies the run; files always come from the local tree.
func (c *LocalCollector) Collect(ctx context.Context, repo models.Repository) ([]models.SourceFile, error) {
	maxSize := c.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var files []models.SourceFile
	err := c.Walker.Walk(c.Root, &godirwalk.Options{
		Unsorted: false, // deterministic order
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if shouldSkip(path) {
				return nil
			}

			b, err := c.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file, skipping")
				return nil
			}
			if len(b) > maxSize {
				return nil
			}

			h := sha1.Sum(b)
			files = append(files, models.SourceFile{
				Path:     rel(c.Root, path),
				Language: guessLang(path),
				Size:     len(b),
				Content:  string(b),
				BlobHash: hex.EncodeToString(h[:]),
			})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(r)
}
