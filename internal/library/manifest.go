package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const opImportManifest = "library.import_manifest"

// Manifest lists files to import in bulk.
//
//	books:
//	  - path: novels/war-and-peace.txt
//	    title: War and Peace
//	    author: Leo Tolstoy
type Manifest struct {
	Books []ManifestEntry `yaml:"books"`
}

// ManifestEntry points at one file; optional fields override derived metadata.
type ManifestEntry struct {
	Path        string `yaml:"path"`
	Title       string `yaml:"title,omitempty"`
	Author      string `yaml:"author,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ManifestResult reports the outcome for a single manifest entry.
type ManifestResult struct {
	Path string
	Book Book
	Err  error
}

// LoadManifest reads and parses a YAML manifest. Relative entry paths are
// resolved against the manifest's directory.
func LoadManifest(manifestPath string) (Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest yaml: %w", err)
	}

	baseDir := filepath.Dir(manifestPath)
	for index, entry := range manifest.Books {
		path := strings.TrimSpace(entry.Path)
		if path == "" {
			return Manifest{}, fmt.Errorf("manifest entry %d: path is required", index)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		manifest.Books[index].Path = path
	}
	return manifest, nil
}

// ImportManifest adds every manifest entry. A failing entry does not stop
// the remaining ones; its error is reported in the result.
func (s *Service) ImportManifest(ctx context.Context, manifest Manifest) []ManifestResult {
	results := make([]ManifestResult, 0, len(manifest.Books))
	for _, entry := range manifest.Books {
		result := ManifestResult{Path: entry.Path}
		if err := ctx.Err(); err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}
		result.Book, result.Err = s.importEntry(ctx, entry)
		if result.Err != nil {
			s.loggerOrDefault().Warn("manifest entry skipped",
				zap.String("operation", opImportManifest),
				zap.String("path", entry.Path),
				zap.Error(result.Err))
		}
		results = append(results, result)
	}
	return results
}

func (s *Service) importEntry(ctx context.Context, entry ManifestEntry) (Book, error) {
	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return Book{}, newServiceError(opImportManifest, "read_failed", err)
	}
	input, err := s.bookFromFile(opImportManifest, entry.Path, data)
	if err != nil {
		return Book{}, err
	}
	if title := strings.TrimSpace(entry.Title); title != "" {
		input.Title = title
	}
	if author := strings.TrimSpace(entry.Author); author != "" {
		input.Author = author
	}
	input.Description = strings.TrimSpace(entry.Description)
	return s.AddBook(ctx, input)
}
