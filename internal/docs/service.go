// Package docs renders the embedded AsciiDoc API reference to HTML.
package docs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned for names that are not an embedded document.
var ErrNotFound = errors.New("document not found")

// Service renders documents from fsys and caches the HTML.
type Service struct {
	fsys  fs.FS
	cache map[string]string // filename -> html content
	mu    sync.RWMutex
}

// NewService serves the .adoc files at the root of fsys.
func NewService(fsys fs.FS) *Service {
	// libasciidoc reports render timings through logrus at info level.
	logrus.SetLevel(logrus.WarnLevel)

	return &Service{
		fsys:  fsys,
		cache: make(map[string]string),
	}
}

// GetDoc returns the rendered HTML body of filename, without the page
// header and footer; callers embed it in their own layout.
func (s *Service) GetDoc(filename string) (string, error) {
	if !strings.HasSuffix(filename, ".adoc") || strings.Contains(filename, "/") || !fs.ValidPath(filename) {
		return "", ErrNotFound
	}

	s.mu.RLock()
	content, ok := s.cache[filename]
	s.mu.RUnlock()
	if ok {
		return content, nil
	}

	data, err := fs.ReadFile(s.fsys, filename)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}

	html := output.String()

	s.mu.Lock()
	s.cache[filename] = html
	s.mu.Unlock()

	return html, nil
}

// ListDocs returns the embedded document names, sorted.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, err
	}

	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
			docs = append(docs, entry.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}
