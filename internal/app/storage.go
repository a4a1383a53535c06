package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxStorageName keeps stored names under the 255 byte limit of common
// filesystems
const maxStorageName = 200

// Storage keeps exported documents
type Storage interface {
	// Save writes a document and returns its name within the storage
	Save(filename string, data []byte) (string, error)

	// Get reads a document by name
	Get(name string) ([]byte, error)

	// Delete removes a document
	Delete(name string) error

	// List returns the names of stored documents starting with prefix
	List(prefix string) ([]string, error)
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the export directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes the document, replacing any previous export with the same name
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	name := storageName(filename)
	if err := os.WriteFile(filepath.Join(l.basePath, name), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get reads a document from the export directory
func (l *LocalStorage) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, storageName(name)))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a document from the export directory
func (l *LocalStorage) Delete(name string) error {
	if err := os.Remove(filepath.Join(l.basePath, storageName(name))); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// List returns matching document names in lexical order
func (l *LocalStorage) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("listing export directory: %w", err)
	}
	prefix = strings.NewReplacer("/", "_", "\\", "_").Replace(prefix)

	names := make([]string, 0)
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// storageName keeps names inside the export directory and short enough
// for the filesystem. Long names lose the end of their stem; the
// extension survives.
func storageName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	if len(name) <= maxStorageName {
		return name
	}

	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	stem := name[:len(name)-len(ext)]
	cut := maxStorageName - len(ext)
	for cut > 0 && !utf8.RuneStart(stem[cut]) {
		cut--
	}
	return stem[:cut] + ext
}
