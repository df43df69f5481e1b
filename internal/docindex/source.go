package docindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source yields named, already-extracted text blobs.
type Source interface {
	Name() string
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) (string, error)
}

var eligibleExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".text": true,
}

// DirSource serves every eligible file directly inside a directory.
// Text extracted from other formats is expected next to the original as
// "<name>.txt" and is keyed by the original name ("report.pdf.txt" -> "report.pdf").
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Name() string { return "dir:" + s.dir }

func (s *DirSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if name, ok := documentName(e.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *DirSource) Read(_ context.Context, name string) (string, error) {
	path := filepath.Join(s.dir, fileName(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func documentName(file string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(file))
	if !eligibleExtensions[ext] {
		return "", false
	}
	if ext == ".txt" {
		stem := strings.TrimSuffix(file, filepath.Ext(file))
		if inner := filepath.Ext(stem); inner != "" && !eligibleExtensions[strings.ToLower(inner)] {
			return stem, true
		}
	}
	return file, true
}

func fileName(name string) string {
	if eligibleExtensions[strings.ToLower(filepath.Ext(name))] {
		return name
	}
	return name + ".txt"
}
