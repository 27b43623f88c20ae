// Package catalog перечисляет FT и их файлы в каталоге files.root.
//
// Раскладка: <root>/<ft>/<file>. Шаги file_copy и sql_deployment берут
// файлы из того же каталога.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidFT — имя FT не является одним элементом пути.
var ErrInvalidFT = errors.New("invalid ft name")

// Filter — отбор файлов по типу.
type Filter string

const (
	// FilterAll — все обычные файлы.
	FilterAll Filter = ""

	// FilterSQL — только *.sql.
	FilterSQL Filter = "sql"
)

// ParseFilter разбирает значение параметра type.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterAll, FilterSQL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown file type %q", s)
	}
}

func (f Filter) match(name string) bool {
	if f == FilterSQL {
		return strings.EqualFold(filepath.Ext(name), ".sql")
	}
	return true
}

// Catalog читает каталог FT с диска на каждый запрос.
type Catalog struct {
	root string
}

// New создаёт каталог над root.
func New(root string) *Catalog {
	return &Catalog{root: root}
}

// FTs возвращает имена FT. С FilterSQL — только FT, где есть SQL-файлы.
// Отсутствующий root даёт пустой список.
func (c *Catalog) FTs(filter Filter) ([]string, error) {
	entries, err := readDir(c.root)
	if err != nil {
		return nil, err
	}

	fts := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if filter != FilterAll {
			files, err := c.Files(e.Name(), filter)
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				continue
			}
		}
		fts = append(fts, e.Name())
	}
	return fts, nil
}

// Files возвращает файлы FT. Неизвестная FT даёт пустой список.
func (c *Catalog) Files(ft string, filter Filter) ([]string, error) {
	if ft == "" || ft == "." || ft == ".." || strings.ContainsAny(ft, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFT, ft)
	}

	entries, err := readDir(filepath.Join(c.root, ft))
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !filter.match(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

// readDir возвращает записи каталога в порядке имён. Нет каталога — нет записей.
func readDir(dir string) ([]os.DirEntry, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	return entries, nil
}
