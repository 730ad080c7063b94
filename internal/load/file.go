// Package load validates local bulk-data files and applies them to a
// datastore, one all-or-nothing transaction per file.
//
// Scripts (.sql) are executed as a single statement batch; tabular files
// (.csv) are streamed into the table named after the file through the
// datastore's bulk copy. The first failure rolls back its own transaction and
// stops the batch, since later files may depend on earlier ones.
package load

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/bulkdata/internal/catalog"
)

// Kind is the delivery path for a file.
type Kind int

const (
	Script Kind = iota
	Tabular
)

func (k Kind) String() string {
	switch k {
	case Script:
		return "script"
	case Tabular:
		return "tabular"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// File is one loadable file. Table is empty for scripts.
type File struct {
	Path  string
	Kind  Kind
	Table string
}

// Name returns the base name of the file.
func (f File) Name() string {
	return filepath.Base(f.Path)
}

// TableNaming picks how a tabular file's destination table is derived.
type TableNaming int

const (
	// TableFromStem uses the file name without its extension:
	// "docket-2025-07-01.csv" loads into "docket-2025-07-01".
	TableFromStem TableNaming = iota

	// TableFromDataset also drops the date stamp:
	// "docket-2025-07-01.csv" loads into "docket".
	TableFromDataset
)

// Classify maps a path to a File by extension. Anything other than .sql or
// .csv is not loadable.
func Classify(path string, naming TableNaming) (File, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".sql":
		return File{Path: path, Kind: Script}, true
	case ".csv":
		return File{Path: path, Kind: Tabular, Table: tableName(path, naming)}, true
	default:
		return File{}, false
	}
}

func tableName(path string, naming TableNaming) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if naming == TableFromDataset {
		return catalog.DatasetKey(stem)
	}
	return stem
}

// Discover lists loadable files directly inside dir: scripts first, then
// tabular files, each group sorted by name.
func Discover(dir string, naming TableNaming) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bulk dir: %w", err)
	}

	var scripts, tables []File
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		f, ok := Classify(filepath.Join(dir, e.Name()), naming)
		if !ok {
			continue
		}
		if f.Kind == Script {
			scripts = append(scripts, f)
		} else {
			tables = append(tables, f)
		}
	}

	byName := func(files []File) {
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	}
	byName(scripts)
	byName(tables)

	return append(scripts, tables...), nil
}
