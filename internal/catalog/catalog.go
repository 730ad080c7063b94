// Package catalog turns a raw listing of bulk-data URLs into the set of files
// worth downloading: one reference per logical dataset, the most recent
// dated variant, deltas excluded.
package catalog

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

// DefaultDeltaSuffix marks incremental exports that are never import targets.
const DefaultDeltaSuffix = ".delta"

// Bz2Suffix is the only compression suffix the pipeline knows how to expand.
const Bz2Suffix = ".bz2"

var dateStamp = regexp.MustCompile(`-\d{4}-\d{2}-\d{2}`)

// Compression is decided once, when a reference is resolved, and threaded
// through the transfer instead of being re-derived from the name.
type Compression int

const (
	PlainFile Compression = iota
	Bz2Compressed
)

func (c Compression) String() string {
	switch c {
	case Bz2Compressed:
		return "bz2"
	default:
		return "plain"
	}
}

// FileReference identifies one downloadable artifact.
type FileReference struct {
	Name        string // trailing path segment, e.g. "dockets-2025-07-01.csv.bz2"
	Source      string // absolute URL
	Compression Compression
}

// Dataset returns the logical dataset key: Name with its date stamp removed.
func (r FileReference) Dataset() string {
	return DatasetKey(r.Name)
}

// ExtractedName is the name of the file once any compression is removed.
// For a plain file it is Name itself.
func (r FileReference) ExtractedName() string {
	if r.Compression == Bz2Compressed {
		return strings.TrimSuffix(r.Name, Bz2Suffix)
	}
	return r.Name
}

// FinalNames lists every local name whose presence means this reference has
// already been materialized: the extracted form and, when that form is not
// already a CSV, its ".csv" sibling.
func (r FileReference) FinalNames() []string {
	extracted := r.ExtractedName()
	if strings.HasSuffix(extracted, ".csv") {
		return []string{extracted}
	}
	return []string{extracted, extracted + ".csv"}
}

// DatasetKey strips every "-YYYY-MM-DD" stamp from name.
func DatasetKey(name string) string {
	return dateStamp.ReplaceAllString(name, "")
}

// NewFileReference builds a reference from a URL, classifying its compression.
// Returns false when the URL has no usable trailing name.
func NewFileReference(link string) (FileReference, bool) {
	name := fileName(link)
	if name == "" {
		return FileReference{}, false
	}

	ref := FileReference{Name: name, Source: link, Compression: PlainFile}
	if strings.HasSuffix(name, Bz2Suffix) {
		ref.Compression = Bz2Compressed
	}
	return ref, true
}

// fileName returns the trailing path segment of link.
func fileName(link string) string {
	p := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		p = u.Path
	}
	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Resolver selects the latest file per dataset.
type Resolver struct {
	DeltaSuffix string
}

// Resolve is the package-level shortcut using the default delta suffix.
func Resolve(links []string) []FileReference {
	return Resolver{DeltaSuffix: DefaultDeltaSuffix}.Resolve(links)
}

// Resolve folds links into one reference per dataset. Within a dataset the
// greatest name wins; an equal name never replaces the one seen first.
// The input is not modified and the result is sorted by name.
func (rv Resolver) Resolve(links []string) []FileReference {
	suffix := rv.DeltaSuffix
	if suffix == "" {
		suffix = DefaultDeltaSuffix
	}

	latest := make(map[string]FileReference)
	for _, link := range links {
		ref, ok := NewFileReference(link)
		if !ok || strings.HasSuffix(ref.Name, suffix) {
			continue
		}

		key := ref.Dataset()
		if best, seen := latest[key]; !seen || ref.Name > best.Name {
			latest[key] = ref
		}
	}

	out := make([]FileReference, 0, len(latest))
	for _, ref := range latest {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
