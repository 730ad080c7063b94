package load

import (
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// textFile is an open file decoded as UTF-8 with any byte order mark
// consumed. UTF-16 files with a BOM are transcoded to UTF-8.
type textFile struct {
	io.Reader
	f *os.File
}

func (t *textFile) Close() error { return t.f.Close() }

// openText opens path for reading as text. Invalid UTF-8 sequences are
// replaced with U+FFFD rather than failing the read.
func openText(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	return &textFile{Reader: transform.NewReader(f, dec), f: f}, nil
}
