// Package concat merges log files into one line-oriented stream.
//
// Each source is preceded by a marker line
//
//	# file: <key>
//
// followed by its content. Gzip-compressed sources are decompressed; plain
// sources must start with ASCII text. A newline is inserted between sources
// when the previous one did not end with one, so every marker starts a line.
package concat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

const (
	// MarkerPrefix starts the line that introduces each source.
	MarkerPrefix = "# file: "

	peekSize  = 90
	chunkSize = 64 * 1024
)

var gzipMagic = []byte{0x1f, 0x8b}

// ErrNotASCII is returned for a plain source whose first bytes are not ASCII.
var ErrNotASCII = errors.New("file beginning is not ASCII")

// Source is one input file.
type Source struct {
	// Key names the source in its marker line.
	Key string
	// Path is the local file holding the content.
	Path string
}

// Concatenate writes all sources to w in order.
func Concatenate(w io.Writer, sources []Source) error {
	tw := &tailWriter{w: w}
	buf := make([]byte, chunkSize)
	for _, src := range sources {
		if tw.n > 0 && tw.last != '\n' {
			if _, err := tw.Write([]byte{'\n'}); err != nil {
				return fmt.Errorf("write separator: %w", err)
			}
		}
		if _, err := io.WriteString(tw, MarkerPrefix+src.Key+"\n"); err != nil {
			return fmt.Errorf("write marker for %s: %w", src.Key, err)
		}
		if err := copySource(tw, src, buf); err != nil {
			return err
		}
	}
	return nil
}

func copySource(w io.Writer, src Source, buf []byte) error {
	f, err := os.Open(src.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", src.Path, err)
	}
	defer f.Close()

	peek := make([]byte, peekSize)
	n, err := io.ReadFull(f, peek)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read %s: %w", src.Path, err)
	}
	peek = peek[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", src.Path, err)
	}

	var r io.Reader = f
	if bytes.HasPrefix(peek, gzipMagic) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip %s: %w", src.Key, err)
		}
		defer zr.Close()
		r = zr
	} else if !isASCII(peek) {
		return fmt.Errorf("%w: %s: %q", ErrNotASCII, src.Key, peek)
	}

	if _, err := io.CopyBuffer(onlyWriter{w}, onlyReader{r}, buf); err != nil {
		return fmt.Errorf("copy %s: %w", src.Key, err)
	}
	return nil
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// tailWriter remembers the last byte written through it.
type tailWriter struct {
	w    io.Writer
	n    int64
	last byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.n += int64(n)
		t.last = p[n-1]
	}
	return n, err
}

// onlyWriter and onlyReader hide ReaderFrom/WriterTo so io.CopyBuffer moves
// data in fixed-size chunks through buf.
type onlyWriter struct{ io.Writer }

type onlyReader struct{ io.Reader }
