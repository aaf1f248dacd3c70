package hashfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Stdio is the path that stands for standard input or standard output.
const Stdio = "-"

// Compression is the transparent compression layer of a hashfile.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

// CompressionFor picks the compression by file name suffix: ".gz" or ".zst".
func CompressionFor(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(name, ".zst"):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// FileWriter is a Writer on a file that owns the file and any compressor.
type FileWriter struct {
	*Writer
	closers []io.Closer // closed last to first
}

// Create creates the hashfile at path, or writes to stdout when path is "-".
func Create(path string) (*FileWriter, error) {
	if path == Stdio {
		return NewFileWriter(nopWriteCloser{os.Stdout}, CompressionNone)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating hashfile: %w", err)
	}
	w, err := NewFileWriter(f, CompressionFor(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// NewFileWriter writes records to w through compression c. The FileWriter
// takes ownership of w.
func NewFileWriter(w io.WriteCloser, c Compression) (*FileWriter, error) {
	fw := &FileWriter{closers: []io.Closer{w}}
	var out io.Writer = w
	switch c {
	case CompressionGzip:
		gz := pgzip.NewWriter(w)
		fw.closers = append(fw.closers, gz)
		out = gz
	case CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		fw.closers = append(fw.closers, zw)
		out = zw
	}
	fw.Writer = NewWriter(out)
	return fw, nil
}

// Close flushes buffered rows and closes the compressor and the file.
func (w *FileWriter) Close() error {
	errs := []error{w.Flush()}
	for i := len(w.closers) - 1; i >= 0; i-- {
		errs = append(errs, w.closers[i].Close())
	}
	return errors.Join(errs...)
}

// FileReader is a Reader on a file that owns the file and any decompressor.
type FileReader struct {
	*Reader
	closers []io.Closer
}

// Open opens the hashfile at path, or reads stdin when path is "-".
func Open(path string) (*FileReader, error) {
	if path == Stdio {
		return NewFileReader(io.NopCloser(os.Stdin), CompressionNone)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hashfile: %w", err)
	}
	r, err := NewFileReader(f, CompressionFor(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewFileReader reads records from r through compression c. The FileReader
// takes ownership of r.
func NewFileReader(r io.ReadCloser, c Compression) (*FileReader, error) {
	fr := &FileReader{closers: []io.Closer{r}}
	var in io.Reader = r
	switch c {
	case CompressionGzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		fr.closers = append(fr.closers, gz)
		in = gz
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		fr.closers = append(fr.closers, zr.IOReadCloser())
		in = zr
	}
	fr.Reader = NewReader(in)
	return fr, nil
}

// Close releases the decompressor and the file.
func (r *FileReader) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	return errors.Join(errs...)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
