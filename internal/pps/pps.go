// Package pps writes pulse-per-second markers as a text table.
package pps

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

const header = "#pps_index sample_index   unix_time\n"

// Writer writes one row per PPS event and flushes after every row.
type Writer struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewWriter writes the header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		pw.closer = c
	}
	if _, err := pw.w.WriteString(header); err != nil {
		return nil, err
	}
	return pw, pw.w.Flush()
}

// Open creates the named file, "-" selects stdout.
func Open(target string) (*Writer, error) {
	if target == "-" {
		return NewWriter(struct{ io.Writer }{os.Stdout})
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("can not open pps file: %w", err)
	}
	return NewWriter(f)
}

// Write writes one marker. unixTime is in seconds.
func (p *Writer) Write(ppsIndex, sampleIndex uint64, unixTime float64) error {
	if _, err := fmt.Fprintf(p.w, "%8d %14d %18.6f\n", ppsIndex, sampleIndex, unixTime); err != nil {
		return err
	}
	return p.w.Flush()
}

// Close flushes the writer and closes the underlying file, if any.
func (p *Writer) Close() error {
	err := p.w.Flush()
	if p.closer != nil {
		if cerr := p.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
