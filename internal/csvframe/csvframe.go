// Package csvframe implements a byte-level state machine for the extract
// feed's non-standard framing (multi-character field and row separators),
// which encoding/csv cannot express. Bytes read but not yet framed stay in a
// carry-over buffer that grows by 64 KiB reads until it holds a row
// separator, so it is bounded by the longest row plus one read rather than by
// the separator length; an object without row separators is held whole.
package csvframe

import (
	"bufio"
	"bytes"
	"io"
)

const (
	// DefaultFieldSep and DefaultRowSep match the feed's documented framing.
	DefaultFieldSep = "|~~|"
	DefaultRowSep   = "|^^|"

	defaultReadBufferSize = 64 * 1024
)

// Framer streams rows out of r, splitting on the configured field and row
// separators. Empty trailing fields are preserved.
type Framer struct {
	reader   *bufio.Reader
	fieldSep []byte
	rowSep   []byte
	carry    []byte
	done     bool
}

// New builds a Framer over r using DefaultFieldSep/DefaultRowSep.
func New(r io.Reader) *Framer {
	return NewWithSeparators(r, DefaultFieldSep, DefaultRowSep)
}

// NewWithSeparators builds a Framer with custom separators, for feeds that
// document a different framing than the default.
func NewWithSeparators(r io.Reader, fieldSep, rowSep string) *Framer {
	return &Framer{
		reader:   bufio.NewReaderSize(r, defaultReadBufferSize),
		fieldSep: []byte(fieldSep),
		rowSep:   []byte(rowSep),
	}
}

// Next returns the next framed row as its raw bytes split into fields, or
// io.EOF once the stream is exhausted. The returned slices are only valid
// until the next call to Next.
func (f *Framer) Next() ([][]byte, error) {
	for {
		if idx := bytes.Index(f.carry, f.rowSep); idx >= 0 {
			rowBytes := f.carry[:idx]
			f.carry = f.carry[idx+len(f.rowSep):]

			return splitFields(rowBytes, f.fieldSep), nil
		}

		if f.done {
			if len(f.carry) == 0 {
				return nil, io.EOF
			}

			rowBytes := f.carry
			f.carry = nil

			return splitFields(rowBytes, f.fieldSep), nil
		}

		chunk := make([]byte, defaultReadBufferSize)

		n, err := f.reader.Read(chunk)
		if n > 0 {
			f.carry = append(f.carry, chunk[:n]...)
		}

		if err != nil {
			if err == io.EOF {
				f.done = true

				continue
			}

			return nil, err
		}
	}
}

// splitFields splits row on sep, preserving empty trailing fields.
func splitFields(row, sep []byte) [][]byte {
	if len(row) == 0 {
		return [][]byte{}
	}

	return bytes.Split(row, sep)
}
