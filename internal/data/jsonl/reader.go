// Package jsonl reads the line-oriented tree export consumed at startup:
// one metadata header record followed by a stream of node records,
// optionally gzip- or zstd-compressed.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrEmptyInput is returned when the stream contains no header record.
var ErrEmptyInput = errors.New("jsonl: empty input stream")

const (
	initialLineBuffer = 1 << 20  // 1 MiB
	maxLineBuffer     = 64 << 20 // node lines carry flattened metadata and can be large
)

type readCloser struct {
	io.Reader
	close func() error
}

func (rc *readCloser) Close() error { return rc.close() }

// Open opens the export at path, transparently decompressing .gz and .zst
// files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("jsonl: open gzip stream: %w", err)
		}
		return &readCloser{Reader: gz, close: func() error {
			gz.Close()
			return f.Close()
		}}, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("jsonl: open zstd stream: %w", err)
		}
		return &readCloser{Reader: zr, close: func() error {
			zr.Close()
			return f.Close()
		}}, nil
	default:
		return f, nil
	}
}

// Decoder reads the header record eagerly and the node records one line at
// a time. Any line that fails to decode is an error; the load is
// all-or-nothing and the caller is expected to abort on the first failure.
type Decoder struct {
	scanner *bufio.Scanner
	meta    *Metadata
	line    int
}

// NewDecoder consumes and validates the header record.
func NewDecoder(r io.Reader) (*Decoder, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBuffer)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("jsonl: read header record: %w", err)
		}
		return nil, ErrEmptyInput
	}

	var meta Metadata
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("jsonl: malformed header record: %w", err)
	}

	return &Decoder{scanner: scanner, meta: &meta, line: 1}, nil
}

// Metadata returns the decoded header record.
func (d *Decoder) Metadata() *Metadata { return d.meta }

// Next returns the next node record, or io.EOF when the stream is
// exhausted. Blank lines (typically a trailing newline) are skipped.
func (d *Decoder) Next() (NodeRecord, error) {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return NodeRecord{}, fmt.Errorf("jsonl: read line %d: %w", d.line+1, err)
			}
			return NodeRecord{}, io.EOF
		}
		d.line++

		data := d.scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		var rec NodeRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return NodeRecord{}, fmt.Errorf("jsonl: malformed node record at line %d: %w", d.line, err)
		}
		return rec, nil
	}
}
