package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrNoData is returned when a file has a header row but no data rows, or no
// records at all.
var ErrNoData = errors.New("no data found in file")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM drops a leading UTF-8 byte order mark, which Excel adds to CSV
// exports on Windows.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// sanitizingReader replaces every byte that is not part of a valid UTF-8
// sequence with '?'. It decodes rune by rune so a multi-byte sequence split
// across underlying reads is never mangled.
type sanitizingReader struct {
	src     *bufio.Reader
	pending []byte
}

func newSanitizingReader(r io.Reader) *sanitizingReader {
	return &sanitizingReader{src: bufio.NewReader(r)}
}

func (s *sanitizingReader) Read(p []byte) (int, error) {
	n := 0
	if len(s.pending) > 0 {
		n = copy(p, s.pending)
		s.pending = s.pending[n:]
		if n == len(p) {
			return n, nil
		}
	}

	var buf [utf8.UTFMax]byte
	for n < len(p) {
		r, size, err := s.src.ReadRune()
		if err != nil {
			if n > 0 && err == io.EOF {
				return n, nil
			}
			return n, err
		}

		var enc []byte
		if r == utf8.RuneError && size == 1 {
			enc = []byte{'?'}
		} else {
			w := utf8.EncodeRune(buf[:], r)
			enc = buf[:w]
		}

		c := copy(p[n:], enc)
		n += c
		if c < len(enc) {
			s.pending = append(s.pending[:0], enc[c:]...)
			break
		}
	}
	return n, nil
}

// WrapForParsing strips the BOM and sanitizes invalid UTF-8. The BOM must go
// first since the sanitizer would otherwise keep it as a valid rune.
func WrapForParsing(r io.Reader) io.Reader {
	return newSanitizingReader(skipBOM(r))
}

// contextReader fails reads once its context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

// ContextReader returns a reader that stops with ctx.Err() once ctx is done.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ctxCheckEvery is how many records the CSV loop reads between context checks.
const ctxCheckEvery = 1024

// Parse reads a CSV file into a dataset. The first non-blank record is the
// header row; blank records are skipped; short records are padded with "" and
// extra fields are ignored. All cell values are strings.
func Parse(r io.Reader, source string) (*Dataset, error) {
	return ParseContext(context.Background(), r, source)
}

// ParseContext is Parse that gives up once ctx is done.
func ParseContext(ctx context.Context, r io.Reader, source string) (*Dataset, error) {
	cr := csv.NewReader(WrapForParsing(ContextReader(ctx, r)))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var headers []string
	rows := make([]Row, 0, 64)

	for n := 1; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("parse %s: %w", source, err)
			}
		}
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("parse %s: %w", source, ctxErr)
			}
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		if isEmptyRecord(record) {
			continue
		}

		if headers == nil {
			headers = makeHeaders(record)
			continue
		}

		row := make(Row, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrNoData
	}

	return New(source, headers, rows), nil
}

// ParseJSON reads a dataset previously written by the JSON exporter, or a
// bare {"headers": [...], "rows": [...]} document.
func ParseJSON(r io.Reader, source string) (*Dataset, error) {
	return ParseJSONContext(context.Background(), r, source)
}

// ParseJSONContext is ParseJSON that gives up once ctx is done.
func ParseJSONContext(ctx context.Context, r io.Reader, source string) (*Dataset, error) {
	var doc struct {
		Headers []string         `json:"headers"`
		Rows    []map[string]any `json:"rows"`
		Dataset *struct {
			Headers []string         `json:"headers"`
			Rows    []map[string]any `json:"rows"`
		} `json:"dataset"`
	}
	if err := json.NewDecoder(WrapForParsing(ContextReader(ctx, r))).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, ErrNoData
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("parse %s: %w", source, ctxErr)
		}
		return nil, fmt.Errorf("invalid json dataset: %w", err)
	}

	headers, raw := doc.Headers, doc.Rows
	if doc.Dataset != nil {
		headers, raw = doc.Dataset.Headers, doc.Dataset.Rows
	}
	if len(raw) == 0 {
		return nil, ErrNoData
	}

	rows := make([]Row, len(raw))
	for i, m := range raw {
		rows[i] = NormalizeRow(m)
	}
	return New(source, CloneHeaders(headers), rows), nil
}

// makeHeaders cleans the header record: cells are trimmed, blank names get a
// positional name, and duplicates are suffixed so every column stays
// addressable.
func makeHeaders(record []string) []string {
	headers := make([]string, len(record))
	seen := make(map[string]int, len(record))
	for i, cell := range record {
		name := cleanHeader(cell)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[name]++
		headers[i] = name
	}
	return headers
}

// cleanHeader removes spreadsheet artifacts like ="Name" and stray quotes.
func cleanHeader(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

func isEmptyRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
