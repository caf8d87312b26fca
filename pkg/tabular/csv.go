package tabular

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pingcap/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUnsupportedEncoding is returned for text encodings a staged object
// cannot be written in.
var ErrUnsupportedEncoding = errors.New("unsupported text encoding")

// DefaultEncoding is used when no encoding is given.
const DefaultEncoding = "utf-8"

// Staged objects are read back by COPY, which only understands UTF-8 and
// UTF-16. Plain utf-16 carries a byte order mark.
var stagingEncodings = map[string]encoding.Encoding{
	"utf-8":    unicode.UTF8,
	"utf-16":   unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16le": unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16be": unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

// EncodeOptions controls how a table is serialized for staging.
type EncodeOptions struct {
	// Encoding is one of utf-8, utf-16, utf-16le or utf-16be, utf-8 when empty.
	Encoding string
	// Compress gzips the payload.
	Compress bool
}

// NormalizeEncoding returns the canonical label of name, e.g. "UTF16LE" gives
// "utf-16le".
func NormalizeEncoding(name string) (string, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "" {
		return DefaultEncoding, nil
	}
	if strings.HasPrefix(label, "utf") && !strings.HasPrefix(label, "utf-") {
		label = "utf-" + label[len("utf"):]
	}
	if _, ok := stagingEncodings[label]; !ok {
		return "", errors.Annotatef(ErrUnsupportedEncoding, "%q, want one of utf-8, utf-16, utf-16le, utf-16be", name)
	}
	return label, nil
}

// LookupEncoding resolves an encoding label such as "utf-8" or "utf-16le".
func LookupEncoding(name string) (encoding.Encoding, error) {
	label, err := NormalizeEncoding(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return stagingEncodings[label], nil
}

// EncodeCSV writes the table as CSV with a header row.
func (t *Table) EncodeCSV(opts EncodeOptions) ([]byte, error) {
	enc, err := LookupEncoding(opts.Encoding)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var buf bytes.Buffer
	var sink io.Writer = &buf
	var zw *gzip.Writer
	if opts.Compress {
		zw = gzip.NewWriter(&buf)
		sink = zw
	}
	tw := transform.NewWriter(sink, enc.NewEncoder())

	w := csv.NewWriter(tw)
	if err := w.Write(t.Columns); err != nil {
		return nil, errors.Trace(err)
	}
	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, errors.Errorf("row %d has %d values, table has %d columns", i, len(row), len(t.Columns))
		}
		for j, v := range row {
			record[j] = FormatValue(v)
		}
		if err := w.Write(record); err != nil {
			return nil, errors.Trace(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := tw.Close(); err != nil {
		return nil, errors.Annotate(err, "failed to encode payload")
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return buf.Bytes(), nil
}

// ReadCSV reads a CSV document with a header row into a table.
// Empty fields become nulls; everything else is kept as a string.
func ReadCSV(r io.Reader) (*Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Annotate(err, "failed to read csv")
	}
	if len(records) == 0 {
		return nil, errors.New("csv has no header row")
	}
	t := NewTable(records[0]...)
	t.Rows = make([][]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]any, len(record))
		for i, field := range record {
			if field != "" {
				row[i] = field
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// DecodePayload undoes gzip compression (detected by magic number) and text
// encoding of a staged payload.
func DecodePayload(payload []byte, encodingName string) (io.Reader, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var r io.Reader = bytes.NewReader(payload)
	if IsGzip(payload) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Annotate(err, "failed to open gzip payload")
		}
		r = zr
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// IsGzip reports whether payload starts with the gzip magic number.
func IsGzip(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b
}
