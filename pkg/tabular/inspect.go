package tabular

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/pingcap/errors"
)

// SchemaInspector observes the column schema of a staged payload.
type SchemaInspector interface {
	Inspect(payload []byte) (Schema, error)
}

// CSVInspector infers column types from a staged CSV payload. Null fields
// (empty or NaN) are ignored; a column with no values at all is an object.
type CSVInspector struct {
	Encoding string
}

var _ SchemaInspector = CSVInspector{}

var datetimeLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

type candidate uint8

const (
	candInt candidate = 1 << iota
	candFloat
	candBool
	candDatetime

	candAll = candInt | candFloat | candBool | candDatetime
)

type columnState struct {
	candidates candidate
	seen       bool
}

func (s *columnState) observe(field string) {
	if field == "" || field == NullToken {
		return
	}
	s.seen = true
	if s.candidates&candInt != 0 {
		if _, err := strconv.ParseInt(field, 10, 64); err != nil {
			s.candidates &^= candInt
		}
	}
	if s.candidates&candFloat != 0 {
		if _, err := strconv.ParseFloat(field, 64); err != nil {
			s.candidates &^= candFloat
		}
	}
	if s.candidates&candBool != 0 && !isBool(field) {
		s.candidates &^= candBool
	}
	if s.candidates&candDatetime != 0 && !isDatetime(field) {
		s.candidates &^= candDatetime
	}
}

func (s *columnState) sourceType() string {
	switch {
	case !s.seen:
		return TypeObject
	case s.candidates&candInt != 0:
		return TypeInt64
	case s.candidates&candFloat != 0:
		return TypeFloat64
	case s.candidates&candBool != 0:
		return TypeBool
	case s.candidates&candDatetime != 0:
		return TypeDatetime
	default:
		return TypeObject
	}
}

func isBool(field string) bool {
	switch field {
	case "true", "false", "True", "False", "TRUE", "FALSE":
		return true
	}
	return false
}

func isDatetime(field string) bool {
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, field); err == nil {
			return true
		}
	}
	return false
}

// Inspect reads the whole payload once and returns its columns in header order.
func (i CSVInspector) Inspect(payload []byte) (Schema, error) {
	r, err := DecodePayload(payload, i.Encoding)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("payload has no header row")
	}
	if err != nil {
		return nil, errors.Annotate(err, "failed to read payload header")
	}
	names := make([]string, len(header))
	copy(names, header)
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			return nil, errors.New("payload has an empty column name")
		}
		if _, ok := seen[name]; ok {
			return nil, errors.Errorf("payload has duplicate column %q", name)
		}
		seen[name] = struct{}{}
	}

	states := make([]columnState, len(names))
	for idx := range states {
		states[idx].candidates = candAll
	}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Annotate(err, "failed to read payload")
		}
		for idx, field := range record {
			states[idx].observe(field)
		}
	}

	schema := make(Schema, 0, len(names))
	for idx, name := range names {
		schema = append(schema, Column{Name: name, SourceType: states[idx].sourceType()})
	}
	return schema, nil
}
