// Package tabular holds the in-memory table that is staged to object storage,
// its CSV codec and the inspection of column types from a staged payload.
package tabular

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pingcap/errors"
)

// Source types reported by CSVInspector. The names follow the dtype names a
// type map is usually written against.
const (
	TypeInt64    = "int64"
	TypeFloat64  = "float64"
	TypeBool     = "bool"
	TypeDatetime = "datetime64[ns]"
	TypeObject   = "object"
)

// NullToken is written for float NaN values and read back as null.
const NullToken = "NaN"

// TimestampLayout is used to serialize time.Time values.
const TimestampLayout = "2006-01-02 15:04:05.999999"

// Column describes one column of a payload in its original position.
type Column struct {
	Name       string
	SourceType string
}

// Schema is the ordered column list of a payload.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for _, col := range s {
		names = append(names, col.Name)
	}
	return names
}

// Table is a row-major in-memory table. A nil cell is a null.
type Table struct {
	Columns []string
	Rows    [][]any
}

func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// Append adds one row, which must have a value for every column.
func (t *Table) Append(row ...any) error {
	if len(row) != len(t.Columns) {
		return errors.Errorf("row has %d values, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

func (t *Table) NumRows() int {
	return len(t.Rows)
}

// FormatValue renders a cell the way it is written into a staged CSV file.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return formatFloat(float64(val), 32)
	case float64:
		return formatFloat(val, 64)
	case time.Time:
		return val.Format(TimestampLayout)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.Format(TimestampLayout)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func formatFloat(f float64, bitSize int) string {
	if math.IsNaN(f) {
		return NullToken
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}
