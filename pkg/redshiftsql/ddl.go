package redshiftsql

import (
	"strings"

	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/pingcap/errors"
)

var distStyles = map[string]struct{}{
	"auto": {},
	"even": {},
	"all":  {},
	"key":  {},
}

// ValidateDistStyle accepts an empty style or one of AUTO, EVEN, ALL, KEY.
func ValidateDistStyle(style string) error {
	if style == "" {
		return nil
	}
	if _, ok := distStyles[strings.ToLower(style)]; !ok {
		return errors.Annotatef(ErrInvalidArgument, "unknown diststyle %q", style)
	}
	return nil
}

// CreateTableDDL derives the CREATE TABLE statement for ref from schema.
// Columns keep the schema order. Every source type must be mapped, otherwise
// ErrUnmappedType is returned naming the column.
func CreateTableDDL(
	ref TableRef,
	schema tabular.Schema,
	mapper *TypeMapper,
	distStyle string,
	sortKey []string,
	addUpdatedColumn bool,
) (*CreateTableStmt, error) {
	if len(schema) == 0 {
		return nil, errors.Annotatef(ErrInvalidArgument, "no columns for table %s", ref)
	}
	if err := ValidateDistStyle(distStyle); err != nil {
		return nil, errors.Trace(err)
	}
	columns := make([]ColumnDef, 0, len(schema))
	for _, col := range schema {
		tp, err := mapper.Map(col.SourceType)
		if err != nil {
			return nil, errors.Annotatef(err, "column %q", col.Name)
		}
		columns = append(columns, ColumnDef{Name: col.Name, Type: tp})
	}
	return &CreateTableStmt{
		Table:            ref,
		Columns:          columns,
		DistStyle:        distStyle,
		SortKey:          sortKey,
		AddUpdatedColumn: addUpdatedColumn,
	}, nil
}
