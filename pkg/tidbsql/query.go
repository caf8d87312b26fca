package tidbsql

import (
	"context"
	"database/sql"

	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// QueryTable runs query against db and materializes the result set as a
// table. NULL values stay nil and text columns are returned as strings.
func QueryTable(ctx context.Context, db *sql.DB, query string) (*tabular.Table, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Annotate(err, "failed to query TiDB")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Trace(err)
	}
	table := tabular.NewTable(columns...)
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Trace(err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		if err := table.Append(values...); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	log.Info("Read rows from TiDB", zap.Int("rows", table.NumRows()), zap.Strings("columns", columns))
	return table, nil
}
