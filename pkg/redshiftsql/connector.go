package redshiftsql

import (
	"context"
	"database/sql"
	"time"

	"github.com/pingcap-inc/stage2dw/pkg/coreinterfaces"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// DefaultRetryDelay is the wait before the single connection retry.
const DefaultRetryDelay = 5 * time.Second

type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ResultFormat selects the shape of a fetched result. Exactly one format must
// be requested.
type ResultFormat uint8

const (
	// FormatRows returns positional rows.
	FormatRows ResultFormat = 1 << iota
	// FormatRecords returns one column-name keyed map per row.
	FormatRecords
)

type FetchResult struct {
	Columns []string
	Rows    [][]any
	Records []map[string]any
}

// Warehouse is a connection to Redshift. All statements run on one pinned
// session, so temp tables created by one statement are visible to the next.
// A Warehouse is not safe for concurrent use.
type Warehouse struct {
	// RetryDelay is waited before retrying a failed Connect.
	RetryDelay time.Duration

	config coreinterfaces.Config
	db     *sql.DB
	conn   *sql.Conn
	state  State
}

func NewWarehouse(config coreinterfaces.Config) *Warehouse {
	return &Warehouse{
		RetryDelay: DefaultRetryDelay,
		config:     config,
		state:      StateDisconnected,
	}
}

func (w *Warehouse) State() State {
	return w.state
}

func (w *Warehouse) open(ctx context.Context) error {
	db, err := w.config.OpenDB()
	if err != nil {
		return errors.Trace(err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return errors.Trace(err)
	}
	w.db, w.conn = db, conn
	return nil
}

// Connect opens the session, or reopens it after Close. A failed attempt is
// retried once after RetryDelay.
func (w *Warehouse) Connect(ctx context.Context) error {
	if w.state == StateConnected {
		return nil
	}
	err := w.open(ctx)
	if err != nil {
		log.Warn("Failed to connect to Redshift, retrying", zap.Duration("delay", w.RetryDelay), zap.Error(err))
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-time.After(w.RetryDelay):
		}
		err = w.open(ctx)
	}
	if err != nil {
		log.Error("Failed to connect to Redshift", zap.Error(err))
		return errors.Annotate(ErrConnection, err.Error())
	}
	w.state = StateConnected
	return nil
}

func (w *Warehouse) checkConnected() error {
	if w.state != StateConnected {
		return errors.Annotatef(ErrConnection, "connection is %s", w.state)
	}
	return nil
}

func (w *Warehouse) failed(err error, stmt Statement) error {
	log.Error("Statement failed, closing Redshift connection", zap.Stringer("statement", stmt), zap.Error(err))
	if cerr := w.Close(); cerr != nil {
		log.Warn("Failed to close Redshift connection", zap.Error(cerr))
	}
	return errors.Annotatef(err, "failed to execute %s", stmt)
}

// Execute runs stmt in its own transaction and commits it. On error the
// transaction is rolled back and the connection closed.
func (w *Warehouse) Execute(ctx context.Context, stmt Statement) error {
	if err := w.checkConnected(); err != nil {
		return errors.Trace(err)
	}
	query, err := stmt.Query()
	if err != nil {
		return errors.Trace(err)
	}
	log.Info("Executing statement", zap.Stringer("statement", stmt))
	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return w.failed(err, stmt)
	}
	if _, err := tx.ExecContext(ctx, query); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			log.Warn("Failed to rollback", zap.Error(rerr))
		}
		return w.failed(err, stmt)
	}
	if err := tx.Commit(); err != nil {
		return w.failed(err, stmt)
	}
	return nil
}

// ExecuteAndFetch runs stmt and returns its result set in the requested format.
func (w *Warehouse) ExecuteAndFetch(ctx context.Context, stmt Statement, format ResultFormat) (*FetchResult, error) {
	if format != FormatRows && format != FormatRecords {
		return nil, errors.Annotatef(ErrInvalidArgument, "result format must be rows or records, got %d", format)
	}
	if err := w.checkConnected(); err != nil {
		return nil, errors.Trace(err)
	}
	query, err := stmt.Query()
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Info("Executing query", zap.Stringer("statement", stmt))
	result, err := w.fetch(ctx, query, format)
	if err != nil {
		return nil, w.failed(err, stmt)
	}
	return result, nil
}

func (w *Warehouse) fetch(ctx context.Context, query string, format ResultFormat) (*FetchResult, error) {
	rows, err := w.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := &FetchResult{Columns: columns}
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
		if format == FormatRows {
			result.Rows = append(result.Rows, values)
			continue
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = values[i]
		}
		result.Records = append(result.Records, record)
	}
	return result, errors.Trace(rows.Err())
}

// Close releases the session. Closing twice, or closing a connection that was
// never opened, does nothing.
func (w *Warehouse) Close() error {
	if w.state != StateConnected {
		return nil
	}
	w.state = StateClosed
	var err error
	if w.conn != nil {
		err = w.conn.Close()
	}
	if w.db != nil {
		if cerr := w.db.Close(); err == nil {
			err = cerr
		}
	}
	w.conn, w.db = nil, nil
	log.Info("Redshift connection closed")
	return errors.Trace(err)
}
