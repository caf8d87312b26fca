package loader_test

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/pingcap-inc/stage2dw/pkg/objstore"
	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/pingcap/errors"
)

type memStore struct {
	defaultBucket string
	objects       map[string][]byte
	deleteErr     error
}

func newMemStore() *memStore {
	return &memStore{defaultBucket: "loads", objects: make(map[string][]byte)}
}

func (s *memStore) DefaultBucket() string { return s.defaultBucket }

func (s *memStore) URL(bucket, key string) string { return "mem://" + bucket + "/" + key }

func (s *memStore) Write(_ context.Context, bucket, key string, payload []byte) (string, error) {
	if bucket == "" {
		return "", errors.New("no bucket")
	}
	s.objects[bucket+"/"+key] = append([]byte(nil), payload...)
	return key, nil
}

func (s *memStore) Read(_ context.Context, bucket, key string) ([]byte, error) {
	payload, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.Annotatef(objstore.ErrNotFound, "%s/%s", bucket, key)
	}
	return payload, nil
}

func (s *memStore) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, bucket+"/"+key)
	return nil
}

type fakeTable struct {
	columns []string
	rows    [][]any
}

// fakeWarehouse applies the load statements to in-memory tables.
type fakeWarehouse struct {
	store      *memStore
	schemas    map[string]bool
	tables     map[string]*fakeTable
	statements []redshiftsql.Statement
	failOn     func(redshiftsql.Statement) error
}

func newFakeWarehouse(store *memStore) *fakeWarehouse {
	return &fakeWarehouse{
		store:   store,
		schemas: make(map[string]bool),
		tables:  make(map[string]*fakeTable),
	}
}

// seed creates schema.table with string rows.
func (w *fakeWarehouse) seed(ref redshiftsql.TableRef, columns []string, rows ...[]any) {
	w.schemas[ref.Schema] = true
	w.tables[ref.String()] = &fakeTable{columns: columns, rows: rows}
}

func (w *fakeWarehouse) kinds() []string {
	kinds := make([]string, 0, len(w.statements))
	for _, stmt := range w.statements {
		kinds = append(kinds, strings.TrimPrefix(fmt.Sprintf("%T", stmt), "*redshiftsql."))
	}
	return kinds
}

// rows renders the rows of a table as sorted strings.
func (w *fakeWarehouse) rows(ref redshiftsql.TableRef) []string {
	table, ok := w.tables[ref.String()]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(table.rows))
	for _, row := range table.rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = fmt.Sprint(v)
		}
		out = append(out, strings.Join(parts, ","))
	}
	sort.Strings(out)
	return out
}

func (w *fakeWarehouse) table(ref redshiftsql.TableRef) (*fakeTable, error) {
	table, ok := w.tables[ref.String()]
	if !ok {
		return nil, errors.Errorf("relation %s does not exist", ref)
	}
	return table, nil
}

func (w *fakeWarehouse) Execute(_ context.Context, stmt redshiftsql.Statement) error {
	w.statements = append(w.statements, stmt)
	if w.failOn != nil {
		if err := w.failOn(stmt); err != nil {
			return err
		}
	}
	if _, err := stmt.Query(); err != nil {
		return err
	}
	switch s := stmt.(type) {
	case *redshiftsql.CreateSchemaStmt:
		w.schemas[s.Schema] = true
	case *redshiftsql.DropTableStmt:
		delete(w.tables, s.Table.String())
	case *redshiftsql.CreateTableStmt:
		if !w.schemas[s.Table.Schema] {
			return errors.Errorf("schema %s does not exist", s.Table.Schema)
		}
		if _, ok := w.tables[s.Table.String()]; ok {
			return nil
		}
		table := &fakeTable{}
		for _, col := range s.Columns {
			table.columns = append(table.columns, col.Name)
		}
		if s.AddUpdatedColumn {
			table.columns = append(table.columns, redshiftsql.UpdatedAtColumn)
		}
		w.tables[s.Table.String()] = table
	case *redshiftsql.CreateStagingStmt:
		source, err := w.table(s.Source)
		if err != nil {
			return err
		}
		if _, ok := w.tables[s.Staging.String()]; ok {
			return errors.Errorf("relation %s already exists", s.Staging)
		}
		w.tables[s.Staging.String()] = &fakeTable{columns: slices.Clone(source.columns)}
	case *redshiftsql.CopyStmt:
		return w.copy(s)
	case *redshiftsql.DeleteMatchingKeysStmt:
		source, err := w.table(s.Source)
		if err != nil {
			return err
		}
		dest, err := w.table(s.Dest)
		if err != nil {
			return err
		}
		keyOf := func(t *fakeTable, row []any) string {
			parts := make([]string, 0, len(s.PrimaryKeys))
			for _, key := range s.PrimaryKeys {
				parts = append(parts, fmt.Sprint(row[slices.Index(t.columns, key)]))
			}
			return strings.Join(parts, "\x00")
		}
		incoming := make(map[string]struct{})
		for _, row := range source.rows {
			incoming[keyOf(source, row)] = struct{}{}
		}
		kept := dest.rows[:0]
		for _, row := range dest.rows {
			if _, ok := incoming[keyOf(dest, row)]; !ok {
				kept = append(kept, row)
			}
		}
		dest.rows = kept
	case *redshiftsql.InsertAllStmt:
		source, err := w.table(s.Source)
		if err != nil {
			return err
		}
		dest, err := w.table(s.Dest)
		if err != nil {
			return err
		}
		if len(source.columns) != len(dest.columns) {
			return errors.New("INSERT has more expressions than target columns")
		}
		dest.rows = append(dest.rows, source.rows...)
	default:
		return errors.Errorf("unexpected statement %T", stmt)
	}
	return nil
}

func (w *fakeWarehouse) copy(s *redshiftsql.CopyStmt) error {
	target, err := w.table(s.Target)
	if err != nil {
		return err
	}
	payload, ok := w.store.objects[strings.TrimPrefix(s.From, "mem://")]
	if !ok {
		return errors.Errorf("the specified S3 prefix '%s' does not exist", s.From)
	}
	if tabular.IsGzip(payload) != slices.Contains(s.Options, redshiftsql.CopyGzipOption) {
		return errors.New("invalid or missing GZIP option")
	}
	encoding := "UTF8"
	for _, opt := range s.Options {
		if name, ok := strings.CutPrefix(opt, "ENCODING AS "); ok {
			encoding = name
		}
	}
	r, err := tabular.DecodePayload(payload, encoding)
	if err != nil {
		return err
	}
	staged, err := tabular.ReadCSV(r)
	if err != nil {
		return err
	}
	columns := s.Columns
	if len(columns) == 0 {
		columns = target.columns
	}
	for _, in := range staged.Rows {
		row := make([]any, len(target.columns))
		for i, col := range target.columns {
			if col == redshiftsql.UpdatedAtColumn {
				row[i] = "sysdate"
			}
		}
		for i, col := range columns {
			idx := slices.Index(target.columns, col)
			if idx < 0 {
				return errors.Errorf("column %q does not exist in %s", col, s.Target)
			}
			row[idx] = in[i]
		}
		target.rows = append(target.rows, row)
	}
	return nil
}

func (w *fakeWarehouse) ExecuteAndFetch(_ context.Context, stmt redshiftsql.Statement, format redshiftsql.ResultFormat) (*redshiftsql.FetchResult, error) {
	w.statements = append(w.statements, stmt)
	if w.failOn != nil {
		if err := w.failOn(stmt); err != nil {
			return nil, err
		}
	}
	s, ok := stmt.(*redshiftsql.TableExistsStmt)
	if !ok || format != redshiftsql.FormatRecords {
		return nil, errors.Errorf("unexpected query %T", stmt)
	}
	count := int64(0)
	if _, ok := w.tables[redshiftsql.TableRef{Schema: s.Schema, Table: s.Table}.String()]; ok {
		count = 1
	}
	return &redshiftsql.FetchResult{
		Columns: []string{"count"},
		Records: []map[string]any{{"count": count}},
	}, nil
}

func objstoreObject(bucket, key string) objstore.Object {
	return objstore.Object{Bucket: bucket, Key: key}
}
