package loader_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/pingcap-inc/stage2dw/pkg/loader"
	"github.com/pingcap-inc/stage2dw/pkg/metrics"
	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/util/promutil"
	"github.com/stretchr/testify/require"
)

var (
	orders  = redshiftsql.TableRef{Schema: "public", Table: "orders"}
	staging = orders.StagingRef()
)

func testMapper() *redshiftsql.TypeMapper {
	return redshiftsql.NewTypeMapper(redshiftsql.TypeMap{
		tabular.TypeInt64:    "BIGINT",
		tabular.TypeFloat64:  "FLOAT8",
		tabular.TypeBool:     "BOOLEAN",
		tabular.TypeDatetime: "TIMESTAMP",
		tabular.TypeObject:   "VARCHAR(65535)",
	})
}

func newTestLoader(opts ...loader.Option) (*loader.Loader, *fakeWarehouse, *memStore) {
	store := newMemStore()
	warehouse := newFakeWarehouse(store)
	creds := &redshiftsql.Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret"}
	return loader.New(warehouse, store, testMapper(), creds, opts...), warehouse, store
}

func newTable(t *testing.T, rows ...[]any) *tabular.Table {
	table := tabular.NewTable("id", "name")
	for _, row := range rows {
		require.NoError(t, table.Append(row...))
	}
	return table
}

func TestFullRefreshReplacesRows(t *testing.T) {
	l, warehouse, store := newTestLoader()
	warehouse.seed(orders, []string{"id", "name"}, []any{"1", "old"}, []any{"5", "gone"})

	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background(), newTable(t, []any{int64(1), "a"}, []any{int64(2), "b"}), spec))

	require.Equal(t, []string{"1,a", "2,b"}, warehouse.rows(orders))
	require.NotContains(t, warehouse.tables, staging.String())
	require.Empty(t, store.objects)
	require.Equal(t, []string{
		"DropTableStmt",
		"TableExistsStmt",
		"CreateSchemaStmt",
		"CreateTableStmt",
		"DropTableStmt",
		"CreateStagingStmt",
		"CopyStmt",
		"InsertAllStmt",
		"DropTableStmt",
	}, warehouse.kinds())

	ddl := warehouse.statements[3].(*redshiftsql.CreateTableStmt)
	require.Equal(t, `CREATE TABLE IF NOT EXISTS "public"."orders" ("id" BIGINT, "name" VARCHAR(65535)) DISTSTYLE AUTO`, ddl.String())
	require.Equal(t, staging, warehouse.statements[4].(*redshiftsql.DropTableStmt).Table)
}

func TestIncrementalMergesByPrimaryKey(t *testing.T) {
	l, warehouse, store := newTestLoader()
	warehouse.seed(orders, []string{"id", "name"}, []any{"1", "a"}, []any{"2", "b"})

	spec, err := loader.NewLoadSpec("public.orders", loader.Incremental, loader.WithPrimaryKeys("id"))
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background(), newTable(t, []any{int64(2), "c"}, []any{int64(3), "d"}), spec))

	require.Equal(t, []string{"1,a", "2,c", "3,d"}, warehouse.rows(orders))
	require.Empty(t, store.objects)
	require.Equal(t, []string{
		"TableExistsStmt",
		"DropTableStmt",
		"CreateStagingStmt",
		"CopyStmt",
		"DeleteMatchingKeysStmt",
		"InsertAllStmt",
		"DropTableStmt",
	}, warehouse.kinds())

	copyStmt := warehouse.statements[3].(*redshiftsql.CopyStmt)
	require.Equal(t, []string{"id", "name"}, copyStmt.Columns)
	require.Equal(t, redshiftsql.CopyCSVOptions, copyStmt.Options)
	// credentials reach the executed text but not the logged form
	query, err := copyStmt.Query()
	require.NoError(t, err)
	require.Contains(t, query, "aws_secret_access_key=secret")
	require.NotContains(t, copyStmt.String(), "secret'")
}

func TestIncrementalCreatesMissingTable(t *testing.T) {
	l, warehouse, _ := newTestLoader()

	spec, err := loader.NewLoadSpec("analytics.orders", loader.Incremental,
		loader.WithPrimaryKeys("id"), loader.WithSortKey("id"), loader.WithUpdatedColumn(true))
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background(), newTable(t, []any{int64(7), "x"}), spec))

	dest := redshiftsql.TableRef{Schema: "analytics", Table: "orders"}
	require.True(t, warehouse.schemas["analytics"])
	require.Equal(t, []string{"id", "name", redshiftsql.UpdatedAtColumn}, warehouse.tables[dest.String()].columns)
	require.Equal(t, []string{"7,x,sysdate"}, warehouse.rows(dest))
}

func TestCompressedLoad(t *testing.T) {
	l, warehouse, store := newTestLoader(loader.WithTokenFunc(func() string { return "tok" }))

	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh,
		loader.WithCompression(true), loader.WithKeepStagedObject(true))
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background(), newTable(t, []any{int64(1), "a"}), spec))

	require.Contains(t, store.objects, "loads/automated-loads/orders-tok.csv.gz")
	require.Equal(t, []string{"1,a"}, warehouse.rows(orders))
	for _, stmt := range warehouse.statements {
		if c, ok := stmt.(*redshiftsql.CopyStmt); ok {
			require.Contains(t, c.Options, redshiftsql.CopyGzipOption)
			require.Equal(t, "mem://loads/automated-loads/orders-tok.csv.gz", c.From)
		}
	}
}

func TestUTF16LoadTellsCopyTheEncoding(t *testing.T) {
	l, warehouse, store := newTestLoader(loader.WithTokenFunc(func() string { return "tok" }))

	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh,
		loader.WithEncoding("UTF16LE"), loader.WithKeepStagedObject(true))
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background(), newTable(t, []any{int64(1), "Zürich"}), spec))

	payload := store.objects["loads/automated-loads/orders-tok.csv"]
	require.Equal(t, []byte{'i', 0, 'd', 0}, payload[:4])
	require.Equal(t, []string{"1,Zürich"}, warehouse.rows(orders))
	for _, stmt := range warehouse.statements {
		if c, ok := stmt.(*redshiftsql.CopyStmt); ok {
			require.Equal(t, append(append([]string(nil), redshiftsql.CopyCSVOptions...), "ENCODING AS UTF16LE"), c.Options)
		}
	}
}

func TestEncodingCopyCannotReadIsRejected(t *testing.T) {
	l, warehouse, _ := newTestLoader()

	_, err := loader.NewLoadSpec("public.orders", loader.FullRefresh, loader.WithEncoding("latin1"))
	require.Equal(t, loader.ErrInvalidSpec, errors.Cause(err))

	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)
	spec.Encoding = "windows-1252"
	err = l.Load(context.Background(), newTable(t, []any{int64(1), "café"}), spec)
	require.Equal(t, loader.ErrInvalidSpec, errors.Cause(err))
	require.Empty(t, warehouse.statements)
}

func TestKeepStagedObject(t *testing.T) {
	l, _, store := newTestLoader()

	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh,
		loader.WithKeepStagedObject(true), loader.WithBucket("archive"), loader.WithSubdirectory("daily"))
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background(), newTable(t, []any{int64(1), "a"}), spec))

	require.Len(t, store.objects, 1)
	keyPattern := regexp.MustCompile(`^archive/daily/orders-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.csv$`)
	for key := range store.objects {
		require.Regexp(t, keyPattern, key)
	}
}

func TestStagedObjectDeletedOnFailure(t *testing.T) {
	l, warehouse, store := newTestLoader()
	warehouse.failOn = func(stmt redshiftsql.Statement) error {
		if _, ok := stmt.(*redshiftsql.CopyStmt); ok {
			return errors.New("S3ServiceException: access denied")
		}
		return nil
	}

	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)
	err = l.Load(context.Background(), newTable(t, []any{int64(1), "a"}), spec)
	require.Error(t, err)
	require.Contains(t, err.Error(), "S3ServiceException")
	require.Empty(t, store.objects)
}

func TestStagedObjectDeletedAfterCancel(t *testing.T) {
	l, warehouse, store := newTestLoader()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	warehouse.failOn = func(stmt redshiftsql.Statement) error {
		if _, ok := stmt.(*redshiftsql.CopyStmt); ok {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)
	err = l.Load(ctx, newTable(t, []any{int64(1), "a"}), spec)
	require.Equal(t, context.Canceled, errors.Cause(err))
	require.Empty(t, store.objects)
}

func TestCleanupErrors(t *testing.T) {
	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)

	// after a successful load the cleanup failure is the result
	l, _, store := newTestLoader()
	store.deleteErr = errors.New("delete denied")
	err = l.Load(context.Background(), newTable(t, []any{int64(1), "a"}), spec)
	require.Error(t, err)
	require.Contains(t, err.Error(), "delete denied")
	require.Contains(t, err.Error(), "failed to delete staged object")

	// after a failed load the load error wins
	l, warehouse, store := newTestLoader()
	store.deleteErr = errors.New("delete denied")
	warehouse.failOn = func(stmt redshiftsql.Statement) error {
		if _, ok := stmt.(*redshiftsql.InsertAllStmt); ok {
			return errors.New("disk full")
		}
		return nil
	}
	err = l.Load(context.Background(), newTable(t, []any{int64(1), "a"}), spec)
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.NotContains(t, err.Error(), "delete denied")
}

func TestUnmappedTypeFailsBeforeWarehouse(t *testing.T) {
	store := newMemStore()
	warehouse := newFakeWarehouse(store)
	mapper := redshiftsql.NewTypeMapper(redshiftsql.TypeMap{tabular.TypeInt64: "BIGINT"})
	l := loader.New(warehouse, store, mapper, &redshiftsql.Credentials{IAMRole: "arn:aws:iam::1:role/r"})
	warehouse.seed(orders, []string{"id", "name"}, []any{"1", "a"})

	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)
	err = l.Load(context.Background(), newTable(t, []any{int64(1), "b"}), spec)
	require.Equal(t, redshiftsql.ErrUnmappedType, errors.Cause(err))
	require.Contains(t, err.Error(), `"name"`)
	require.Empty(t, warehouse.statements)
	// the existing table survives
	require.Equal(t, []string{"1,a"}, warehouse.rows(orders))
	require.Empty(t, store.objects)
}

func TestLoadFromStagedObjectMissing(t *testing.T) {
	l, warehouse, _ := newTestLoader()
	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)

	err = l.LoadFromStagedObject(context.Background(), objstoreObject("loads", "missing.csv"), spec)
	require.Error(t, err)
	require.Empty(t, warehouse.statements)
}

func TestInvalidSpecTouchesNothing(t *testing.T) {
	l, warehouse, store := newTestLoader()
	spec := &loader.LoadSpec{Destination: orders, LoadType: loader.Incremental, DistStyle: "auto"}
	err := l.Load(context.Background(), newTable(t, []any{int64(1), "a"}), spec)
	require.Equal(t, loader.ErrInvalidSpec, errors.Cause(err))
	require.Empty(t, store.objects)
	require.Empty(t, warehouse.statements)
}

func TestLoadMetrics(t *testing.T) {
	m := metrics.NewMetrics(promutil.NewDefaultFactory())
	l, warehouse, _ := newTestLoader(loader.WithMetrics(m))
	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)

	require.NoError(t, l.Load(context.Background(), newTable(t, []any{int64(1), "a"}), spec))
	warehouse.failOn = func(redshiftsql.Statement) error { return errors.New("boom") }
	require.Error(t, l.Load(context.Background(), newTable(t, []any{int64(1), "a"}), spec))

	require.Equal(t, float64(1), m.LoadsFinished("public.orders", "full-refresh"))
	require.Equal(t, float64(1), m.LoadsFailed("public.orders", "full-refresh"))
	require.Equal(t, float64(0), m.LoadsInFlight("full-refresh"))
	require.Greater(t, m.StagedBytes("public.orders"), float64(0))
}

func TestTableExistsAndLockQuery(t *testing.T) {
	l, warehouse, _ := newTestLoader()
	customers := redshiftsql.TableRef{Schema: "public", Table: "customers"}
	missing := redshiftsql.TableRef{Schema: "public", Table: "missing"}
	warehouse.seed(orders, []string{"id"})
	warehouse.seed(customers, []string{"id"})
	ctx := context.Background()

	exists, err := l.TableExists(ctx, orders)
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = l.TableExists(ctx, missing)
	require.NoError(t, err)
	require.False(t, exists)

	stmt, err := l.LockQuery(ctx, orders, missing, customers)
	require.NoError(t, err)
	require.Equal(t, `LOCK "public"."orders", "public"."customers";`, stmt.String())

	stmt, err = l.LockQuery(ctx, missing)
	require.NoError(t, err)
	require.Nil(t, stmt)
}
