// Package loader moves tables into Redshift through staged objects.
//
// A load writes the table as CSV to object storage, copies it into a session
// temp table named <table>__tmp and merges that into the destination with
// delete-then-insert. The staging table name only depends on the destination,
// so at most one load may write to a destination table at a time.
package loader

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap-inc/stage2dw/pkg/metrics"
	"github.com/pingcap-inc/stage2dw/pkg/objstore"
	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Warehouse runs statements on a single Redshift session.
type Warehouse interface {
	Execute(ctx context.Context, stmt redshiftsql.Statement) error
	ExecuteAndFetch(ctx context.Context, stmt redshiftsql.Statement, format redshiftsql.ResultFormat) (*redshiftsql.FetchResult, error)
}

// Loader stages tables in object storage and merges them into Redshift over
// one warehouse session. It is not safe for concurrent use.
type Loader struct {
	warehouse   Warehouse
	store       objstore.Store
	mapper      *redshiftsql.TypeMapper
	credentials *redshiftsql.Credentials

	inspector tabular.SchemaInspector
	metrics   *metrics.Metrics
	newToken  func() string
}

// Option configures a Loader.
type Option func(*Loader)

// WithSchemaInspector replaces the CSV inspector used on staged objects.
func WithSchemaInspector(inspector tabular.SchemaInspector) Option {
	return func(l *Loader) { l.inspector = inspector }
}

// WithMetrics records every load in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithTokenFunc sets the generator of the unique part of staged object keys.
func WithTokenFunc(f func() string) Option {
	return func(l *Loader) { l.newToken = f }
}

// New creates a loader. credentials authorize Redshift to read staged objects.
func New(
	warehouse Warehouse,
	store objstore.Store,
	mapper *redshiftsql.TypeMapper,
	credentials *redshiftsql.Credentials,
	opts ...Option,
) *Loader {
	l := &Loader{
		warehouse:   warehouse,
		store:       store,
		mapper:      mapper,
		credentials: credentials,
		newToken:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) inspectorFor(spec *LoadSpec) tabular.SchemaInspector {
	if l.inspector != nil {
		return l.inspector
	}
	return tabular.CSVInspector{Encoding: spec.Encoding}
}

// Load stages table in object storage and loads it into spec.Destination.
// Unless spec.KeepStagedObject is set the staged object is deleted afterwards,
// whether the load succeeded or not.
func (l *Loader) Load(ctx context.Context, table *tabular.Table, spec *LoadSpec) (err error) {
	if err := spec.Validate(); err != nil {
		return errors.Trace(err)
	}
	dest := spec.Destination.String()
	logger := log.L().With(zap.String("table", dest), zap.Stringer("loadType", spec.LoadType))

	startTime := time.Now()
	l.metrics.LoadStarted(dest, spec.LoadType.String())
	defer func() {
		l.metrics.LoadFinished(dest, spec.LoadType.String(), time.Since(startTime), err)
	}()

	payload, err := table.EncodeCSV(tabular.EncodeOptions{Encoding: spec.Encoding, Compress: spec.Compress})
	if err != nil {
		return errors.Trace(err)
	}
	bucket := spec.Bucket
	if bucket == "" {
		bucket = l.store.DefaultBucket()
	}
	key, err := l.store.Write(ctx, bucket, spec.StagedKey(l.newToken()), payload)
	if err != nil {
		return errors.Annotate(err, "failed to stage table")
	}
	object := objstore.Object{Bucket: bucket, Key: key}
	l.metrics.AddStagedBytes(dest, len(payload))
	logger.Info("Staged table in object storage",
		zap.Stringer("object", object), zap.Int("rows", table.NumRows()), zap.Int("bytes", len(payload)))

	if !spec.KeepStagedObject {
		defer func() {
			// the load may have failed because ctx was cancelled
			cleanupCtx := context.WithoutCancel(ctx)
			derr := l.store.Delete(cleanupCtx, object.Bucket, object.Key)
			if derr == nil {
				logger.Info("Deleted staged object", zap.Stringer("object", object))
				return
			}
			if err != nil {
				logger.Warn("Failed to delete staged object after failed load", zap.Stringer("object", object), zap.Error(derr))
				return
			}
			err = errors.Annotatef(derr, "failed to delete staged object %s", object)
		}()
	}

	if err := l.LoadFromStagedObject(ctx, object, spec); err != nil {
		logger.Error("Load failed", zap.Error(err), zap.Duration("elapsed", time.Since(startTime)))
		return errors.Trace(err)
	}
	logger.Info("Load finished", zap.Duration("elapsed", time.Since(startTime)))
	return nil
}

// LoadFromStagedObject loads an object already in storage into
// spec.Destination. Statements run in order and the first error is returned
// as is: nothing is retried or rolled back.
func (l *Loader) LoadFromStagedObject(ctx context.Context, object objstore.Object, spec *LoadSpec) error {
	if err := spec.Validate(); err != nil {
		return errors.Trace(err)
	}
	dest := spec.Destination
	logger := log.L().With(zap.String("table", dest.String()), zap.Stringer("object", object))

	payload, err := l.store.Read(ctx, object.Bucket, object.Key)
	if err != nil {
		return errors.Trace(err)
	}
	schema, err := l.inspectorFor(spec).Inspect(payload)
	if err != nil {
		return errors.Annotatef(err, "failed to inspect %s", object)
	}
	logger.Info("Inspected staged object", zap.Any("schema", schema))

	var ddl *redshiftsql.CreateTableStmt
	buildDDL := func() error {
		if ddl != nil {
			return nil
		}
		ddl, err = redshiftsql.CreateTableDDL(dest, schema, l.mapper, spec.DistStyle, spec.SortKey, spec.AddUpdatedColumn)
		return errors.Trace(err)
	}

	if spec.LoadType == FullRefresh {
		// unmapped types must fail before the old table is gone
		if err := buildDDL(); err != nil {
			return errors.Trace(err)
		}
		if err := l.warehouse.Execute(ctx, redshiftsql.DropTableIfExists(dest)); err != nil {
			return errors.Trace(err)
		}
	}

	exists, err := l.TableExists(ctx, dest)
	if err != nil {
		return errors.Trace(err)
	}
	if !exists {
		if err := buildDDL(); err != nil {
			return errors.Trace(err)
		}
		logger.Info("Creating destination table")
		if err := l.warehouse.Execute(ctx, redshiftsql.CreateSchemaIfAbsent(dest.Schema)); err != nil {
			return errors.Trace(err)
		}
		if err := l.warehouse.Execute(ctx, ddl); err != nil {
			return errors.Trace(err)
		}
	}

	staging := dest.StagingRef()
	if err := l.warehouse.Execute(ctx, redshiftsql.DropTableIfExists(staging)); err != nil {
		return errors.Trace(err)
	}
	if err := l.warehouse.Execute(ctx, redshiftsql.CreateStagingLike(staging, dest)); err != nil {
		return errors.Trace(err)
	}

	options := append([]string(nil), redshiftsql.CopyCSVOptions...)
	if tabular.IsGzip(payload) {
		options = append(options, redshiftsql.CopyGzipOption)
	}
	encoding, err := tabular.NormalizeEncoding(spec.Encoding)
	if err != nil {
		return errors.Trace(err)
	}
	if encoding != tabular.DefaultEncoding {
		option, err := redshiftsql.CopyEncodingOption(encoding)
		if err != nil {
			return errors.Trace(err)
		}
		options = append(options, option)
	}
	copyStmt := redshiftsql.CopyFromObjectStore(staging, l.store.URL(object.Bucket, object.Key), schema.Names(), options...).
		WithCredentials(l.credentials)
	if err := l.warehouse.Execute(ctx, copyStmt); err != nil {
		return errors.Trace(err)
	}

	if len(spec.PrimaryKeys) > 0 {
		if err := l.warehouse.Execute(ctx, redshiftsql.DeleteMatchingKeys(staging, dest, spec.PrimaryKeys)); err != nil {
			return errors.Trace(err)
		}
	}
	if err := l.warehouse.Execute(ctx, redshiftsql.InsertAll(staging, dest)); err != nil {
		return errors.Trace(err)
	}
	if err := l.warehouse.Execute(ctx, redshiftsql.DropTableIfExists(staging)); err != nil {
		return errors.Trace(err)
	}
	logger.Info("Merged staged object into destination")
	return nil
}

// TableExists reports whether ref exists in the warehouse.
func (l *Loader) TableExists(ctx context.Context, ref redshiftsql.TableRef) (bool, error) {
	result, err := l.warehouse.ExecuteAndFetch(ctx, redshiftsql.ExistsQuery(ref.Schema, ref.Table), redshiftsql.FormatRecords)
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(result.Records) == 0 {
		return false, errors.Errorf("exists query for %s returned no rows", ref)
	}
	count, err := toInt64(result.Records[0]["count"])
	if err != nil {
		return false, errors.Annotatef(err, "exists query for %s", ref)
	}
	return count > 0, nil
}

// LockQuery returns a LOCK statement over the tables in refs that exist, or
// nil when none of them do. Running it, and releasing the lock, is up to the
// caller.
func (l *Loader) LockQuery(ctx context.Context, refs ...redshiftsql.TableRef) (*redshiftsql.LockStmt, error) {
	existing := make([]redshiftsql.TableRef, 0, len(refs))
	for _, ref := range refs {
		exists, err := l.TableExists(ctx, ref)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if exists {
			existing = append(existing, ref)
		}
	}
	if len(existing) == 0 {
		return nil, nil
	}
	return redshiftsql.LockTables(existing...)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, errors.Trace(err)
	default:
		return 0, errors.Errorf("unexpected count value %v (%T)", v, v)
	}
}
