package loader

import (
	"fmt"
	"path"

	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/pingcap/errors"
)

// ErrInvalidSpec is returned for load specs that can not be executed.
var ErrInvalidSpec = errors.New("invalid load spec")

const (
	DefaultDistStyle    = "auto"
	DefaultSubdirectory = "automated-loads"
	DefaultEncoding     = tabular.DefaultEncoding
)

type LoadType int

const (
	// FullRefresh drops the destination table before loading.
	FullRefresh LoadType = iota
	// Incremental merges rows into the destination by primary key.
	Incremental
)

func (t LoadType) String() string {
	switch t {
	case FullRefresh:
		return "full-refresh"
	case Incremental:
		return "incremental"
	default:
		return fmt.Sprintf("LoadType(%d)", int(t))
	}
}

// LoadSpec describes one load into a Redshift table.
type LoadSpec struct {
	Destination redshiftsql.TableRef
	LoadType    LoadType
	// PrimaryKeys drive the delete-then-insert merge. Required for
	// incremental loads.
	PrimaryKeys []string
	SortKey     []string
	DistStyle   string

	// Bucket to stage in, the store default when empty.
	Bucket       string
	Subdirectory string
	Encoding     string
	Compress     bool
	// KeepStagedObject leaves the staged object in place after the load.
	KeepStagedObject bool
	AddUpdatedColumn bool
}

type SpecOption func(*LoadSpec)

func WithPrimaryKeys(keys ...string) SpecOption {
	return func(s *LoadSpec) { s.PrimaryKeys = keys }
}

func WithSortKey(columns ...string) SpecOption {
	return func(s *LoadSpec) { s.SortKey = columns }
}

func WithDistStyle(style string) SpecOption {
	return func(s *LoadSpec) { s.DistStyle = style }
}

func WithBucket(bucket string) SpecOption {
	return func(s *LoadSpec) { s.Bucket = bucket }
}

func WithSubdirectory(dir string) SpecOption {
	return func(s *LoadSpec) { s.Subdirectory = dir }
}

func WithEncoding(encoding string) SpecOption {
	return func(s *LoadSpec) { s.Encoding = encoding }
}

func WithCompression(compress bool) SpecOption {
	return func(s *LoadSpec) { s.Compress = compress }
}

func WithKeepStagedObject(keep bool) SpecOption {
	return func(s *LoadSpec) { s.KeepStagedObject = keep }
}

func WithUpdatedColumn(add bool) SpecOption {
	return func(s *LoadSpec) { s.AddUpdatedColumn = add }
}

// NewLoadSpec builds and validates a spec for the "schema.table" destination.
func NewLoadSpec(destination string, loadType LoadType, opts ...SpecOption) (*LoadSpec, error) {
	ref, err := redshiftsql.ParseTableRef(destination)
	if err != nil {
		return nil, errors.Annotate(ErrInvalidSpec, err.Error())
	}
	spec := &LoadSpec{
		Destination:  ref,
		LoadType:     loadType,
		DistStyle:    DefaultDistStyle,
		Subdirectory: DefaultSubdirectory,
		Encoding:     DefaultEncoding,
	}
	for _, opt := range opts {
		opt(spec)
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return spec, nil
}

// Validate checks the spec without touching any external system.
func (s *LoadSpec) Validate() error {
	if s.Destination.Schema == "" || s.Destination.Table == "" {
		return errors.Annotatef(ErrInvalidSpec, "destination %q must be <schema>.<table>", s.Destination.String())
	}
	switch s.LoadType {
	case FullRefresh:
	case Incremental:
		if len(s.PrimaryKeys) == 0 {
			return errors.Annotate(ErrInvalidSpec, "incremental load requires primary keys")
		}
	default:
		return errors.Annotatef(ErrInvalidSpec, "unknown load type %s", s.LoadType)
	}
	for _, key := range s.PrimaryKeys {
		if key == "" {
			return errors.Annotate(ErrInvalidSpec, "empty primary key column")
		}
	}
	for _, col := range s.SortKey {
		if col == "" {
			return errors.Annotate(ErrInvalidSpec, "empty sort key column")
		}
	}
	if err := redshiftsql.ValidateDistStyle(s.DistStyle); err != nil {
		return errors.Annotate(ErrInvalidSpec, err.Error())
	}
	if _, err := tabular.LookupEncoding(s.Encoding); err != nil {
		return errors.Annotate(ErrInvalidSpec, err.Error())
	}
	return nil
}

// StagedKey names the staged object for one load, e.g.
// automated-loads/orders-<token>.csv.gz.
func (s *LoadSpec) StagedKey(token string) string {
	name := fmt.Sprintf("%s-%s.csv", s.Destination.Table, token)
	if s.Compress {
		name += ".gz"
	}
	if s.Subdirectory == "" {
		return name
	}
	return path.Join(s.Subdirectory, name)
}
