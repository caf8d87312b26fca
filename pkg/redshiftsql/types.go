package redshiftsql

import (
	"sort"

	"github.com/pingcap/errors"
	"golang.org/x/exp/maps"
)

// TypeMap maps a source column type, e.g. "int64", to a Redshift column type,
// e.g. "BIGINT".
type TypeMap map[string]string

// TypeMapper looks up Redshift column types. It is read-only after
// construction and safe to share.
type TypeMapper struct {
	types TypeMap
}

func NewTypeMapper(types TypeMap) *TypeMapper {
	return &TypeMapper{types: maps.Clone(types)}
}

// Map returns the Redshift type for sourceType. Lookups are exact: no case
// folding and no prefix matching.
func (m *TypeMapper) Map(sourceType string) (string, error) {
	tp, ok := m.types[sourceType]
	if !ok {
		return "", errors.Annotatef(ErrUnmappedType, "source type %q", sourceType)
	}
	return tp, nil
}

// SourceTypes returns the mapped source types in sorted order.
func (m *TypeMapper) SourceTypes() []string {
	keys := maps.Keys(m.types)
	sort.Strings(keys)
	return keys
}
