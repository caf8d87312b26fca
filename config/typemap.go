package config

import (
	_ "embed"
	"os"

	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed typemap.yaml
var defaultTypeMap []byte

// DefaultTypeMap returns the built-in source to Redshift type map.
func DefaultTypeMap() (redshiftsql.TypeMap, error) {
	return ParseTypeMap(defaultTypeMap)
}

// LoadTypeMap reads a type map from a YAML file. An empty path loads the
// built-in map.
func LoadTypeMap(path string) (redshiftsql.TypeMap, error) {
	if path == "" {
		return DefaultTypeMap()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read type map %s", path)
	}
	types, err := ParseTypeMap(data)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid type map %s", path)
	}
	log.Info("Loaded type map", zap.String("path", path), zap.Int("types", len(types)))
	return types, nil
}

// ParseTypeMap parses a flat YAML mapping of source type to Redshift type.
func ParseTypeMap(data []byte) (redshiftsql.TypeMap, error) {
	var types map[string]string
	if err := yaml.Unmarshal(data, &types); err != nil {
		return nil, errors.Trace(err)
	}
	if len(types) == 0 {
		return nil, errors.New("type map is empty")
	}
	for source, target := range types {
		if target == "" {
			return nil, errors.Errorf("source type %q maps to an empty Redshift type", source)
		}
	}
	return redshiftsql.TypeMap(types), nil
}
