package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pingcap-inc/stage2dw/config"
	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/stretchr/testify/require"
)

func TestDefaultTypeMap(t *testing.T) {
	types, err := config.LoadTypeMap("")
	require.NoError(t, err)
	// every type the CSV inspector can report has a mapping
	for _, tp := range []string{tabular.TypeInt64, tabular.TypeFloat64, tabular.TypeBool, tabular.TypeDatetime, tabular.TypeObject} {
		require.Contains(t, types, tp)
	}
	require.Equal(t, "BIGINT", types["int64"])
	require.Equal(t, "TIMESTAMP", types["datetime64[ns]"])
	require.Equal(t, "VARCHAR(65535)", types["object"])
}

func TestLoadTypeMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte("int64: INT8\nobject: TEXT\n"), 0o644))
	types, err := config.LoadTypeMap(path)
	require.NoError(t, err)
	require.Equal(t, redshiftsql.TypeMap{"int64": "INT8", "object": "TEXT"}, types)

	_, err = config.LoadTypeMap(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseTypeMapErrors(t *testing.T) {
	for _, data := range []string{"", "int64: [BIGINT]", "int64: ''", "- a\n- b"} {
		_, err := config.ParseTypeMap([]byte(data))
		require.Error(t, err, data)
	}
}
