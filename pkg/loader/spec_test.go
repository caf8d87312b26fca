package loader_test

import (
	"testing"

	"github.com/pingcap-inc/stage2dw/pkg/loader"
	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestNewLoadSpecDefaults(t *testing.T) {
	spec, err := loader.NewLoadSpec("public.orders", loader.FullRefresh)
	require.NoError(t, err)
	require.Equal(t, &loader.LoadSpec{
		Destination:  redshiftsql.TableRef{Schema: "public", Table: "orders"},
		LoadType:     loader.FullRefresh,
		DistStyle:    "auto",
		Subdirectory: "automated-loads",
		Encoding:     "utf-8",
	}, spec)
	require.Equal(t, "automated-loads/orders-abc.csv", spec.StagedKey("abc"))

	spec.Compress = true
	spec.Subdirectory = ""
	require.Equal(t, "orders-abc.csv.gz", spec.StagedKey("abc"))
}

func TestNewLoadSpecInvalid(t *testing.T) {
	cases := []struct {
		name        string
		destination string
		loadType    loader.LoadType
		opts        []loader.SpecOption
	}{
		{"incremental without keys", "public.orders", loader.Incremental, nil},
		{"no schema", "orders", loader.FullRefresh, nil},
		{"too many parts", "db.public.orders", loader.FullRefresh, nil},
		{"unknown load type", "public.orders", loader.LoadType(9), nil},
		{"bad diststyle", "public.orders", loader.FullRefresh, []loader.SpecOption{loader.WithDistStyle("random")}},
		{"bad encoding", "public.orders", loader.FullRefresh, []loader.SpecOption{loader.WithEncoding("klingon")}},
		{"encoding COPY cannot read", "public.orders", loader.FullRefresh, []loader.SpecOption{loader.WithEncoding("latin1")}},
		{"empty key", "public.orders", loader.Incremental, []loader.SpecOption{loader.WithPrimaryKeys("id", "")}},
		{"empty sort key", "public.orders", loader.FullRefresh, []loader.SpecOption{loader.WithSortKey("")}},
	}
	for _, c := range cases {
		_, err := loader.NewLoadSpec(c.destination, c.loadType, c.opts...)
		require.Error(t, err, c.name)
		require.Equal(t, loader.ErrInvalidSpec, errors.Cause(err), c.name)
	}
}

func TestNewLoadSpecOptions(t *testing.T) {
	spec, err := loader.NewLoadSpec("public.orders", loader.Incremental,
		loader.WithPrimaryKeys("tenant", "id"),
		loader.WithSortKey("created"),
		loader.WithDistStyle("EVEN"),
		loader.WithEncoding("utf-16be"),
		loader.WithBucket("b"),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"tenant", "id"}, spec.PrimaryKeys)
	require.Equal(t, []string{"created"}, spec.SortKey)
	require.Equal(t, "EVEN", spec.DistStyle)
	require.Equal(t, "utf-16be", spec.Encoding)
	require.Equal(t, "b", spec.Bucket)

	// an empty diststyle leaves the choice to Redshift
	_, err = loader.NewLoadSpec("public.orders", loader.FullRefresh, loader.WithDistStyle(""))
	require.NoError(t, err)
}

func TestLoadTypeString(t *testing.T) {
	require.Equal(t, "full-refresh", loader.FullRefresh.String())
	require.Equal(t, "incremental", loader.Incremental.String())
	require.Equal(t, "LoadType(5)", loader.LoadType(5).String())
}
