package cmd

import (
	"context"

	"github.com/pingcap-inc/stage2dw/pkg/loader"
	"github.com/pingcap-inc/stage2dw/pkg/objstore"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewCopyCmd() *cobra.Command {
	var (
		common      commonOptions
		aws         awsOptions
		staging     stagingOptions
		specs       specOptions
		destination string
		key         string
		typeMapPath string
	)

	run := func(ctx context.Context) error {
		spec, err := specs.loadSpec(destination, &staging)
		if err != nil {
			return errors.Trace(err)
		}
		env, err := prepareEnvironment(&aws, &staging, typeMapPath)
		if err != nil {
			return errors.Trace(err)
		}
		object := objstore.Object{Bucket: staging.bucket, Key: key}
		if object.Bucket == "" {
			object.Bucket = env.store.DefaultBucket()
		}

		warehouse, err := connectWarehouse(ctx, &common.redshift)
		if err != nil {
			return errors.Trace(err)
		}
		defer warehouse.Close()

		l := loader.New(warehouse, env.store, env.mapper, env.credentials)
		if err := l.LoadFromStagedObject(ctx, object, spec); err != nil {
			return errors.Trace(err)
		}
		log.Info("Loaded staged object", zap.Stringer("object", object), zap.String("table", destination))
		return nil
	}

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Load an object already in S3 into Redshift",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.log.init(); err != nil {
				return errors.Trace(err)
			}
			if err := run(cmd.Context()); err != nil {
				log.Error("Error running copy", zap.Error(err))
				return err
			}
			return nil
		},
	}

	common.addFlags(cmd)
	aws.addFlags(cmd)
	staging.addFlags(cmd)
	specs.addFlags(cmd)
	cmd.Flags().StringVarP(&destination, "table", "t", "", "destination table: <schema>.<table>")
	cmd.Flags().StringVar(&key, "key", "", "key of the staged object")
	cmd.Flags().StringVar(&typeMapPath, "type-map", "", "YAML file mapping source types to Redshift types, built-in map when empty")

	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("key")
	return cmd
}
