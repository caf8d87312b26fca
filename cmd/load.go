package cmd

import (
	"context"
	"database/sql"

	"github.com/pingcap-inc/stage2dw/pkg/apiservice"
	"github.com/pingcap-inc/stage2dw/pkg/loader"
	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/pingcap-inc/stage2dw/pkg/tidbsql"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func NewLoadCmd() *cobra.Command {
	var (
		common            commonOptions
		aws               awsOptions
		staging           stagingOptions
		specs             specOptions
		tidbConfigFromCli tidbsql.TiDBConfig
		tables            []string
		query             string
		typeMapPath       string
		apiAddr           string
		concurrency       int
	)

	run := func(ctx context.Context) error {
		targets, err := parseLoadTargets(tables, query)
		if err != nil {
			return errors.Trace(err)
		}
		if concurrency < 1 {
			return errors.Errorf("--concurrency must be positive, got %d", concurrency)
		}
		// validate every load spec before anything is staged
		loadSpecs := make([]*loader.LoadSpec, 0, len(targets))
		names := make([]string, 0, len(targets))
		for _, target := range targets {
			spec, err := specs.loadSpec(target.destination, &staging)
			if err != nil {
				return errors.Trace(err)
			}
			loadSpecs = append(loadSpecs, spec)
			names = append(names, target.destination)
		}
		var tidbConfig *tidbsql.TiDBConfig
		if query != "" {
			tidbConfig = &tidbConfigFromCli
		}

		service := apiservice.New(names)
		return runWithServer(ctx, apiAddr, service, func() error {
			env, source, err := prepareRun(service, &aws, &staging, typeMapPath, tidbConfig)
			if err != nil {
				return errors.Trace(err)
			}
			if source != nil {
				defer source.Close()
			}

			// every load runs to completion; failures are counted afterwards
			var eg errgroup.Group
			eg.SetLimit(concurrency)
			errs := make([]error, len(targets))
			for i := range targets {
				i := i
				eg.Go(func() error {
					target, spec := targets[i], loadSpecs[i]
					service.APIInfo.SetStage(target.destination, apiservice.LoadStageRunning)
					var table *tabular.Table
					var err error
					if source != nil {
						table, err = tidbsql.QueryTable(ctx, source, query)
					} else {
						table, err = readTableFile(target.file)
					}
					if err == nil {
						err = loadTable(ctx, &common, env, service, table, spec)
					}
					if err != nil {
						log.Error("Failed to load table", zap.String("table", target.destination), zap.Error(err))
						service.APIInfo.SetFailed(target.destination, err)
						errs[i] = err
						return nil
					}
					service.APIInfo.SetStage(target.destination, apiservice.LoadStageFinished)
					return nil
				})
			}
			// goroutines report through errs, Wait has nothing to add
			_ = eg.Wait()

			failed := 0
			for _, err := range errs {
				if err != nil {
					failed++
				}
			}
			if failed > 0 {
				return errors.Errorf("%d of %d loads failed", failed, len(targets))
			}
			return nil
		})
	}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load CSV files or a TiDB query result into Redshift through S3",
		Example: `  stage2dw load -t public.orders=orders.csv --bucket my-bucket --redshift.host ... --redshift.user ...
  stage2dw load -t public.orders --query "SELECT * FROM shop.orders" --load-type incremental --primary-key id ...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.log.init(); err != nil {
				return errors.Trace(err)
			}
			if err := run(cmd.Context()); err != nil {
				log.Error("Error running load", zap.Error(err))
				return err
			}
			return nil
		},
	}

	common.addFlags(cmd)
	aws.addFlags(cmd)
	staging.addFlags(cmd)
	specs.addFlags(cmd)
	cmd.Flags().StringArrayVarP(&tables, "table", "t", nil, "destination and source: <schema>.<table>=<file.csv>, repeatable")
	cmd.Flags().StringVar(&query, "query", "", "load the result of this TiDB query instead of a file")
	cmd.Flags().StringVarP(&tidbConfigFromCli.Host, "tidb.host", "h", "127.0.0.1", "TiDB host")
	cmd.Flags().IntVarP(&tidbConfigFromCli.Port, "tidb.port", "P", 4000, "TiDB port")
	cmd.Flags().StringVarP(&tidbConfigFromCli.User, "tidb.user", "u", "root", "TiDB user")
	cmd.Flags().StringVarP(&tidbConfigFromCli.Pass, "tidb.pass", "p", "", "TiDB password")
	cmd.Flags().StringVar(&tidbConfigFromCli.Database, "tidb.database", "", "TiDB default database")
	cmd.Flags().StringVar(&tidbConfigFromCli.SSLCA, "tidb.ssl-ca", "", "TiDB SSL CA")
	cmd.Flags().StringVar(&typeMapPath, "type-map", "", "YAML file mapping source types to Redshift types, built-in map when empty")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of tables loaded at the same time")
	cmd.Flags().StringVar(&apiAddr, "api.addr", "", "serve status and metrics on this address while loading")

	cmd.MarkFlagRequired("table")
	return cmd
}

// prepareRun opens what all loads of a run share. Failing here fails the
// whole run, which the status API reports as fatal.
func prepareRun(
	service *apiservice.APIService,
	aws *awsOptions,
	staging *stagingOptions,
	typeMapPath string,
	tidbConfig *tidbsql.TiDBConfig,
) (*environment, *sql.DB, error) {
	env, err := prepareEnvironment(aws, staging, typeMapPath)
	if err != nil {
		service.APIInfo.SetGlobalStatusFatalError(err)
		return nil, nil, errors.Trace(err)
	}
	if tidbConfig == nil {
		return env, nil, nil
	}
	source, err := tidbConfig.OpenDB()
	if err != nil {
		service.APIInfo.SetGlobalStatusFatalError(err)
		return nil, nil, errors.Trace(err)
	}
	return env, source, nil
}

// loadTable runs one load on a warehouse session of its own.
func loadTable(
	ctx context.Context,
	common *commonOptions,
	env *environment,
	service *apiservice.APIService,
	table *tabular.Table,
	spec *loader.LoadSpec,
) error {
	warehouse, err := connectWarehouse(ctx, &common.redshift)
	if err != nil {
		return errors.Trace(err)
	}
	defer warehouse.Close()

	l := loader.New(warehouse, env.store, env.mapper, env.credentials, loader.WithMetrics(service.Metric))
	return errors.Trace(l.Load(ctx, table, spec))
}
