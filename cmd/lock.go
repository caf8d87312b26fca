package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/pingcap-inc/stage2dw/pkg/loader"
	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewLockQueryCmd() *cobra.Command {
	var (
		common commonOptions
		tables []string
	)

	run := func(ctx context.Context, out io.Writer) error {
		refs := make([]redshiftsql.TableRef, 0, len(tables))
		for _, table := range tables {
			ref, err := redshiftsql.ParseTableRef(table)
			if err != nil {
				return errors.Trace(err)
			}
			refs = append(refs, ref)
		}
		warehouse, err := connectWarehouse(ctx, &common.redshift)
		if err != nil {
			return errors.Trace(err)
		}
		defer warehouse.Close()

		stmt, err := loader.New(warehouse, nil, nil, nil).LockQuery(ctx, refs...)
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(printLockQuery(out, stmt))
	}

	cmd := &cobra.Command{
		Use:   "lock-query",
		Short: "Print the LOCK statement for the given tables that exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := common.log.init(); err != nil {
				return errors.Trace(err)
			}
			if err := run(cmd.Context(), cmd.OutOrStdout()); err != nil {
				log.Error("Error building lock query", zap.Error(err))
				return err
			}
			return nil
		},
	}

	common.addFlags(cmd)
	cmd.Flags().StringSliceVarP(&tables, "table", "t", nil, "tables to lock: <schema>.<table>, repeatable")
	cmd.MarkFlagRequired("table")
	return cmd
}

func printLockQuery(out io.Writer, stmt *redshiftsql.LockStmt) error {
	if stmt == nil {
		_, err := fmt.Fprintln(out, "-- none of the tables exist")
		return err
	}
	_, err := fmt.Fprintln(out, stmt.String())
	return err
}
