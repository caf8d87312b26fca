package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap-inc/stage2dw/cmd"
	"github.com/pingcap-inc/stage2dw/version"
	"github.com/spf13/cobra"
)

var rootCmd *cobra.Command

func init() {
	rootCmd = &cobra.Command{
		Use:                "stage2dw",
		Short:              "Load tables into Amazon Redshift through S3 staging",
		DisableFlagParsing: true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			switch args[0] {
			case "--help", "-h":
				return cmd.Help()
			case "--version", "-v":
				fmt.Println(version.NewStage2DWVersion().String())
				return nil
			default:
				return fmt.Errorf("unknown flag: %s\nRun `stage2dw --help` for usage.", args[0])
			}
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Print the version of stage2dw")

	rootCmd.AddCommand(
		cmd.NewLoadCmd(),
		cmd.NewCopyCmd(),
		cmd.NewLockQueryCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
