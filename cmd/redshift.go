package cmd

import (
	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/spf13/cobra"
)

// commonOptions are shared by every command that talks to Redshift.
type commonOptions struct {
	redshift redshiftsql.RedshiftConfig
	log      logOptions
}

func (o *commonOptions) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolP("help", "", false, "help for this command")
	cmd.Flags().StringVar(&o.redshift.Host, "redshift.host", "", "redshift host")
	cmd.Flags().IntVar(&o.redshift.Port, "redshift.port", 5439, "redshift port")
	cmd.Flags().StringVar(&o.redshift.User, "redshift.user", "", "redshift user")
	cmd.Flags().StringVar(&o.redshift.Pass, "redshift.pass", "", "redshift password")
	cmd.Flags().StringVar(&o.redshift.Database, "redshift.database", "dev", "redshift database")
	cmd.Flags().StringVar(&o.redshift.SSLMode, "redshift.sslmode", "require", "redshift ssl mode")
	cmd.Flags().IntVar(&o.redshift.ConnectTimeout, "redshift.connect-timeout", 30, "redshift connect timeout in seconds")
	o.log.addFlags(cmd)

	cmd.MarkFlagRequired("redshift.host")
	cmd.MarkFlagRequired("redshift.user")
}
