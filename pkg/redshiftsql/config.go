package redshiftsql

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

type RedshiftConfig struct {
	Host     string
	Port     int
	User     string
	Pass     string
	Database string
	// SSLMode is passed to lib/pq, "require" when empty.
	SSLMode string
	// ConnectTimeout in seconds, 0 waits forever.
	ConnectTimeout int
}

func (config *RedshiftConfig) dsn() string {
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	if config.ConnectTimeout > 0 {
		query.Set("connect_timeout", fmt.Sprint(config.ConnectTimeout))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.User, config.Pass),
		Host:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Path:     "/" + config.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// Open a connection to Redshift.
func (config *RedshiftConfig) OpenDB() (*sql.DB, error) {
	db, err := sql.Open("postgres", config.dsn())
	if err != nil {
		return nil, errors.Annotate(err, "Failed to open Redshift connection")
	}
	// make sure the connection is available
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "Failed to ping Redshift")
	}
	log.Info("Redshift connection established")
	return db, nil
}
