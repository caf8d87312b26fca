package tidbsql

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TiDBConfig describes the source TiDB (or MySQL) server that load queries
// read from.
type TiDBConfig struct {
	Host     string
	Port     int
	User     string
	Pass     string
	Database string
	SSLCA    string
}

func (config *TiDBConfig) mysqlConfig() (*mysql.Config, error) {
	tidbConfig := mysql.NewConfig()
	tidbConfig.User = config.User
	tidbConfig.Passwd = config.Pass
	tidbConfig.Net = "tcp"
	tidbConfig.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	tidbConfig.DBName = config.Database
	// DATETIME and TIMESTAMP columns scan into time.Time
	tidbConfig.ParseTime = true
	tidbConfig.Loc = time.UTC
	if config.SSLCA != "" {
		rootCertPool := x509.NewCertPool()
		pem, err := os.ReadFile(config.SSLCA)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if ok := rootCertPool.AppendCertsFromPEM(pem); !ok {
			return nil, errors.Errorf("Failed to append PEM.")
		}
		if err := mysql.RegisterTLSConfig("tidb", &tls.Config{
			RootCAs:    rootCertPool,
			MinVersion: tls.VersionTLS12,
			ServerName: config.Host,
		}); err != nil {
			return nil, errors.Trace(err)
		}
		tidbConfig.TLSConfig = "tidb"
	}
	return tidbConfig, nil
}

// OpenDB opens a connection to TiDB
func (config *TiDBConfig) OpenDB() (*sql.DB, error) {
	tidbConfig, err := config.mysqlConfig()
	if err != nil {
		return nil, errors.Trace(err)
	}
	db, err := sql.Open("mysql", tidbConfig.FormatDSN())
	if err != nil {
		return nil, errors.Annotate(err, "Failed to open TiDB connection")
	}
	// make sure the connection is available
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "Failed to ping TiDB")
	}
	log.Info("TiDB connection established", zap.String("addr", tidbConfig.Addr))
	return db, nil
}
