package cmd

import (
	"context"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/pingcap-inc/stage2dw/config"
	"github.com/pingcap-inc/stage2dw/pkg/apiservice"
	"github.com/pingcap-inc/stage2dw/pkg/loader"
	"github.com/pingcap-inc/stage2dw/pkg/objstore"
	"github.com/pingcap-inc/stage2dw/pkg/redshiftsql"
	"github.com/pingcap-inc/stage2dw/pkg/tabular"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiflow/pkg/logutil"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag"
	"go.uber.org/zap"
)

type LoadMode enumflag.Flag

const (
	LoadModeFullRefresh LoadMode = iota
	LoadModeIncremental
)

var LoadModeIds = map[LoadMode][]string{
	LoadModeFullRefresh: {"full-refresh", "full"},
	LoadModeIncremental: {"incremental", "incr"},
}

func (m LoadMode) loadType() loader.LoadType {
	if m == LoadModeIncremental {
		return loader.Incremental
	}
	return loader.FullRefresh
}

type awsOptions struct {
	accessKey      string
	secretKey      string
	sessionToken   string
	role           string
	region         string
	endpoint       string
	forcePathStyle bool
}

func (o *awsOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.accessKey, "aws.access-key", "", "AWS access key id, AWS_ACCESS_KEY_ID when empty")
	cmd.Flags().StringVar(&o.secretKey, "aws.secret-key", "", "AWS secret access key, AWS_SECRET_ACCESS_KEY when empty")
	cmd.Flags().StringVar(&o.sessionToken, "aws.session-token", "", "AWS session token")
	cmd.Flags().StringVar(&o.role, "aws.role", "", "IAM role Redshift assumes to read staged objects")
	cmd.Flags().StringVar(&o.region, "aws.region", "", "AWS region of the staging bucket")
	cmd.Flags().StringVar(&o.endpoint, "aws.endpoint", "", "custom S3 endpoint")
	cmd.Flags().BoolVar(&o.forcePathStyle, "aws.force-path-style", false, "use path style S3 requests")
}

// resolveAWSCredential prefers keys given on the command line over the
// environment.
func resolveAWSCredential(o *awsOptions) (*credentials.Value, error) {
	creds := credentials.NewEnvCredentials()
	if o.accessKey != "" || o.secretKey != "" {
		creds = credentials.NewStaticCredentials(o.accessKey, o.secretKey, o.sessionToken)
	}
	credValue, err := creds.Get()
	if err != nil {
		return nil, errors.Annotate(err, "no AWS credentials, use --aws.access-key and --aws.secret-key or AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
	}
	return &credValue, nil
}

// copyCredentials authorize COPY. An IAM role wins over keys.
func copyCredentials(o *awsOptions, credValue *credentials.Value) (*redshiftsql.Credentials, error) {
	if o.role != "" {
		return &redshiftsql.Credentials{IAMRole: o.role}, nil
	}
	if credValue == nil {
		return nil, errors.New("either AWS keys or --aws.role is required")
	}
	return &redshiftsql.Credentials{
		AccessKeyID:     credValue.AccessKeyID,
		SecretAccessKey: credValue.SecretAccessKey,
		SessionToken:    credValue.SessionToken,
	}, nil
}

type stagingOptions struct {
	bucket       string
	subdirectory string
	storageURI   string
	gzip         bool
	encoding     string
	keep         bool
}

func (o *stagingOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.bucket, "bucket", "", "bucket to stage objects in")
	cmd.Flags().StringVar(&o.subdirectory, "subdirectory", loader.DefaultSubdirectory, "key prefix of staged objects")
	cmd.Flags().StringVarP(&o.storageURI, "storage", "s", "", "stage through an external storage s3:// uri instead of the S3 client, e.g. s3://?region=us-east-1")
	cmd.Flags().BoolVar(&o.gzip, "gzip", false, "gzip staged objects")
	cmd.Flags().StringVar(&o.encoding, "encoding", loader.DefaultEncoding, "text encoding of staged objects: utf-8, utf-16, utf-16le or utf-16be")
	cmd.Flags().BoolVar(&o.keep, "keep-staged-object", false, "do not delete staged objects after loading")
}

// storageURIWithCredentials appends S3 keys to the query string, the way BR
// external storage expects them.
func storageURIWithCredentials(storagePath string, credValue *credentials.Value) (string, error) {
	uri, err := url.Parse(storagePath)
	if err != nil {
		return "", errors.Annotate(err, "Failed to parse storage path")
	}
	if uri.Scheme != "s3" || credValue == nil {
		return storagePath, nil
	}
	values := uri.Query()
	values.Set("access-key", credValue.AccessKeyID)
	values.Set("secret-access-key", credValue.SecretAccessKey)
	if credValue.SessionToken != "" {
		values.Set("session-token", credValue.SessionToken)
	}
	uri.RawQuery = values.Encode()
	return uri.String(), nil
}

func newStore(staging *stagingOptions, aws *awsOptions, credValue *credentials.Value) (objstore.Store, error) {
	if staging.storageURI != "" {
		parsed, err := url.Parse(staging.storageURI)
		if err != nil {
			return nil, errors.Annotate(err, "Failed to parse storage path")
		}
		// COPY reads nothing but s3:// locations
		if parsed.Scheme != "s3" {
			return nil, errors.Errorf("--storage must be an s3:// uri, Redshift COPY cannot read %q locations", parsed.Scheme)
		}
		uri, err := storageURIWithCredentials(staging.storageURI, credValue)
		if err != nil {
			return nil, errors.Trace(err)
		}
		store, err := objstore.NewExternalStore(uri, staging.bucket)
		return store, errors.Trace(err)
	}
	s3Config := &objstore.S3Config{
		Region:         aws.region,
		Endpoint:       aws.endpoint,
		DefaultBucket:  staging.bucket,
		ForcePathStyle: aws.forcePathStyle,
	}
	if credValue != nil {
		s3Config.Credentials = credentials.NewStaticCredentialsFromCreds(*credValue)
	}
	store, err := objstore.NewS3Store(s3Config)
	return store, errors.Trace(err)
}

type specOptions struct {
	loadMode         LoadMode
	primaryKeys      []string
	sortKey          []string
	distStyle        string
	addUpdatedColumn bool
}

func (o *specOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().Var(enumflag.New(&o.loadMode, "load-type", LoadModeIds, enumflag.EnumCaseInsensitive), "load-type", "load type: full-refresh, incremental")
	cmd.Flags().StringSliceVar(&o.primaryKeys, "primary-key", nil, "primary key columns, required for incremental loads")
	cmd.Flags().StringSliceVar(&o.sortKey, "sortkey", nil, "sort key columns of created tables")
	cmd.Flags().StringVar(&o.distStyle, "diststyle", loader.DefaultDistStyle, "distribution style of created tables: auto, even, all, key")
	cmd.Flags().BoolVar(&o.addUpdatedColumn, "add-updated-column", false, "add an __updated_at column to created tables")
}

func (o *specOptions) loadSpec(destination string, staging *stagingOptions) (*loader.LoadSpec, error) {
	return loader.NewLoadSpec(destination, o.loadMode.loadType(),
		loader.WithPrimaryKeys(o.primaryKeys...),
		loader.WithSortKey(o.sortKey...),
		loader.WithDistStyle(o.distStyle),
		loader.WithUpdatedColumn(o.addUpdatedColumn),
		loader.WithBucket(staging.bucket),
		loader.WithSubdirectory(staging.subdirectory),
		loader.WithEncoding(staging.encoding),
		loader.WithCompression(staging.gzip),
		loader.WithKeepStagedObject(staging.keep),
	)
}

type logOptions struct {
	file  string
	level string
}

func (o *logOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.file, "log.file", "", "log file path")
	cmd.Flags().StringVar(&o.level, "log.level", "info", "log level")
}

func (o *logOptions) init() error {
	return logutil.InitLogger(&logutil.Config{
		Level: o.level,
		File:  o.file,
	})
}

// environment is what every load needs besides its warehouse session.
type environment struct {
	store       objstore.Store
	mapper      *redshiftsql.TypeMapper
	credentials *redshiftsql.Credentials
}

func prepareEnvironment(aws *awsOptions, staging *stagingOptions, typeMapPath string) (*environment, error) {
	credValue, err := resolveAWSCredential(aws)
	if err != nil {
		if aws.role == "" {
			return nil, errors.Trace(err)
		}
		// the store falls back to the default credential chain
		credValue = nil
	}
	copyCreds, err := copyCredentials(aws, credValue)
	if err != nil {
		return nil, errors.Trace(err)
	}
	store, err := newStore(staging, aws, credValue)
	if err != nil {
		return nil, errors.Trace(err)
	}
	types, err := config.LoadTypeMap(typeMapPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mapper := redshiftsql.NewTypeMapper(types)
	log.Info("Prepared load environment",
		zap.String("defaultBucket", store.DefaultBucket()),
		zap.Strings("sourceTypes", mapper.SourceTypes()))
	return &environment{store: store, mapper: mapper, credentials: copyCreds}, nil
}

// readTableFile reads a CSV file with a header row, gzipped or not.
func readTableFile(path string) (*tabular.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r, err := tabular.DecodePayload(data, tabular.DefaultEncoding)
	if err != nil {
		return nil, errors.Trace(err)
	}
	table, err := tabular.ReadCSV(r)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", path)
	}
	return table, nil
}

type loadTarget struct {
	destination string
	file        string
}

// parseLoadTargets parses "schema.table=path.csv" arguments. A bare
// "schema.table" is only allowed as the single target of a source query.
func parseLoadTargets(tables []string, query string) ([]loadTarget, error) {
	if len(tables) == 0 {
		return nil, errors.New("no tables given, use -t schema.table=file.csv")
	}
	targets := make([]loadTarget, 0, len(tables))
	seen := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		destination, file, hasFile := strings.Cut(table, "=")
		destination = strings.TrimSpace(destination)
		if _, ok := seen[destination]; ok {
			// loads into one table share a staging table
			return nil, errors.Errorf("table %s is given more than once", destination)
		}
		seen[destination] = struct{}{}
		switch {
		case hasFile && query != "":
			return nil, errors.Errorf("%s: a file and --query are mutually exclusive", destination)
		case hasFile && file == "":
			return nil, errors.Errorf("%s: empty file path", destination)
		case !hasFile && query == "":
			return nil, errors.Errorf("%s: no file given, use %s=file.csv or --query", destination, destination)
		}
		targets = append(targets, loadTarget{destination: destination, file: strings.TrimSpace(file)})
	}
	if query != "" && len(targets) != 1 {
		return nil, errors.New("--query loads exactly one table")
	}
	return targets, nil
}

func connectWarehouse(ctx context.Context, redshiftConfig *redshiftsql.RedshiftConfig) (*redshiftsql.Warehouse, error) {
	warehouse := redshiftsql.NewWarehouse(redshiftConfig)
	if err := warehouse.Connect(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	return warehouse, nil
}

// runWithServer runs body, serving the status API on addr meanwhile when addr
// is set.
func runWithServer(ctx context.Context, addr string, service *apiservice.APIService, body func() error) error {
	if addr == "" {
		return body()
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotate(err, "Start API service failed")
	}

	serverCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- service.Serve(serverCtx, l)
	}()

	err = body()
	cancel()
	if serr := <-done; serr != nil {
		log.Warn("API service stopped with error", zap.Error(serr))
	}
	return err
}
