package redshiftsql

import (
	"fmt"
	"strings"

	"github.com/pingcap-inc/stage2dw/pkg/utils"
	"github.com/pingcap/errors"
	"gitlab.com/tymonx/go-formatter/formatter"
)

// StagingTableSuffix is appended to a destination table name to name its
// staging table. The name is the same for every load of one destination, so
// two loads into the same table must not run at the same time.
const StagingTableSuffix = "__tmp"

// UpdatedAtColumn is the optional audit column added to created tables.
const UpdatedAtColumn = "__updated_at"

// Statement is one SQL statement sent to Redshift.
type Statement interface {
	// String returns the statement with secrets masked. Only this form is
	// logged.
	String() string
	// Query returns the text to execute.
	Query() (string, error)
}

// TableRef names a table. An empty Schema refers to a session temp table.
type TableRef struct {
	Schema string
	Table  string
}

// ParseTableRef parses a "schema.table" identifier.
func ParseTableRef(fqn string) (TableRef, error) {
	schema, table, err := utils.SplitTableFQN(fqn)
	if err != nil {
		return TableRef{}, errors.Annotate(ErrInvalidTableRef, err.Error())
	}
	return TableRef{Schema: schema, Table: table}, nil
}

func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Table
	}
	return r.Schema + "." + r.Table
}

// Quoted renders the reference with quoted identifiers, e.g. "public"."orders".
func (r TableRef) Quoted() string {
	if r.Schema == "" {
		return utils.QuoteIdent(r.Table)
	}
	return utils.QuoteIdent(r.Schema) + "." + utils.QuoteIdent(r.Table)
}

// StagingRef is the temp staging table used while loading into r.
func (r TableRef) StagingRef() TableRef {
	return TableRef{Table: r.Table + StagingTableSuffix}
}

func mustRender(query string, err error) string {
	if err != nil {
		return fmt.Sprintf("<invalid statement: %v>", err)
	}
	return query
}

type TableExistsStmt struct {
	Schema string
	Table  string
}

func (s *TableExistsStmt) Query() (string, error) {
	return formatter.Format(
		`SELECT COUNT(*) AS count FROM information_schema.tables WHERE table_schema = {schema} AND table_name = {table}`,
		formatter.Named{
			"schema": utils.QuoteLiteral(s.Schema),
			"table":  utils.QuoteLiteral(s.Table),
		})
}

func (s *TableExistsStmt) String() string { return mustRender(s.Query()) }

type CreateSchemaStmt struct {
	Schema string
}

func (s *CreateSchemaStmt) Query() (string, error) {
	return formatter.Format(`CREATE SCHEMA IF NOT EXISTS {schema}`, formatter.Named{
		"schema": utils.QuoteIdent(s.Schema),
	})
}

func (s *CreateSchemaStmt) String() string { return mustRender(s.Query()) }

type DropTableStmt struct {
	Table TableRef
}

func (s *DropTableStmt) Query() (string, error) {
	return formatter.Format(`DROP TABLE IF EXISTS {table}`, formatter.Named{
		"table": s.Table.Quoted(),
	})
}

func (s *DropTableStmt) String() string { return mustRender(s.Query()) }

// CreateStagingStmt creates a temp table with the columns and column defaults
// of Source, but none of its constraints or keys.
type CreateStagingStmt struct {
	Staging TableRef
	Source  TableRef
}

func (s *CreateStagingStmt) Query() (string, error) {
	return formatter.Format(`CREATE TEMP TABLE {staging} (LIKE {source} INCLUDING DEFAULTS)`, formatter.Named{
		"staging": s.Staging.Quoted(),
		"source":  s.Source.Quoted(),
	})
}

func (s *CreateStagingStmt) String() string { return mustRender(s.Query()) }

// Credentials authorize COPY to read from S3. IAMRole takes precedence over
// access keys.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	IAMRole         string
}

func (c *Credentials) authorization() string {
	if c.IAMRole != "" {
		return "aws_iam_role=" + c.IAMRole
	}
	auth := fmt.Sprintf("aws_access_key_id=%s;aws_secret_access_key=%s", c.AccessKeyID, c.SecretAccessKey)
	if c.SessionToken != "" {
		auth += ";token=" + c.SessionToken
	}
	return auth
}

const credentialsPlaceholder = "aws_access_key_id={access_key};aws_secret_access_key={secret_key}"

// CopyStmt loads an object into Target. Its String form keeps a credentials
// placeholder; the secrets only appear in Query once WithCredentials is set.
type CopyStmt struct {
	Target  TableRef
	From    string
	Columns []string
	Options []string

	credentials *Credentials
}

// WithCredentials returns a copy of s that renders with c.
func (s *CopyStmt) WithCredentials(c *Credentials) *CopyStmt {
	cp := *s
	cp.credentials = c
	return &cp
}

func (s *CopyStmt) render(authorization string) (string, error) {
	columns := ""
	if len(s.Columns) > 0 {
		columns = fmt.Sprintf(" (%s)", utils.QuoteIdents(s.Columns))
	}
	query, err := formatter.Format(`COPY {target}{columns}
FROM {from}
IGNOREHEADER 1
CREDENTIALS {credentials}
{options}`, formatter.Named{
		"target":      s.Target.Quoted(),
		"columns":     columns,
		"from":        utils.QuoteLiteral(s.From),
		"credentials": utils.QuoteLiteral(authorization),
		"options":     strings.Join(s.Options, " "),
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimSpace(query), nil
}

func (s *CopyStmt) Query() (string, error) {
	if s.credentials == nil {
		return "", errors.Annotate(ErrInvalidArgument, "copy statement has no credentials")
	}
	return s.render(s.credentials.authorization())
}

func (s *CopyStmt) String() string { return mustRender(s.render(credentialsPlaceholder)) }

// DeleteMatchingKeysStmt deletes the rows of Dest whose primary key tuple
// appears in Source.
type DeleteMatchingKeysStmt struct {
	Source      TableRef
	Dest        TableRef
	PrimaryKeys []string
}

func (s *DeleteMatchingKeysStmt) Query() (string, error) {
	if len(s.PrimaryKeys) == 0 {
		return "", errors.Annotate(ErrInvalidArgument, "delete using source requires primary keys")
	}
	conditions := make([]string, 0, len(s.PrimaryKeys))
	for _, key := range s.PrimaryKeys {
		col := utils.QuoteIdent(key)
		conditions = append(conditions, fmt.Sprintf("%s.%s = %s.%s", s.Source.Quoted(), col, s.Dest.Quoted(), col))
	}
	return formatter.Format(`DELETE FROM {dest}
USING {source}
WHERE {conditions}`, formatter.Named{
		"dest":       s.Dest.Quoted(),
		"source":     s.Source.Quoted(),
		"conditions": strings.Join(conditions, " AND "),
	})
}

func (s *DeleteMatchingKeysStmt) String() string { return mustRender(s.Query()) }

type InsertAllStmt struct {
	Source TableRef
	Dest   TableRef
}

func (s *InsertAllStmt) Query() (string, error) {
	return formatter.Format(`INSERT INTO {dest}
SELECT * FROM {source}`, formatter.Named{
		"dest":   s.Dest.Quoted(),
		"source": s.Source.Quoted(),
	})
}

func (s *InsertAllStmt) String() string { return mustRender(s.Query()) }

// ColumnDef is one column of a CREATE TABLE statement.
type ColumnDef struct {
	Name string
	Type string
}

type CreateTableStmt struct {
	Table            TableRef
	Columns          []ColumnDef
	DistStyle        string
	SortKey          []string
	AddUpdatedColumn bool
}

func (s *CreateTableStmt) Query() (string, error) {
	if len(s.Columns) == 0 {
		return "", errors.Annotatef(ErrInvalidArgument, "table %s has no columns", s.Table)
	}
	defs := make([]string, 0, len(s.Columns)+1)
	for _, col := range s.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", utils.QuoteIdent(col.Name), col.Type))
	}
	if s.AddUpdatedColumn {
		defs = append(defs, fmt.Sprintf("%s TIMESTAMP DEFAULT SYSDATE", utils.QuoteIdent(UpdatedAtColumn)))
	}
	var tableConfig strings.Builder
	if s.DistStyle != "" {
		tableConfig.WriteString(" DISTSTYLE ")
		tableConfig.WriteString(strings.ToUpper(s.DistStyle))
	}
	if len(s.SortKey) > 0 {
		fmt.Fprintf(&tableConfig, " SORTKEY(%s)", utils.QuoteIdents(s.SortKey))
	}
	return formatter.Format(`CREATE TABLE IF NOT EXISTS {table} ({columns}){config}`, formatter.Named{
		"table":   s.Table.Quoted(),
		"columns": strings.Join(defs, ", "),
		"config":  tableConfig.String(),
	})
}

func (s *CreateTableStmt) String() string { return mustRender(s.Query()) }

type LockStmt struct {
	Tables []TableRef
}

func (s *LockStmt) Query() (string, error) {
	if len(s.Tables) == 0 {
		return "", errors.Annotate(ErrInvalidArgument, "nothing to lock")
	}
	tables := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		tables = append(tables, t.Quoted())
	}
	return formatter.Format(`LOCK {tables};`, formatter.Named{
		"tables": strings.Join(tables, ", "),
	})
}

func (s *LockStmt) String() string { return mustRender(s.Query()) }
