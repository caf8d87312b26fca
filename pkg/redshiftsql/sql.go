package redshiftsql

import "github.com/pingcap/errors"

// Default COPY options for objects staged by the loader.
var (
	CopyCSVOptions = []string{
		"CSV DELIMITER AS ','",
		"NULL AS 'NaN'",
		"BLANKSASNULL",
		"COMPUPDATE OFF",
	}
	CopyGzipOption = "GZIP"
)

var copyEncodings = map[string]string{
	"utf-8":    "UTF8",
	"utf-16":   "UTF16",
	"utf-16le": "UTF16LE",
	"utf-16be": "UTF16BE",
}

// CopyEncodingOption is the COPY option for a staged object written in
// encoding, e.g. "utf-16le" gives ENCODING AS UTF16LE.
func CopyEncodingOption(encoding string) (string, error) {
	name, ok := copyEncodings[encoding]
	if !ok {
		return "", errors.Annotatef(ErrInvalidArgument, "COPY cannot read %q", encoding)
	}
	return "ENCODING AS " + name, nil
}

// ExistsQuery counts the tables named table in schema. The result has a single
// "count" column.
func ExistsQuery(schema, table string) *TableExistsStmt {
	return &TableExistsStmt{Schema: schema, Table: table}
}

func CreateSchemaIfAbsent(schema string) *CreateSchemaStmt {
	return &CreateSchemaStmt{Schema: schema}
}

func DropTableIfExists(table TableRef) *DropTableStmt {
	return &DropTableStmt{Table: table}
}

// CreateStagingLike creates the temp table staging with the columns of source.
func CreateStagingLike(staging, source TableRef) *CreateStagingStmt {
	return &CreateStagingStmt{Staging: staging, Source: source}
}

// CopyFromObjectStore copies the object at objectURL into target. An empty
// columns list loads every column in table order. The statement still needs
// WithCredentials before it can be executed.
func CopyFromObjectStore(target TableRef, objectURL string, columns []string, options ...string) *CopyStmt {
	return &CopyStmt{
		Target:  target,
		From:    objectURL,
		Columns: columns,
		Options: options,
	}
}

// DeleteMatchingKeys deletes rows from dest that share a primary key with
// source. It must only be used when primaryKeys is not empty.
func DeleteMatchingKeys(source, dest TableRef, primaryKeys []string) *DeleteMatchingKeysStmt {
	return &DeleteMatchingKeysStmt{Source: source, Dest: dest, PrimaryKeys: primaryKeys}
}

func InsertAll(source, dest TableRef) *InsertAllStmt {
	return &InsertAllStmt{Source: source, Dest: dest}
}

// LockTables locks tables in the given order.
func LockTables(tables ...TableRef) (*LockStmt, error) {
	if len(tables) == 0 {
		return nil, errors.Annotate(ErrInvalidArgument, "no tables to lock")
	}
	return &LockStmt{Tables: tables}, nil
}
