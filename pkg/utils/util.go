package utils

import (
	"strings"

	"github.com/pingcap/errors"
)

// SplitTableFQN splits a full-qualified table name into schema and table name
// e.g. "myschema.mytable" -> "myschema", "mytable"
// The name must contain exactly one separator and both parts must be non-empty.
func SplitTableFQN(tableFQN string) (string, string, error) {
	parts := strings.Split(tableFQN, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("%q is not a <schema>.<table> name", tableFQN)
	}
	return parts[0], parts[1], nil
}
