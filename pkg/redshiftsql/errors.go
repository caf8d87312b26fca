package redshiftsql

import "github.com/pingcap/errors"

var (
	// ErrUnmappedType is returned when a source type has no Redshift mapping.
	ErrUnmappedType = errors.New("unmapped source type")
	// ErrConnection is returned when Redshift can not be reached, or when a
	// closed connection is used.
	ErrConnection = errors.New("redshift connection error")
	// ErrInvalidArgument is returned for malformed calls, before any I/O.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidTableRef is returned for names that are not <schema>.<table>.
	ErrInvalidTableRef = errors.New("invalid table reference")
)
