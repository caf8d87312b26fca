// Package objstore stages payloads in object storage.
package objstore

import (
	"context"
	"fmt"

	"github.com/pingcap/errors"
)

// ErrNotFound is returned when reading an object that does not exist.
var ErrNotFound = errors.New("object not found")

// Store puts, gets and deletes objects by bucket and key. Payloads are opaque
// bytes. An empty bucket means DefaultBucket().
type Store interface {
	// Write stores payload at key, overwriting any existing object, and
	// returns the key.
	Write(ctx context.Context, bucket, key string, payload []byte) (string, error)
	// Read returns the object content, or ErrNotFound.
	Read(ctx context.Context, bucket, key string) ([]byte, error)
	// Delete removes the object. Deleting a missing object succeeds.
	Delete(ctx context.Context, bucket, key string) error
	// DefaultBucket is the bucket used when none is given.
	DefaultBucket() string
	// URL is the location of an object as understood by Redshift COPY.
	URL(bucket, key string) string
}

// Object identifies a staged object.
type Object struct {
	Bucket string
	Key    string
}

func (o Object) String() string {
	return fmt.Sprintf("%s/%s", o.Bucket, o.Key)
}

func resolveBucket(s Store, bucket string) (string, error) {
	if bucket != "" {
		return bucket, nil
	}
	if s.DefaultBucket() == "" {
		return "", errors.New("no bucket given and no default bucket configured")
	}
	return s.DefaultBucket(), nil
}
