package objstore

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tidb/br/pkg/storage"
	putil "github.com/pingcap/tiflow/pkg/util"
	"go.uber.org/zap"
)

// ExternalStore is a Store over any external storage URI understood by BR
// (s3://, gcs://, azure://, file://, ...).
//
// When the root URI names no bucket (e.g. "s3://?region=us-east-1") the bucket
// becomes the URI host; otherwise buckets are directories below the root path.
type ExternalStore struct {
	root          *url.URL
	defaultBucket string

	open func(ctx context.Context, uri string) (storage.ExternalStorage, error)

	mu       sync.Mutex
	storages map[string]storage.ExternalStorage
}

var _ Store = (*ExternalStore)(nil)

func NewExternalStore(rootURI, defaultBucket string) (*ExternalStore, error) {
	root, err := url.Parse(rootURI)
	if err != nil {
		return nil, errors.Annotate(err, "Failed to parse storage uri")
	}
	if root.Scheme == "" {
		return nil, errors.Errorf("storage uri %q has no scheme", rootURI)
	}
	return &ExternalStore{
		root:          root,
		defaultBucket: defaultBucket,
		open:          putil.GetExternalStorageFromURI,
		storages:      make(map[string]storage.ExternalStorage),
	}, nil
}

func isBucketScheme(scheme string) bool {
	switch scheme {
	case "s3", "gcs", "gs", "azure", "azblob":
		return true
	}
	return false
}

func (s *ExternalStore) bucketURI(bucket string) *url.URL {
	u := *s.root
	if u.Host == "" && isBucketScheme(u.Scheme) {
		u.Host = bucket
	} else {
		u.Path = path.Join(u.Path, bucket)
	}
	return &u
}

func (s *ExternalStore) storageFor(ctx context.Context, bucket string) (storage.ExternalStorage, error) {
	bucket, err := resolveBucket(s, bucket)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.storages[bucket]; ok {
		return st, nil
	}
	st, err := s.open(ctx, s.bucketURI(bucket).String())
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open storage for bucket %s", bucket)
	}
	s.storages[bucket] = st
	return st, nil
}

func (s *ExternalStore) DefaultBucket() string {
	return s.defaultBucket
}

func (s *ExternalStore) URL(bucket, key string) string {
	if bucket == "" {
		bucket = s.defaultBucket
	}
	u := s.bucketURI(bucket)
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/") + "/" + key
}

func (s *ExternalStore) Write(ctx context.Context, bucket, key string, payload []byte) (string, error) {
	st, err := s.storageFor(ctx, bucket)
	if err != nil {
		return "", errors.Trace(err)
	}
	if err := st.WriteFile(ctx, key, payload); err != nil {
		return "", errors.Annotatef(err, "failed to write %s", s.URL(bucket, key))
	}
	log.Info("Saved object to external storage", zap.String("url", s.URL(bucket, key)), zap.Int("size", len(payload)))
	return key, nil
}

func (s *ExternalStore) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	st, err := s.storageFor(ctx, bucket)
	if err != nil {
		return nil, errors.Trace(err)
	}
	exists, err := st.FileExists(ctx, key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !exists {
		return nil, errors.Annotate(ErrNotFound, s.URL(bucket, key))
	}
	data, err := st.ReadFile(ctx, key)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", s.URL(bucket, key))
	}
	return data, nil
}

func (s *ExternalStore) Delete(ctx context.Context, bucket, key string) error {
	st, err := s.storageFor(ctx, bucket)
	if err != nil {
		return errors.Trace(err)
	}
	exists, err := st.FileExists(ctx, key)
	if err != nil {
		return errors.Trace(err)
	}
	if !exists {
		return nil
	}
	if err := st.DeleteFile(ctx, key); err != nil {
		return errors.Annotatef(err, "failed to delete %s", s.URL(bucket, key))
	}
	log.Info("Deleted object from external storage", zap.String("url", s.URL(bucket, key)))
	return nil
}
