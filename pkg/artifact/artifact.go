// Package artifact optionally retains migration archives in an
// S3-compatible store before the local staging copy is deleted. Retention is
// advisory: upload failures never fail the migration.
package artifact

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Credentials holds the artifact store connection details. KeepLast, when
// positive, bounds how many archives are retained under the migrations
// prefix; older ones are rotated out after each upload.
type Credentials struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`
	Insecure        bool   `json:"insecure,omitempty"`
	KeepLast        int    `json:"keep_last,omitempty"`
}

// LoadCredentials reads and validates store credentials from a JSON file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading artifact store credentials")
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errors.Wrap(err, "parsing artifact store credentials")
	}

	if err := creds.validate(); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (c *Credentials) validate() error {
	if c.Endpoint == "" {
		return errors.New("artifact store: endpoint is required")
	}
	if c.AccessKeyID == "" {
		return errors.New("artifact store: access_key_id is required")
	}
	if c.SecretAccessKey == "" {
		return errors.New("artifact store: secret_access_key is required")
	}
	if c.Bucket == "" {
		return errors.New("artifact store: bucket is required")
	}
	return nil
}

// Store wraps a minio client bound to one bucket.
type Store struct {
	mc       *minio.Client
	bucket   string
	keepLast int
	logger   log.FieldLogger
}

// New creates a Store from the given credentials.
func New(creds *Credentials, logger log.FieldLogger) (*Store, error) {
	mc, err := minio.New(creds.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKeyID, creds.SecretAccessKey, ""),
		Secure: !creds.Insecure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating artifact store client")
	}

	return &Store{
		mc:       mc,
		bucket:   creds.Bucket,
		keepLast: creds.KeepLast,
		logger:   logger.WithField("component", "artifact"),
	}, nil
}

// Upload sends a local archive to the store under the given key.
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	info, err := s.mc.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/x-tar",
	})
	if err != nil {
		return errors.Wrapf(err, "uploading %s", key)
	}

	s.logger.Infof("Retained archive s3://%s/%s (%d bytes)", s.bucket, key, info.Size)

	if deleted, err := s.Rotate(ctx, "migrations/", s.keepLast); err != nil {
		s.logger.Warnf("Archive rotation failed (continuing): %v", err)
	} else if len(deleted) > 0 {
		s.logger.Infof("Rotated out %d old archive(s)", len(deleted))
	}
	return nil
}

// Rotate keeps only the keepLast newest objects under prefix and deletes the
// rest, returning the deleted keys.
func (s *Store) Rotate(ctx context.Context, prefix string, keepLast int) ([]string, error) {
	if keepLast <= 0 {
		return nil, nil
	}

	type object struct {
		key          string
		lastModified time.Time
	}
	var objects []object
	for obj := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, "listing archives")
		}
		objects = append(objects, object{key: obj.Key, lastModified: obj.LastModified})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].lastModified.After(objects[j].lastModified)
	})

	if len(objects) <= keepLast {
		return nil, nil
	}

	var deleted []string
	for _, obj := range objects[keepLast:] {
		if err := s.mc.RemoveObject(ctx, s.bucket, obj.key, minio.RemoveObjectOptions{}); err != nil {
			return deleted, errors.Wrapf(err, "rotating %s", obj.key)
		}
		deleted = append(deleted, obj.key)
	}

	s.logger.Debugf("Rotated %q: kept %d, deleted %d", prefix, keepLast, len(deleted))
	return deleted, nil
}
