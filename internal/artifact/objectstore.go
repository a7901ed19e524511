package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kingrea/gantry/internal/rundir"
)

// ObjectStoreConfig configures the optional run-folder mirror. An empty
// endpoint disables mirroring.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// Enabled reports whether mirroring is configured at all.
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Validate ensures the configuration is complete enough to connect.
func (c ObjectStoreConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("artifact: object store endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("artifact: endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("artifact: object store access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("artifact: object store secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("artifact: object store bucket is required")
	}
	return nil
}

// ObjectStore mirrors run outputs into a bucket so they survive local
// cleanup. Objects are keyed <run-id>/<relative path>.
type ObjectStore struct {
	client *minio.Client
	bucket string
	region string
}

// NewObjectStore connects to the configured endpoint.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("artifact: connect object store: %w", err)
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("artifact: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("artifact: make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PutFile uploads one local file under the given object key.
func (s *ObjectStore) PutFile(ctx context.Context, key, path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("artifact: open %s: %w", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("artifact: stat %s: %w", path, err)
	}
	opts := minio.PutObjectOptions{ContentType: contentTypeFor(path)}
	if _, err := s.client.PutObject(ctx, s.bucket, key, file, info.Size(), opts); err != nil {
		return 0, fmt.Errorf("artifact: put %s: %w", key, err)
	}
	return info.Size(), nil
}

// MirrorRun uploads the run folder's outputs, keyed under the run ID. The
// checked-out workspace is excluded: it belongs to the repository, not the
// run. Returns the number of objects uploaded.
func (s *ObjectStore) MirrorRun(ctx context.Context, run *rundir.Run) (int, error) {
	root := run.Dir()
	uploaded := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel == rundir.WorkspaceDir {
				return filepath.SkipDir
			}
			return nil
		}
		key := run.ID() + "/" + filepath.ToSlash(rel)
		if _, putErr := s.PutFile(ctx, key, path); putErr != nil {
			return putErr
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
