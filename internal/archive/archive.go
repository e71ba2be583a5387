// Package archive uploads sweep reports to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/config"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
)

type Archiver struct {
	mc     *minio.Client
	bucket string
	region string
	prefix string
	logger logging.Logger
}

func normalizeEndpoint(endpoint string, useSSL bool) (host string, secure bool) {
	secure = useSSL
	if endpoint == "" {
		return "", secure
	}
	// an explicit scheme overrides the SSL flag
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		if u, err := url.Parse(endpoint); err == nil {
			secure = u.Scheme == "https"
			return u.Host, secure
		}
	}
	return endpoint, secure
}

// bucketLookup uses path-style addressing except on AWS.
func bucketLookup(host string) minio.BucketLookupType {
	if strings.HasSuffix(strings.ToLower(host), "amazonaws.com") {
		return minio.BucketLookupAuto
	}
	return minio.BucketLookupPath
}

// New connects to the configured bucket. It does not touch the network.
func New(cfg config.ArchiveConfig, logger logging.Logger) (*Archiver, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("archive is not configured")
	}
	endpoint, secure := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: bucketLookup(endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}
	return &Archiver{mc: mc, bucket: cfg.Bucket, region: cfg.Region, prefix: cfg.Prefix, logger: logger}, nil
}

// Key is where a report of kind taken at "at" is stored.
func Key(prefix, kind string, at time.Time, id string) string {
	name := at.UTC().Format("20060102T150405Z")
	if id != "" {
		name += "-" + id
	}
	return path.Join(strings.Trim(prefix, "/"), kind, name+".json")
}

// EnsureBucket creates the bucket when it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	ok, err := a.mc.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if ok {
		return nil
	}
	if err := a.mc.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.logger.Info("archive bucket created", "bucket", a.bucket)
	return nil
}

// PutReport stores report as JSON and returns its key.
func (a *Archiver) PutReport(ctx context.Context, kind, id string, at time.Time, report any) (string, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := Key(a.prefix, kind, at, id)
	_, err = a.mc.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Info("report archived", "bucket", a.bucket, "key", key, "bytes", len(body))
	return key, nil
}

// List returns the stored report keys of kind, oldest first.
func (a *Archiver) List(ctx context.Context, kind string) ([]string, error) {
	prefix := path.Join(strings.Trim(a.prefix, "/"), kind) + "/"
	var out []string
	for obj := range a.mc.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, obj.Key)
	}
	return out, nil
}
