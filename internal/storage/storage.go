// Package storage uploads images to the S3 compatible object store and
// returns their public URL
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"skin-api/internal/config"
	"skin-api/internal/naming"
	"skin-api/internal/shared"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ObjectReference is only handed out after the store confirmed the write
type ObjectReference struct {
	Name string
	URL  string
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Gateway struct {
	client   objectPutter
	bucket   string
	endpoint string
	prefix   string
	log      *zap.SugaredLogger
}

func NewGateway(cfg *config.ObjectStore, log *zap.SugaredLogger) (*Gateway, error) {
	endpoint := config.EndpointHost(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKeyID)
	secret := strings.TrimSpace(cfg.AccessKeySecret)
	if access == "" || secret == "" {
		return nil, errors.New("object store access key id and secret are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("object store bucket is required")
	}

	// MaxRetries 1 disables the client's internal retries; uploads are at most once
	client, err := minio.New(endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(access, secret, ""),
		Secure:     cfg.UseSSL,
		Region:     cfg.Region,
		MaxRetries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	return newGateway(client, bucket, endpoint, cfg.Prefix, log), nil
}

func newGateway(client objectPutter, bucket, endpoint, prefix string, log *zap.SugaredLogger) *Gateway {
	return &Gateway{
		client:   client,
		bucket:   bucket,
		endpoint: endpoint,
		prefix:   prefix,
		log:      shared.OrNop(log),
	}
}

// URL is the public address of objectName in the configured bucket
func (g *Gateway) URL(objectName string) string {
	return fmt.Sprintf("https://%s.%s/%s", g.bucket, g.endpoint, objectName)
}

// Upload stores body under a freshly generated name. body is closed on every
// exit path. A returned error means the object must be treated as not created.
func (g *Gateway) Upload(ctx context.Context, body io.ReadCloser, size int64, contentType, originalName string) (ref ObjectReference, err error) {
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			g.log.Warnw("Failed to close upload body", "error", closeErr)
		}
	}()

	name := naming.ObjectName(g.prefix, originalName)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := g.client.PutObject(ctx, g.bucket, name, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return ObjectReference{}, g.classify(ctx, name, err)
	}
	g.log.Infow("Uploaded object", "object_name", name, "size", info.Size, "etag", info.ETag)
	return ObjectReference{Name: name, URL: g.URL(name)}, nil
}

func (g *Gateway) classify(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		g.log.Warnw("Upload interrupted", "object_name", name, "error", err)
		return errors.Join(ctxErr, err)
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		g.log.Warnw("Object store rejected upload",
			"object_name", name,
			"status_code", resp.StatusCode,
			"code", resp.Code,
			"error", err)
		return errors.Join(shared.ErrStoreRejected, fmt.Errorf("status %d %s: %w", resp.StatusCode, resp.Code, err))
	}
	g.log.Warnw("Object store unreachable", "object_name", name, "error", err)
	return errors.Join(shared.ErrStoreUnreachable, err)
}
