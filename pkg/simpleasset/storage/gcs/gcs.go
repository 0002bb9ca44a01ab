package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Config options for the GCS backend
type Config struct {
	Bucket string // GCS bucket name
	Prefix string // Optional key prefix inside the bucket

	// CredentialsJSON or CredentialsFile select explicit credentials;
	// application default credentials are used when both are empty.
	CredentialsJSON string
	CredentialsFile string
	Endpoint        string // Optional endpoint, e.g. a local emulator
}

// Backend is a Google Cloud Storage implementation of the simpleasset.BlobStore interface
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a new GCS storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	switch {
	case strings.TrimSpace(config.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	case config.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Backend{client: client, bucket: config.Bucket, prefix: config.Prefix}, nil
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) object(objectKey string) *storage.ObjectHandle {
	name := objectKey
	if b.prefix != "" {
		name = path.Join(b.prefix, objectKey)
	}
	return b.client.Bucket(b.bucket).Object(name)
}

// GetObjectMeta retrieves metadata for an object in GCS
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*simpleasset.ObjectMeta, error) {
	attrs, err := b.object(objectKey).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", simpleasset.ErrObjectNotFound, objectKey)
		}
		return nil, fmt.Errorf("failed to get object attributes: %w", err)
	}

	contentType := attrs.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	metadata := make(map[string]string, len(attrs.Metadata)+1)
	for k, v := range attrs.Metadata {
		metadata[k] = v
	}
	metadata["content_type"] = contentType

	return &simpleasset.ObjectMeta{
		Key:         objectKey,
		Size:        attrs.Size,
		ContentType: contentType,
		UpdatedAt:   attrs.Updated,
		ETag:        attrs.Etag,
		Metadata:    metadata,
	}, nil
}

// Upload uploads content directly to GCS
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, simpleasset.UploadParams{ObjectKey: objectKey})
}

// UploadWithParams uploads content with additional parameters. The object
// only becomes visible once the writer closes cleanly.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params simpleasset.UploadParams) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.object(params.ObjectKey).NewWriter(ctx)
	if params.MimeType != "" {
		w.ContentType = params.MimeType
	}
	if _, err := io.Copy(w, reader); err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// Download downloads content directly from GCS
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	r, err := b.object(objectKey).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", simpleasset.ErrObjectNotFound, objectKey)
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return r, nil
}

// Delete deletes content from GCS
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	if err := b.object(objectKey).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", simpleasset.ErrObjectNotFound, objectKey)
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", objectKey, b.bucket, err)
	}
	return nil
}
