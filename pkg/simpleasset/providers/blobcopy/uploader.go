// Package blobcopy treats a second BlobStore, typically a provider's ingest
// bucket, as an upload target. The provider asset id is the object key.
package blobcopy

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Uploader copies cached bytes into a target store.
type Uploader struct {
	provider simpleasset.ProviderID
	target   simpleasset.BlobStore
	prefix   string
	accepts  map[simpleasset.MediaType]struct{}
}

// New builds an uploader writing under prefix in target. An empty media type
// list accepts every type.
func New(provider simpleasset.ProviderID, target simpleasset.BlobStore, prefix string, mediaTypes ...simpleasset.MediaType) (*Uploader, error) {
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("target store is required for provider %s", provider)
	}
	u := &Uploader{
		provider: provider,
		target:   target,
		prefix:   strings.Trim(prefix, "/"),
		accepts:  make(map[simpleasset.MediaType]struct{}, len(mediaTypes)),
	}
	for _, m := range mediaTypes {
		u.accepts[m] = struct{}{}
	}
	return u, nil
}

var _ simpleasset.ProviderUploader = (*Uploader)(nil)

func (u *Uploader) Provider() simpleasset.ProviderID { return u.provider }

func (u *Uploader) Accepts(mediaType simpleasset.MediaType) bool {
	if len(u.accepts) == 0 {
		return true
	}
	_, ok := u.accepts[mediaType]
	return ok
}

// Key returns the object key an asset is copied to. Re-uploading the same
// asset overwrites the same key.
func (u *Uploader) Key(req simpleasset.UploadRequest) string {
	name := req.AssetID.String()
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

func (u *Uploader) Upload(ctx context.Context, req simpleasset.UploadRequest) (string, error) {
	rc, err := req.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	key := u.Key(req)
	if err := u.target.UploadWithParams(ctx, rc, simpleasset.UploadParams{ObjectKey: key, MimeType: req.MimeType}); err != nil {
		return "", &simpleasset.ProviderError{Provider: u.provider, Err: err}
	}
	return key, nil
}
