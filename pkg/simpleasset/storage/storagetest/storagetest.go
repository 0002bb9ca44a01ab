// Package storagetest is a behavioral test suite every simpleasset.BlobStore
// implementation must pass.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Run exercises store with keys unique to this run, so shared buckets can be
// used.
func Run(t *testing.T, store simpleasset.BlobStore) {
	t.Helper()
	run := uuid.NewString()

	t.Run("UploadDownload", func(t *testing.T) {
		ctx := context.Background()
		key := run + "/cache/clip.mp4"
		require.NoError(t, store.Upload(ctx, key, strings.NewReader("frames")))

		rc, err := store.Download(ctx, key)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, "frames", string(got))

		meta, err := store.GetObjectMeta(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(len("frames")), meta.Size)

		require.NoError(t, store.Delete(ctx, key))
		_, err = store.Download(ctx, key)
		assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)
	})

	t.Run("UploadWithParams", func(t *testing.T) {
		ctx := context.Background()
		key := run + "/cache/frame.png"
		payload := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 1024)...)
		require.NoError(t, store.UploadWithParams(ctx, bytes.NewReader(payload), simpleasset.UploadParams{
			ObjectKey: key,
			MimeType:  "image/png",
		}))

		meta, err := store.GetObjectMeta(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), meta.Size)
		assert.Equal(t, "image/png", meta.ContentType)
		require.NoError(t, store.Delete(ctx, key))
	})

	t.Run("Overwrite", func(t *testing.T) {
		ctx := context.Background()
		key := run + "/cache/overwrite"
		require.NoError(t, store.Upload(ctx, key, strings.NewReader("first")))
		require.NoError(t, store.Upload(ctx, key, strings.NewReader("second")))

		rc, err := store.Download(ctx, key)
		require.NoError(t, err)
		got, _ := io.ReadAll(rc)
		_ = rc.Close()
		assert.Equal(t, "second", string(got))
		require.NoError(t, store.Delete(ctx, key))
	})

	t.Run("Missing", func(t *testing.T) {
		ctx := context.Background()
		key := run + "/missing"
		_, err := store.Download(ctx, key)
		assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)
		_, err = store.GetObjectMeta(ctx, key)
		assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)
	})
}
