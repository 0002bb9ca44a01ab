package memory_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
	"github.com/tendant/simple-asset/pkg/simpleasset/storage/storagetest"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.UploadWithParams(ctx, bytes.NewReader([]byte("abc")), simpleasset.UploadParams{ObjectKey: "k", MimeType: "image/png"}))
	meta, err := b.GetObjectMeta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Size)
	assert.Equal(t, "image/png", meta.ContentType)

	rc, err := b.Download(ctx, "k")
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "abc", string(got))

	assert.True(t, b.Corrupt("k", []byte("xyz")))
	assert.False(t, b.Corrupt("missing", nil))
	meta, err = b.GetObjectMeta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)

	require.NoError(t, b.Delete(ctx, "k"))
	assert.Equal(t, 0, b.Len())
	_, err = b.Download(ctx, "k")
	assert.ErrorIs(t, err, simpleasset.ErrObjectNotFound)
	assert.ErrorIs(t, b.Delete(ctx, "k"), simpleasset.ErrObjectNotFound)
}

func TestMemoryBackendContract(t *testing.T) {
	storagetest.Run(t, memory.New())
}
