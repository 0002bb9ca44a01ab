package blobcopy_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/providers/blobcopy"
	"github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

func TestUploadCopiesIntoTarget(t *testing.T) {
	ctx := context.Background()
	target := memory.New()
	u, err := blobcopy.New("runway", target, "/ingest/", simpleasset.MediaTypeVideo)
	require.NoError(t, err)

	req := simpleasset.UploadRequest{
		AssetID:   uuid.New(),
		MediaType: simpleasset.MediaTypeVideo,
		MimeType:  "video/mp4",
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("frames")), nil
		},
	}
	id, err := u.Upload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "ingest/"+req.AssetID.String(), id)

	rc, err := target.Download(ctx, id)
	require.NoError(t, err)
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(raw))

	again, err := u.Upload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, target.Len())
}

func TestAccepts(t *testing.T) {
	u, err := blobcopy.New("runway", memory.New(), "", simpleasset.MediaTypeImage)
	require.NoError(t, err)
	assert.True(t, u.Accepts(simpleasset.MediaTypeImage))
	assert.False(t, u.Accepts(simpleasset.MediaTypeAudio))

	all, err := blobcopy.New("runway", memory.New(), "")
	require.NoError(t, err)
	assert.True(t, all.Accepts(simpleasset.MediaTypeModel3D))
}

func TestNewRequiresTarget(t *testing.T) {
	_, err := blobcopy.New("runway", nil, "")
	assert.Error(t, err)
}
