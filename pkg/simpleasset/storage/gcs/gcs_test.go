package gcs_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset/storage/gcs"
	"github.com/tendant/simple-asset/pkg/simpleasset/storage/storagetest"
)

// Runs against a GCS emulator (fake-gcs-server) whose bucket already exists.
func TestGCSBackendContract(t *testing.T) {
	endpoint := os.Getenv("SIMPLEASSET_TEST_GCS_ENDPOINT")
	bucket := os.Getenv("SIMPLEASSET_TEST_GCS_BUCKET")
	if endpoint == "" || bucket == "" {
		t.Skip("SIMPLEASSET_TEST_GCS_ENDPOINT or SIMPLEASSET_TEST_GCS_BUCKET not set")
	}

	backend, err := gcs.New(context.Background(), gcs.Config{
		Bucket:   bucket,
		Prefix:   "contract",
		Endpoint: endpoint,
	})
	require.NoError(t, err)
	defer backend.Close()
	storagetest.Run(t, backend)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := gcs.New(context.Background(), gcs.Config{})
	require.Error(t, err)
}
