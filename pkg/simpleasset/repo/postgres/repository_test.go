package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/postgres"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/repotest"
)

// Set SIMPLEASSET_TEST_DATABASE_URL to a disposable database to run these.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := os.Getenv("SIMPLEASSET_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test: SIMPLEASSET_TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = postgres.Migrate(context.Background(), pool)
	require.NoError(t, err)
	return pool
}

func TestRepositoryContract(t *testing.T) {
	pool := testPool(t)
	repotest.Run(t, func(t *testing.T) simpleasset.Repository {
		_, err := pool.Exec(context.Background(), `TRUNCATE branch_variants, branch_points, lineage_links, assets`)
		require.NoError(t, err)
		return postgres.NewWithPool(pool)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool := testPool(t)

	applied, err := postgres.Migrate(context.Background(), pool)
	require.NoError(t, err)
	require.Empty(t, applied)
}
