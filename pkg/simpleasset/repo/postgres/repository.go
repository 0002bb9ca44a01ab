// Package postgres implements simpleasset.Repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// DBTX is an interface that allows us to use either a connection pool or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simpleasset.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

var _ simpleasset.Repository = (*Repository)(nil)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case "assets_origin_unique":
				// CreateAsset upgrades this to *DuplicateOriginError.
				return fmt.Errorf("%w: %s", simpleasset.ErrDuplicateOrigin, pgErr.Detail)
			case "lineage_links_pkey":
				return simpleasset.ErrDuplicateLineageLink
			case "branch_points_source_tag_unique":
				return fmt.Errorf("%w: %s", simpleasset.ErrDuplicateBranchTag, pgErr.Detail)
			case "branch_variants_tag_unique":
				return fmt.Errorf("%w: %s", simpleasset.ErrDuplicateVariantTag, pgErr.Detail)
			case "branch_variants_asset_unique":
				return fmt.Errorf("%w: %s", simpleasset.ErrDuplicateVariantAsset, pgErr.Detail)
			case "assets_pkey":
				return fmt.Errorf("%w: asset id already exists", simpleasset.ErrInvalidAsset)
			}
			return fmt.Errorf("duplicate entry in %s: %s", operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			if pgErr.ConstraintName == "branch_variants_branch_id_fkey" {
				return simpleasset.ErrBranchNotFound
			}
			return fmt.Errorf("%w: %s", simpleasset.ErrAssetNotFound, pgErr.Detail)
		case "23514": // check_violation
			if pgErr.ConstraintName == "lineage_links_no_self" {
				return fmt.Errorf("%w: asset cannot derive from itself", simpleasset.ErrCycleDetected)
			}
			return fmt.Errorf("%w: %s", simpleasset.ErrInvalidCacheState, pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: required field %s is missing", simpleasset.ErrInvalidAsset, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

const assetColumns = `id, owner_id, media_type, duration_seconds, width, height, mime_type, file_size,
	origin_provider_id, origin_provider_asset_id, origin_remote_url, origin_url_expires_at, origin_content_hash,
	provider_uploads, local_cache_path, cache_status, content_hash, last_accessed_at,
	metadata, searchable, age_restricted, created_at, updated_at, deleted_at`

func scanAsset(row pgx.Row) (*simpleasset.Asset, error) {
	var (
		a              simpleasset.Asset
		mediaType      string
		originProvider string
		cacheStatus    string
	)
	err := row.Scan(
		&a.ID, &a.OwnerID, &mediaType, &a.DurationSeconds, &a.Width, &a.Height, &a.MimeType, &a.FileSize,
		&originProvider, &a.OriginProviderAssetID, &a.OriginRemoteURL, &a.OriginURLExpiresAt, &a.OriginContentHash,
		&a.ProviderUploads, &a.LocalCachePath, &cacheStatus, &a.ContentHash, &a.LastAccessedAt,
		&a.Metadata, &a.Searchable, &a.AgeRestricted, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	a.MediaType = simpleasset.MediaType(mediaType)
	a.OriginProviderID = simpleasset.ProviderID(originProvider)
	a.CacheStatus = simpleasset.CacheStatus(cacheStatus)
	return &a, nil
}

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	_, err := r.db.Exec(ctx, query,
		asset.ID, asset.OwnerID, string(asset.MediaType), asset.DurationSeconds, asset.Width, asset.Height,
		asset.MimeType, asset.FileSize, string(asset.OriginProviderID), asset.OriginProviderAssetID,
		asset.OriginRemoteURL, asset.OriginURLExpiresAt, asset.OriginContentHash, asset.ProviderUploads,
		asset.LocalCachePath, string(asset.CacheStatus), asset.ContentHash, asset.LastAccessedAt,
		asset.Metadata, asset.Searchable, asset.AgeRestricted, asset.CreatedAt, asset.UpdatedAt, asset.DeletedAt)
	if err == nil {
		return nil
	}

	err = r.handlePostgresError("create asset", err)
	if errors.Is(err, simpleasset.ErrDuplicateOrigin) {
		var existing uuid.UUID
		if lookupErr := r.db.QueryRow(ctx,
			`SELECT id FROM assets WHERE origin_provider_id = $1 AND origin_provider_asset_id = $2`,
			string(asset.OriginProviderID), asset.OriginProviderAssetID,
		).Scan(&existing); lookupErr != nil {
			return err
		}
		return &simpleasset.DuplicateOriginError{
			Provider:        asset.OriginProviderID,
			ProviderAssetID: asset.OriginProviderAssetID,
			ExistingID:      existing,
		}
	}
	return err
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1 AND deleted_at IS NULL`
	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleasset.ErrAssetNotFound
		}
		return nil, r.handlePostgresError("get asset", err)
	}
	return asset, nil
}

func (r *Repository) GetAssetByOrigin(ctx context.Context, provider simpleasset.ProviderID, providerAssetID string) (*simpleasset.Asset, error) {
	query := `
		SELECT ` + assetColumns + ` FROM assets
		WHERE origin_provider_id = $1 AND origin_provider_asset_id = $2 AND deleted_at IS NULL`
	asset, err := scanAsset(r.db.QueryRow(ctx, query, string(provider), providerAssetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleasset.ErrAssetNotFound
		}
		return nil, r.handlePostgresError("get asset by origin", err)
	}
	return asset, nil
}

func (r *Repository) ListAssetsByCacheStatus(ctx context.Context, status simpleasset.CacheStatus) ([]*simpleasset.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE cache_status = $1 ORDER BY last_accessed_at, id`
	rows, err := r.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, r.handlePostgresError("list assets by cache status", err)
	}
	defer rows.Close()

	var out []*simpleasset.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, rows.Err()
}

func (r *Repository) TouchAsset(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE assets SET last_accessed_at = GREATEST(last_accessed_at, $2)
		WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return r.handlePostgresError("touch asset", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleasset.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) PutProviderUpload(ctx context.Context, id uuid.UUID, provider simpleasset.ProviderID, providerAssetID string, at time.Time) error {
	// Insert only when the provider has no identifier yet; a concurrent
	// writer either lands first or sees ours.
	query := `
		UPDATE assets
		SET provider_uploads = provider_uploads || jsonb_build_object($2::text, $3::text), updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL AND NOT (provider_uploads ? $2::text)`
	tag, err := r.db.Exec(ctx, query, id, string(provider), providerAssetID, at)
	if err != nil {
		return r.handlePostgresError("put provider upload", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var existing *string
	err = r.db.QueryRow(ctx,
		`SELECT provider_uploads ->> $2::text FROM assets WHERE id = $1 AND deleted_at IS NULL`,
		id, string(provider),
	).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return simpleasset.ErrAssetNotFound
	}
	if err != nil {
		return r.handlePostgresError("put provider upload", err)
	}
	if existing == nil || *existing == providerAssetID {
		return nil
	}
	return fmt.Errorf("%w: provider %s has %q, refusing %q", simpleasset.ErrInconsistentCache, provider, *existing, providerAssetID)
}

func (r *Repository) TransitionCacheState(ctx context.Context, id uuid.UUID, state simpleasset.CacheState, at time.Time) (*simpleasset.Asset, error) {
	prior := simpleasset.PriorStatuses(state.Status)
	if len(prior) == 0 {
		return nil, &simpleasset.CacheTransitionError{AssetID: id, To: state.Status}
	}
	path, hash, size := "", "", int64(0)
	if state.Status == simpleasset.CacheStatusPresent {
		if state.Path == "" || state.Hash == "" {
			return nil, &simpleasset.AssetError{AssetID: id, Op: "transition", Err: simpleasset.ErrInvalidCacheState}
		}
		path, hash, size = state.Path, state.Hash, state.Size
	}
	from := make([]string, len(prior))
	for i, s := range prior {
		from[i] = string(s)
	}

	query := `
		UPDATE assets SET
			cache_status = $2,
			local_cache_path = $3,
			content_hash = $4,
			origin_content_hash = CASE WHEN origin_content_hash = '' THEN $4::text ELSE origin_content_hash END,
			file_size = CASE WHEN $5::bigint > 0 THEN $5::bigint ELSE file_size END,
			updated_at = $6
		WHERE id = $1 AND cache_status = ANY($7) AND ($8::text = '' OR local_cache_path = $8::text)
		RETURNING ` + assetColumns
	asset, err := scanAsset(r.db.QueryRow(ctx, query, id, string(state.Status), path, hash, size, at, from, state.ExpectPath))
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, r.handlePostgresError("transition cache state", err)
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT cache_status FROM assets WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simpleasset.ErrAssetNotFound
	}
	if err != nil {
		return nil, r.handlePostgresError("transition cache state", err)
	}
	return nil, &simpleasset.CacheTransitionError{AssetID: id, From: simpleasset.CacheStatus(current), To: state.Status}
}

func (r *Repository) SetClassification(ctx context.Context, id uuid.UUID, c simpleasset.Classification, at time.Time) error {
	query := `
		UPDATE assets SET metadata = $2, searchable = $3, age_restricted = $4, updated_at = $5
		WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, c.Metadata, c.Searchable, c.AgeRestricted, at)
	if err != nil {
		return r.handlePostgresError("set classification", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleasset.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) TombstoneAsset(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE assets SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return r.handlePostgresError("tombstone asset", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleasset.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) PurgeAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	query := `DELETE FROM assets WHERE id = $1 RETURNING ` + assetColumns
	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err == nil {
		return asset, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simpleasset.ErrAssetNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return nil, fmt.Errorf("%w: %s", simpleasset.ErrAssetReferenced, pgErr.Detail)
	}
	return nil, r.handlePostgresError("purge asset", err)
}

// Lineage operations

func (r *Repository) CreateLineageLinks(ctx context.Context, links []*simpleasset.LineageLink) error {
	query := `
		INSERT INTO lineage_links (
			child_id, parent_id, role, parent_frame, parent_time, sequence_order, transformation, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, l := range links {
			_, err := tx.Exec(ctx, query,
				l.ChildID, l.ParentID, l.Role, l.ParentFrame, l.ParentTime,
				l.SequenceOrder, l.Transformation, l.CreatedAt)
			if err != nil {
				return r.handlePostgresError("create lineage link", err)
			}
		}
		return nil
	})
}

func (r *Repository) DeleteLineageLink(ctx context.Context, childID, parentID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM lineage_links WHERE child_id = $1 AND parent_id = $2`, childID, parentID)
	if err != nil {
		return r.handlePostgresError("delete lineage link", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleasset.ErrLineageLinkNotFound
	}
	return nil
}

func (r *Repository) ListLineageLinks(ctx context.Context) ([]*simpleasset.LineageLink, error) {
	query := `
		SELECT child_id, parent_id, role, parent_frame, parent_time, sequence_order, transformation, created_at
		FROM lineage_links
		ORDER BY created_at, child_id, sequence_order, parent_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("list lineage links", err)
	}
	defer rows.Close()

	var out []*simpleasset.LineageLink
	for rows.Next() {
		var l simpleasset.LineageLink
		if err := rows.Scan(
			&l.ChildID, &l.ParentID, &l.Role, &l.ParentFrame, &l.ParentTime,
			&l.SequenceOrder, &l.Transformation, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// Branch operations

func (r *Repository) CreateBranchPoint(ctx context.Context, branch *simpleasset.BranchPoint) error {
	query := `
		INSERT INTO branch_points (
			id, source_asset_id, branch_time, branch_frame, name, tag, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		branch.ID, branch.SourceAssetID, branch.BranchTime, branch.BranchFrame,
		branch.Name, branch.Tag, branch.Description, branch.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create branch point", err)
	}
	return nil
}

const branchColumns = `id, source_asset_id, branch_time, branch_frame, name, tag, description, created_at`

func scanBranch(row pgx.Row) (*simpleasset.BranchPoint, error) {
	var b simpleasset.BranchPoint
	if err := row.Scan(&b.ID, &b.SourceAssetID, &b.BranchTime, &b.BranchFrame, &b.Name, &b.Tag, &b.Description, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetBranchPoint(ctx context.Context, id uuid.UUID) (*simpleasset.BranchPoint, error) {
	b, err := scanBranch(r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branch_points WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleasset.ErrBranchNotFound
		}
		return nil, r.handlePostgresError("get branch point", err)
	}
	return b, nil
}

func (r *Repository) ListBranchPoints(ctx context.Context, sourceAssetIDs []uuid.UUID) ([]*simpleasset.BranchPoint, error) {
	if len(sourceAssetIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + branchColumns + ` FROM branch_points WHERE source_asset_id = ANY($1) ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, query, sourceAssetIDs)
	if err != nil {
		return nil, r.handlePostgresError("list branch points", err)
	}
	defer rows.Close()

	var out []*simpleasset.BranchPoint
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) CreateBranchVariant(ctx context.Context, variant *simpleasset.BranchVariant) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		// Lock the branch row so concurrent variants get distinct positions.
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM branch_points WHERE id = $1 FOR UPDATE`, variant.BranchID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return simpleasset.ErrBranchNotFound
		}
		if err != nil {
			return r.handlePostgresError("create branch variant", err)
		}

		query := `
			INSERT INTO branch_variants (id, branch_id, variant_asset_id, name, tag, position, created_at)
			SELECT $1::uuid, $2::uuid, $3::uuid, $4::text, $5::text, COALESCE(MAX(position) + 1, 0), $6::timestamptz
			FROM branch_variants WHERE branch_id = $2::uuid
			RETURNING position`
		var position int
		err = tx.QueryRow(ctx, query,
			variant.ID, variant.BranchID, variant.VariantAssetID, variant.Name, variant.Tag, variant.CreatedAt,
		).Scan(&position)
		if err != nil {
			return r.handlePostgresError("create branch variant", err)
		}
		variant.Position = position
		return nil
	})
}

func (r *Repository) DeleteBranchVariant(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM branch_variants WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete branch variant", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleasset.ErrVariantNotFound
	}
	return nil
}

func (r *Repository) ListBranchVariants(ctx context.Context, branchIDs []uuid.UUID) ([]*simpleasset.BranchVariant, error) {
	if len(branchIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT v.id, v.branch_id, v.variant_asset_id, v.name, v.tag, v.position, v.created_at
		FROM branch_variants v
		JOIN unnest($1::uuid[]) WITH ORDINALITY AS b(id, ord) ON b.id = v.branch_id
		ORDER BY b.ord, v.position`
	rows, err := r.db.Query(ctx, query, branchIDs)
	if err != nil {
		return nil, r.handlePostgresError("list branch variants", err)
	}
	defer rows.Close()

	var out []*simpleasset.BranchVariant
	for rows.Next() {
		var v simpleasset.BranchVariant
		if err := rows.Scan(&v.ID, &v.BranchID, &v.VariantAssetID, &v.Name, &v.Tag, &v.Position, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (r *Repository) CountAssetReferences(ctx context.Context, assetID uuid.UUID) (int, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM lineage_links WHERE child_id = $1 OR parent_id = $1) +
			(SELECT COUNT(*) FROM branch_points WHERE source_asset_id = $1) +
			(SELECT COUNT(*) FROM branch_variants WHERE variant_asset_id = $1)`
	var n int
	if err := r.db.QueryRow(ctx, query, assetID).Scan(&n); err != nil {
		return 0, r.handlePostgresError("count asset references", err)
	}
	return n, nil
}
