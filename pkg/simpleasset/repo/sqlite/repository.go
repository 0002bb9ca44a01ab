// Package sqlite implements simpleasset.Repository on an embedded SQLite
// database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Repository implements simpleasset.Repository backed by SQLite.
type Repository struct {
	db   *sql.DB
	path string
}

var _ simpleasset.Repository = (*Repository)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer connection keeps read-modify-write transactions serialized
	// within the process; busy_timeout covers other processes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	r := &Repository{db: db, path: path}
	if _, err := r.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Path returns the database file path.
func (r *Repository) Path() string {
	return r.path
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// inTx runs fn in a transaction, retrying the whole transaction while the
// database reports busy.
func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// constraintError maps a UNIQUE constraint failure reported by SQLite to the
// matching domain error. Pre-checks catch these inside a transaction; this
// covers writers in other processes.
func constraintError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "assets.origin_provider_id"):
		return fmt.Errorf("%w: %v", simpleasset.ErrDuplicateOrigin, err)
	case strings.Contains(msg, "lineage_links.child_id"):
		return fmt.Errorf("%w: %v", simpleasset.ErrDuplicateLineageLink, err)
	case strings.Contains(msg, "branch_points.source_asset_id"):
		return fmt.Errorf("%w: %v", simpleasset.ErrDuplicateBranchTag, err)
	case strings.Contains(msg, "branch_variants.branch_id, branch_variants.tag"):
		return fmt.Errorf("%w: %v", simpleasset.ErrDuplicateVariantTag, err)
	case strings.Contains(msg, "branch_variants.branch_id, branch_variants.variant_asset_id"):
		return fmt.Errorf("%w: %v", simpleasset.ErrDuplicateVariantAsset, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", simpleasset.ErrAssetNotFound, err)
	}
	return err
}

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	uploads, err := encodeUploads(asset.ProviderUploads)
	if err != nil {
		return fmt.Errorf("encode provider uploads: %w", err)
	}
	metadata, err := encodeMap(asset.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM assets WHERE origin_provider_id = ? AND origin_provider_asset_id = ?",
			string(asset.OriginProviderID), asset.OriginProviderAssetID,
		).Scan(&existing)
		switch {
		case err == nil:
			existingID, _ := uuid.Parse(existing)
			return &simpleasset.DuplicateOriginError{
				Provider:        asset.OriginProviderID,
				ProviderAssetID: asset.OriginProviderAssetID,
				ExistingID:      existingID,
			}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("lookup origin: %w", err)
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO assets ("+assetColumns+") VALUES ("+makePlaceholders(24)+")",
			asset.ID.String(),
			asset.OwnerID.String(),
			string(asset.MediaType),
			asset.DurationSeconds,
			asset.Width,
			asset.Height,
			asset.MimeType,
			asset.FileSize,
			string(asset.OriginProviderID),
			asset.OriginProviderAssetID,
			asset.OriginRemoteURL,
			nullableTime(asset.OriginURLExpiresAt),
			asset.OriginContentHash,
			uploads,
			asset.LocalCachePath,
			string(asset.CacheStatus),
			asset.ContentHash,
			formatTime(asset.LastAccessedAt),
			metadata,
			boolToInt(asset.Searchable),
			boolToInt(asset.AgeRestricted),
			formatTime(asset.CreatedAt),
			formatTime(asset.UpdatedAt),
			nullableTime(asset.DeletedAt),
		)
		if err != nil {
			if strings.Contains(err.Error(), "assets.id") {
				return fmt.Errorf("%w: asset id %s already exists", simpleasset.ErrInvalidAsset, asset.ID)
			}
			return constraintError(err)
		}
		return nil
	})
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = ? AND deleted_at IS NULL", id.String())
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, simpleasset.ErrAssetNotFound
	}
	return asset, err
}

func (r *Repository) GetAssetByOrigin(ctx context.Context, provider simpleasset.ProviderID, providerAssetID string) (*simpleasset.Asset, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE origin_provider_id = ? AND origin_provider_asset_id = ? AND deleted_at IS NULL",
		string(provider), providerAssetID,
	)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, simpleasset.ErrAssetNotFound
	}
	return asset, err
}

func (r *Repository) ListAssetsByCacheStatus(ctx context.Context, status simpleasset.CacheStatus) ([]*simpleasset.Asset, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE cache_status = ? ORDER BY last_accessed_at, id",
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
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

// loadAsset reads a row inside tx, tombstoned rows included.
func loadAsset(ctx context.Context, tx *sql.Tx, id uuid.UUID, live bool) (*simpleasset.Asset, error) {
	query := "SELECT " + assetColumns + " FROM assets WHERE id = ?"
	if live {
		query += " AND deleted_at IS NULL"
	}
	asset, err := scanAsset(tx.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, simpleasset.ErrAssetNotFound
	}
	return asset, err
}

func (r *Repository) TouchAsset(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadAsset(ctx, tx, id, true); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE assets SET last_accessed_at = ? WHERE id = ? AND last_accessed_at < ?",
			formatTime(at), id.String(), formatTime(at),
		)
		return err
	})
}

func (r *Repository) PutProviderUpload(ctx context.Context, id uuid.UUID, provider simpleasset.ProviderID, providerAssetID string, at time.Time) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		asset, err := loadAsset(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if asset.ProviderUploads == nil {
			asset.ProviderUploads = make(simpleasset.ProviderUploads)
		}
		changed, err := asset.ProviderUploads.Merge(provider, providerAssetID)
		if err != nil || !changed {
			return err
		}
		uploads, err := encodeUploads(asset.ProviderUploads)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE assets SET provider_uploads = ?, updated_at = ? WHERE id = ?",
			uploads, formatTime(at), id.String(),
		)
		return err
	})
}

func (r *Repository) TransitionCacheState(ctx context.Context, id uuid.UUID, state simpleasset.CacheState, at time.Time) (*simpleasset.Asset, error) {
	var next *simpleasset.Asset
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		asset, err := loadAsset(ctx, tx, id, false)
		if err != nil {
			return err
		}
		if !simpleasset.CanTransition(asset.CacheStatus, state.Status) {
			return &simpleasset.CacheTransitionError{AssetID: id, From: asset.CacheStatus, To: state.Status}
		}
		from, fromPath := asset.CacheStatus, asset.LocalCachePath
		if state.ExpectPath != "" && fromPath != state.ExpectPath {
			return &simpleasset.CacheTransitionError{AssetID: id, From: from, To: state.Status}
		}
		asset.ApplyCacheState(state, at)
		if err := asset.Validate(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE assets SET cache_status = ?, local_cache_path = ?, content_hash = ?, origin_content_hash = ?, file_size = ?, updated_at = ?
			 WHERE id = ? AND cache_status = ? AND local_cache_path = ?`,
			string(asset.CacheStatus),
			asset.LocalCachePath,
			asset.ContentHash,
			asset.OriginContentHash,
			asset.FileSize,
			formatTime(at),
			id.String(),
			string(from),
			fromPath,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return &simpleasset.CacheTransitionError{AssetID: id, From: from, To: state.Status}
		}
		next = asset
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (r *Repository) SetClassification(ctx context.Context, id uuid.UUID, c simpleasset.Classification, at time.Time) error {
	metadata, err := encodeMap(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE assets SET metadata = ?, searchable = ?, age_restricted = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		metadata, boolToInt(c.Searchable), boolToInt(c.AgeRestricted), formatTime(at), id.String(),
	)
	return affectedOr(res, err, simpleasset.ErrAssetNotFound)
}

func (r *Repository) TombstoneAsset(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE assets SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		formatTime(at), formatTime(at), id.String(),
	)
	return affectedOr(res, err, simpleasset.ErrAssetNotFound)
}

func (r *Repository) PurgeAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	var purged *simpleasset.Asset
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		asset, err := loadAsset(ctx, tx, id, false)
		if err != nil {
			return err
		}
		n, err := countReferences(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d references", simpleasset.ErrAssetReferenced, n)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", id.String()); err != nil {
			return err
		}
		purged = asset
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purged, nil
}

// Lineage operations

func (r *Repository) CreateLineageLinks(ctx context.Context, links []*simpleasset.LineageLink) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, l := range links {
			for _, id := range []uuid.UUID{l.ChildID, l.ParentID} {
				if _, err := loadAsset(ctx, tx, id, false); err != nil {
					return err
				}
			}
			var count int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(1) FROM lineage_links WHERE child_id = ? AND parent_id = ?",
				l.ChildID.String(), l.ParentID.String(),
			).Scan(&count); err != nil {
				return err
			}
			if count > 0 {
				return simpleasset.ErrDuplicateLineageLink
			}
			transformation, err := encodeMap(l.Transformation)
			if err != nil {
				return fmt.Errorf("encode transformation: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO lineage_links (child_id, parent_id, role, parent_frame, parent_time, sequence_order, transformation, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				l.ChildID.String(),
				l.ParentID.String(),
				l.Role,
				nullableInt(l.ParentFrame),
				nullableFloat(l.ParentTime),
				l.SequenceOrder,
				transformation,
				formatTime(l.CreatedAt),
			); err != nil {
				return constraintError(err)
			}
		}
		return nil
	})
}

func (r *Repository) DeleteLineageLink(ctx context.Context, childID, parentID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM lineage_links WHERE child_id = ? AND parent_id = ?",
		childID.String(), parentID.String(),
	)
	return affectedOr(res, err, simpleasset.ErrLineageLinkNotFound)
}

func (r *Repository) ListLineageLinks(ctx context.Context) ([]*simpleasset.LineageLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT child_id, parent_id, role, parent_frame, parent_time, sequence_order, transformation, created_at
		 FROM lineage_links ORDER BY created_at, child_id, sequence_order, parent_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list lineage links: %w", err)
	}
	defer rows.Close()

	var out []*simpleasset.LineageLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Branch operations

const branchColumns = "id, source_asset_id, branch_time, branch_frame, name, tag, description, created_at"

const variantColumns = "id, branch_id, variant_asset_id, name, tag, position, created_at"

func (r *Repository) CreateBranchPoint(ctx context.Context, branch *simpleasset.BranchPoint) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadAsset(ctx, tx, branch.SourceAssetID, false); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM branch_points WHERE source_asset_id = ? AND tag = ?",
			branch.SourceAssetID.String(), branch.Tag,
		).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %q", simpleasset.ErrDuplicateBranchTag, branch.Tag)
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO branch_points ("+branchColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			branch.ID.String(),
			branch.SourceAssetID.String(),
			nullableFloat(branch.BranchTime),
			nullableInt(branch.BranchFrame),
			branch.Name,
			branch.Tag,
			branch.Description,
			formatTime(branch.CreatedAt),
		)
		return constraintError(err)
	})
}

func (r *Repository) GetBranchPoint(ctx context.Context, id uuid.UUID) (*simpleasset.BranchPoint, error) {
	b, err := scanBranch(r.db.QueryRowContext(ctx, "SELECT "+branchColumns+" FROM branch_points WHERE id = ?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, simpleasset.ErrBranchNotFound
	}
	return b, err
}

func (r *Repository) ListBranchPoints(ctx context.Context, sourceAssetIDs []uuid.UUID) ([]*simpleasset.BranchPoint, error) {
	if len(sourceAssetIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+branchColumns+" FROM branch_points WHERE source_asset_id IN ("+makePlaceholders(len(sourceAssetIDs))+") ORDER BY created_at, id",
		uuidArgs(sourceAssetIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("list branch points: %w", err)
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
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM branch_points WHERE id = ?", variant.BranchID.String()).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return simpleasset.ErrBranchNotFound
		}
		if _, err := loadAsset(ctx, tx, variant.VariantAssetID, false); err != nil {
			return err
		}

		var tagCount, assetCount, position int
		if err := tx.QueryRowContext(ctx,
			`SELECT
				COALESCE(SUM(CASE WHEN tag = ? THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN variant_asset_id = ? THEN 1 ELSE 0 END), 0),
				COALESCE(MAX(position) + 1, 0)
			 FROM branch_variants WHERE branch_id = ?`,
			variant.Tag, variant.VariantAssetID.String(), variant.BranchID.String(),
		).Scan(&tagCount, &assetCount, &position); err != nil {
			return err
		}
		if tagCount > 0 {
			return fmt.Errorf("%w: %q", simpleasset.ErrDuplicateVariantTag, variant.Tag)
		}
		if assetCount > 0 {
			return fmt.Errorf("%w: %s", simpleasset.ErrDuplicateVariantAsset, variant.VariantAssetID)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO branch_variants ("+variantColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			variant.ID.String(),
			variant.BranchID.String(),
			variant.VariantAssetID.String(),
			variant.Name,
			variant.Tag,
			position,
			formatTime(variant.CreatedAt),
		); err != nil {
			return constraintError(err)
		}
		variant.Position = position
		return nil
	})
}

func (r *Repository) DeleteBranchVariant(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM branch_variants WHERE id = ?", id.String())
	return affectedOr(res, err, simpleasset.ErrVariantNotFound)
}

func (r *Repository) ListBranchVariants(ctx context.Context, branchIDs []uuid.UUID) ([]*simpleasset.BranchVariant, error) {
	if len(branchIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+variantColumns+" FROM branch_variants WHERE branch_id IN ("+makePlaceholders(len(branchIDs))+")",
		uuidArgs(branchIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("list branch variants: %w", err)
	}
	defer rows.Close()

	var out []*simpleasset.BranchVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	order := make(map[uuid.UUID]int, len(branchIDs))
	for i, id := range branchIDs {
		if _, ok := order[id]; !ok {
			order[id] = i
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if oi, oj := order[out[i].BranchID], order[out[j].BranchID]; oi != oj {
			return oi < oj
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (r *Repository) CountAssetReferences(ctx context.Context, assetID uuid.UUID) (int, error) {
	return countReferences(ctx, r.db, assetID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countReferences(ctx context.Context, q rowQuerier, assetID uuid.UUID) (int, error) {
	id := assetID.String()
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(1) FROM lineage_links WHERE child_id = ? OR parent_id = ?) +
			(SELECT COUNT(1) FROM branch_points WHERE source_asset_id = ?) +
			(SELECT COUNT(1) FROM branch_variants WHERE variant_asset_id = ?)`,
		id, id, id, id,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count references: %w", err)
	}
	return n, nil
}

func affectedOr(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
