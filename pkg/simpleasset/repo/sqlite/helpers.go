package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Timestamps are stored as fixed-width UTC text so lexical order matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const assetColumns = "id, owner_id, media_type, duration_seconds, width, height, mime_type, file_size, origin_provider_id, origin_provider_asset_id, origin_remote_url, origin_url_expires_at, origin_content_hash, provider_uploads, local_cache_path, cache_status, content_hash, last_accessed_at, metadata, searchable, age_restricted, created_at, updated_at, deleted_at"

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullableTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeMap(m map[string]interface{}) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeMap(value sql.NullString) (map[string]interface{}, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(value.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeUploads(u simpleasset.ProviderUploads) (string, error) {
	if u == nil {
		u = simpleasset.ProviderUploads{}
	}
	data, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func uuidArgs(ids []uuid.UUID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	return args
}

func scanAsset(row scanner) (*simpleasset.Asset, error) {
	var (
		a                simpleasset.Asset
		id, ownerID      string
		mediaType        string
		originProvider   string
		originExpiresRaw sql.NullString
		uploadsRaw       string
		cacheStatus      string
		lastAccessedRaw  string
		metadataRaw      sql.NullString
		searchable       int64
		ageRestricted    int64
		createdRaw       string
		updatedRaw       string
		deletedRaw       sql.NullString
	)
	if err := row.Scan(
		&id,
		&ownerID,
		&mediaType,
		&a.DurationSeconds,
		&a.Width,
		&a.Height,
		&a.MimeType,
		&a.FileSize,
		&originProvider,
		&a.OriginProviderAssetID,
		&a.OriginRemoteURL,
		&originExpiresRaw,
		&a.OriginContentHash,
		&uploadsRaw,
		&a.LocalCachePath,
		&cacheStatus,
		&a.ContentHash,
		&lastAccessedRaw,
		&metadataRaw,
		&searchable,
		&ageRestricted,
		&createdRaw,
		&updatedRaw,
		&deletedRaw,
	); err != nil {
		return nil, err
	}

	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse asset id: %w", err)
	}
	if a.OwnerID, err = uuid.Parse(ownerID); err != nil {
		return nil, fmt.Errorf("parse owner id: %w", err)
	}
	a.MediaType = simpleasset.MediaType(mediaType)
	a.OriginProviderID = simpleasset.ProviderID(originProvider)
	a.CacheStatus = simpleasset.CacheStatus(cacheStatus)
	a.Searchable = searchable != 0
	a.AgeRestricted = ageRestricted != 0

	if err := json.Unmarshal([]byte(uploadsRaw), &a.ProviderUploads); err != nil {
		return nil, fmt.Errorf("decode provider uploads: %w", err)
	}
	if a.Metadata, err = decodeMap(metadataRaw); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if a.OriginURLExpiresAt, err = parseNullableTime(originExpiresRaw); err != nil {
		return nil, fmt.Errorf("parse origin_url_expires_at: %w", err)
	}
	if a.DeletedAt, err = parseNullableTime(deletedRaw); err != nil {
		return nil, fmt.Errorf("parse deleted_at: %w", err)
	}
	if a.LastAccessedAt, err = parseTime(lastAccessedRaw); err != nil {
		return nil, fmt.Errorf("parse last_accessed_at: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &a, nil
}

func scanLink(row scanner) (*simpleasset.LineageLink, error) {
	var (
		l                 simpleasset.LineageLink
		childID, parentID string
		frame             sql.NullInt64
		at                sql.NullFloat64
		transformationRaw sql.NullString
		createdRaw        string
	)
	if err := row.Scan(&childID, &parentID, &l.Role, &frame, &at, &l.SequenceOrder, &transformationRaw, &createdRaw); err != nil {
		return nil, err
	}
	var err error
	if l.ChildID, err = uuid.Parse(childID); err != nil {
		return nil, err
	}
	if l.ParentID, err = uuid.Parse(parentID); err != nil {
		return nil, err
	}
	l.ParentFrame = intPtr(frame)
	l.ParentTime = floatPtr(at)
	if l.Transformation, err = decodeMap(transformationRaw); err != nil {
		return nil, fmt.Errorf("decode transformation: %w", err)
	}
	if l.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanBranch(row scanner) (*simpleasset.BranchPoint, error) {
	var (
		b            simpleasset.BranchPoint
		id, sourceID string
		at           sql.NullFloat64
		frame        sql.NullInt64
		createdRaw   string
	)
	if err := row.Scan(&id, &sourceID, &at, &frame, &b.Name, &b.Tag, &b.Description, &createdRaw); err != nil {
		return nil, err
	}
	var err error
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if b.SourceAssetID, err = uuid.Parse(sourceID); err != nil {
		return nil, err
	}
	b.BranchTime = floatPtr(at)
	b.BranchFrame = intPtr(frame)
	if b.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanVariant(row scanner) (*simpleasset.BranchVariant, error) {
	var (
		v                     simpleasset.BranchVariant
		id, branchID, assetID string
		createdRaw            string
	)
	if err := row.Scan(&id, &branchID, &assetID, &v.Name, &v.Tag, &v.Position, &createdRaw); err != nil {
		return nil, err
	}
	var err error
	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if v.BranchID, err = uuid.Parse(branchID); err != nil {
		return nil, err
	}
	if v.VariantAssetID, err = uuid.Parse(assetID); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(createdRaw); err != nil {
		return nil, err
	}
	return &v, nil
}
