package simpleasset

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful for production when you don't need event handling or for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// AssetCreated does nothing and returns nil
func (n *NoopEventSink) AssetCreated(ctx context.Context, asset *Asset) error {
	return nil
}

// ProviderUploadRecorded does nothing and returns nil
func (n *NoopEventSink) ProviderUploadRecorded(ctx context.Context, assetID uuid.UUID, provider ProviderID, providerAssetID string) error {
	return nil
}

// AssetEvicted does nothing and returns nil
func (n *NoopEventSink) AssetEvicted(ctx context.Context, assetID uuid.UUID, bytes int64) error {
	return nil
}

// LogEventSink writes every event to a structured logger
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink that logs at info level
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger.With("component", "events")}
}

func (s *LogEventSink) AssetCreated(ctx context.Context, asset *Asset) error {
	s.logger.InfoContext(ctx, "asset created",
		"asset_id", asset.ID,
		"origin_provider", asset.OriginProviderID,
		"origin_provider_asset_id", asset.OriginProviderAssetID,
		"media_type", asset.MediaType,
	)
	return nil
}

func (s *LogEventSink) ProviderUploadRecorded(ctx context.Context, assetID uuid.UUID, provider ProviderID, providerAssetID string) error {
	s.logger.InfoContext(ctx, "provider upload recorded",
		"asset_id", assetID,
		"provider", provider,
		"provider_asset_id", providerAssetID,
	)
	return nil
}

func (s *LogEventSink) AssetEvicted(ctx context.Context, assetID uuid.UUID, bytes int64) error {
	s.logger.InfoContext(ctx, "asset evicted", "asset_id", assetID, "bytes", bytes)
	return nil
}
