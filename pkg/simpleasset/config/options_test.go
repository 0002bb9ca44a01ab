package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.DatabaseType != DatabaseMemory {
		t.Errorf("expected memory database, got: %s", cfg.DatabaseType)
	}
	if cfg.Storage.Type != StorageMemory {
		t.Errorf("expected memory storage, got: %s", cfg.Storage.Type)
	}
	if cfg.EvictionSchedule != "" {
		t.Errorf("expected eviction schedule disabled by default, got: %q", cfg.EvictionSchedule)
	}
}

func TestWithPort(t *testing.T) {
	cfg, err := Load(WithPort("9090"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got: %s", cfg.Port)
	}

	if _, err := Load(WithPort("")); err == nil {
		t.Error("expected error for empty port, got nil")
	}
}

func TestWithDatabase(t *testing.T) {
	tests := []struct {
		name      string
		dbType    string
		url       string
		wantError bool
	}{
		{"memory valid", "memory", "", false},
		{"sqlite valid", "sqlite", "/tmp/assets.db", false},
		{"sqlite missing path", "sqlite", "", true},
		{"postgres valid", "postgres", "postgresql://localhost/test", false},
		{"postgres missing url", "postgres", "", true},
		{"invalid type", "mysql", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(WithDatabase(tt.dbType, tt.url))
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseType != tt.dbType || cfg.DatabaseURL != tt.url {
				t.Errorf("expected %s %q, got %s %q", tt.dbType, tt.url, cfg.DatabaseType, cfg.DatabaseURL)
			}
		})
	}
}

func TestWithStorage(t *testing.T) {
	tests := []struct {
		name      string
		opt       Option
		wantType  string
		wantError bool
	}{
		{"filesystem", WithFilesystemStorage("/var/cache/assets"), StorageFS, false},
		{"filesystem without dir", WithFilesystemStorage(""), "", true},
		{"s3", WithS3Storage("assets", "us-east-1", ""), StorageS3, false},
		{"s3 without bucket", WithS3Storage("", "us-east-1", ""), "", true},
		{"gcs", WithGCSStorage("assets", "cache"), StorageGCS, false},
		{"unknown type", WithStorage(StorageConfig{Type: "ftp"}), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.opt)
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Storage.Type != tt.wantType {
				t.Errorf("expected storage %s, got %s", tt.wantType, cfg.Storage.Type)
			}
		})
	}
}

func TestWithProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  ProviderConfig
		wantError bool
	}{
		{"fake", ProviderConfig{ID: "sora", Type: ProviderFake}, false},
		{"http", ProviderConfig{ID: "runway", Type: ProviderHTTP, Endpoint: "https://api.example.com/uploads", MediaTypes: []string{"video"}}, false},
		{"http without endpoint", ProviderConfig{ID: "runway", Type: ProviderHTTP}, true},
		{"blob", ProviderConfig{ID: "luma", Type: ProviderBlob, Target: &StorageConfig{Type: StorageMemory}}, false},
		{"blob without target", ProviderConfig{ID: "luma", Type: ProviderBlob}, true},
		{"invalid id", ProviderConfig{ID: "Sora!", Type: ProviderFake}, true},
		{"unknown media type", ProviderConfig{ID: "sora", Type: ProviderFake, MediaTypes: []string{"hologram"}}, true},
		{"unknown type", ProviderConfig{ID: "sora", Type: "grpc"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(WithProvider(tt.provider))
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(cfg.Providers) != 1 || cfg.Providers[0].ID != tt.provider.ID {
				t.Errorf("expected provider %s, got %+v", tt.provider.ID, cfg.Providers)
			}
		})
	}
}

func TestWithProviderReplacesSameID(t *testing.T) {
	cfg, err := Load(
		WithProvider(ProviderConfig{ID: "sora", Type: ProviderFake}),
		WithProvider(ProviderConfig{ID: "sora", Type: ProviderHTTP, Endpoint: "https://sora.example.com"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Type != ProviderHTTP {
		t.Errorf("expected one http provider, got %+v", cfg.Providers)
	}
}

func TestWithTimeoutsAndEviction(t *testing.T) {
	cfg, err := Load(
		WithTimeouts(time.Minute, 2*time.Minute),
		WithEviction("@hourly", 1<<30),
		WithTransferLimit(4),
		WithCacheCapacity(10<<30),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FetchTimeout != time.Minute || cfg.UploadTimeout != 2*time.Minute {
		t.Errorf("unexpected timeouts %s/%s", cfg.FetchTimeout, cfg.UploadTimeout)
	}
	if cfg.EvictionSchedule != "@hourly" || cfg.EvictionTargetFreeBytes != 1<<30 {
		t.Errorf("unexpected eviction %q/%d", cfg.EvictionSchedule, cfg.EvictionTargetFreeBytes)
	}

	if _, err := Load(WithTimeouts(0, time.Minute)); err == nil {
		t.Error("expected error for zero timeout, got nil")
	}
	if _, err := Load(WithEviction("@hourly", 0)); err == nil {
		t.Error("expected error for schedule without target, got nil")
	}
}
