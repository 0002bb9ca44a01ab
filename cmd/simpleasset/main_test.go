package main

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tendant/simple-asset/pkg/simpleasset/api"
	"github.com/tendant/simple-asset/pkg/simpleasset/presets"
	fsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/fs"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEnvCommandListsVariables(t *testing.T) {
	out, err := runCLI(t, "env")
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	for _, name := range []string{"SIMPLEASSET_DATABASE_URL", "SIMPLEASSET_STORAGE_URL", "SIMPLEASSET_EVICTION_SCHEDULE"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected %s in output:\n%s", name, out)
		}
	}
}

func TestMigrateCommand(t *testing.T) {
	t.Setenv("SIMPLEASSET_DATABASE_URL", "memory")
	out, err := runCLI(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "nothing to migrate") {
		t.Errorf("unexpected output: %s", out)
	}

	t.Setenv("SIMPLEASSET_DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "assets.db"))
	out, err = runCLI(t, "migrate")
	if err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	if !strings.Contains(out, "schema up to date") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSweepCommand(t *testing.T) {
	t.Setenv("SIMPLEASSET_DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "assets.db"))
	t.Setenv("SIMPLEASSET_STORAGE_URL", "file://"+t.TempDir())

	if _, err := runCLI(t, "sweep"); err == nil {
		t.Fatal("expected error without a target")
	}

	out, err := runCLI(t, "sweep", "--target-bytes", "1024")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "Evicted: 0") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSweepCommandThroughServer(t *testing.T) {
	t.Setenv("SIMPLEASSET_DATABASE_URL", "postgres://simpleasset@localhost:1/assets")
	t.Setenv("SIMPLEASSET_STORAGE_URL", "s3://assets-cache")

	store := presets.NewTesting(t)
	srv := httptest.NewServer(api.NewHandler(store).Routes())
	defer srv.Close()

	out, err := runCLI(t, "sweep", "--server", srv.URL, "--target-bytes", "1024")
	if err != nil {
		t.Fatalf("sweep via server: %v", err)
	}
	if !strings.Contains(out, "Evicted: 0") || !strings.Contains(out, "Entries: 0") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSweepCommandRefusesSharedStore(t *testing.T) {
	t.Setenv("SIMPLEASSET_DATABASE_URL", "postgres://simpleasset@localhost:1/assets")
	t.Setenv("SIMPLEASSET_STORAGE_URL", "s3://assets-cache")

	_, err := runCLI(t, "sweep", "--target-bytes", "1024")
	if err == nil {
		t.Fatal("expected a shared store to be refused")
	}
	if !strings.Contains(err.Error(), "--server") {
		t.Errorf("error should point at --server: %v", err)
	}
}

func TestSweepCommandRefusesLockedCache(t *testing.T) {
	cacheDir := t.TempDir()
	held, err := fsstorage.New(fsstorage.Config{BaseDir: cacheDir})
	if err != nil {
		t.Fatalf("lock cache dir: %v", err)
	}
	defer held.Close()

	t.Setenv("SIMPLEASSET_DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "assets.db"))
	t.Setenv("SIMPLEASSET_STORAGE_URL", "file://"+cacheDir)

	_, err = runCLI(t, "sweep", "--target-bytes", "1024")
	if err == nil {
		t.Fatal("expected sweep to fail while another process holds the cache")
	}
	if !strings.Contains(err.Error(), "in use") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfigFileFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simpleasset.toml")
	writeFile(t, path, "[database]\ntype = \"mysql\"\n")

	if _, err := runCLI(t, "migrate", "--config", path); err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
