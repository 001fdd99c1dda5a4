package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tracecore/internal/blob"
	"tracecore/internal/core"
	"tracecore/pkg/domain"
)

// seed writes a sqlite store with three events mirrored into an fs archive
// and returns a config file describing both.
func seed(t *testing.T) (configPath, archiveRoot string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "trace.db")
	archiveRoot = filepath.Join(dir, "archive")
	ctx := context.Background()

	store, closeStore, err := core.OpenPersistentStore(core.StorageConfig{Driver: core.StorageSQLite, Deployer: "deployer", SQLitePath: dbPath})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	archive, err := blob.Open(ctx, blob.Config{Driver: blob.DriverFilesystem, FSRoot: archiveRoot})
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	svc := core.NewService(store, core.WithEventSink(core.NewBlobArchiver(archive)))
	owner := domain.Direct("deployer")
	if _, err := svc.RegisterAgency(ctx, owner, domain.Agency{ID: "FDA-01", Actor: "R1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.SetThreshold(ctx, owner, domain.Threshold{ParameterID: "temp-c", Max: 100, Critical: 90}); err != nil {
		t.Fatalf("threshold: %v", err)
	}
	if _, err := svc.RecordEvent(ctx, owner, "lot-shipped", "lot-9"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := closeStore(); err != nil {
		t.Fatalf("close: %v", err)
	}

	configPath = filepath.Join(dir, "tracecore.yaml")
	content := "deployer: deployer\nstorage:\n  driver: sqlite\n  sqlite_path: " + dbPath +
		"\nblob:\n  driver: fs\n  fs_root: " + archiveRoot + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath, archiveRoot
}

func decodeReport(t *testing.T, out []byte) report {
	t.Helper()
	var rep report
	if err := json.Unmarshal(out, &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return rep
}

func TestVerifyStoreAndArchive(t *testing.T) {
	configPath, _ := seed(t)
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-config", configPath, "-archive"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	rep := decodeReport(t, stdout.Bytes())
	if rep.Store == nil || rep.Store.Events != 3 {
		t.Fatalf("unexpected store report %+v", rep.Store)
	}
	if rep.Archive == nil || rep.ArchiveMatch == nil || !*rep.ArchiveMatch {
		t.Fatalf("archive should match store: %+v", rep)
	}
}

func TestVerifyDetectsMissingArchiveEvent(t *testing.T) {
	configPath, archiveRoot := seed(t)
	if err := os.Remove(filepath.Join(archiveRoot, filepath.FromSlash(core.ArchiveKey(2)))); err != nil {
		t.Fatalf("remove archived event: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-config", configPath, "-archive"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
	rep := decodeReport(t, stdout.Bytes())
	if rep.Error == "" || rep.Store == nil {
		t.Fatalf("expected store report and error, got %+v", rep)
	}
	if !strings.Contains(stderr.String(), "Audit verification failed") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestVerifyStoreOnly(t *testing.T) {
	configPath, _ := seed(t)
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-config", configPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	if rep := decodeReport(t, stdout.Bytes()); rep.Archive != nil {
		t.Fatalf("archive verified without -archive: %+v", rep)
	}
}

func TestArchiveFlagWithoutArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("deployer: deployer\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-config", path, "-archive"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure without archive, got %d", code)
	}
	if !strings.Contains(decodeReport(t, stdout.Bytes()).Error, "no blob archive") {
		t.Fatalf("unexpected output %s", stdout.String())
	}
}

func TestMainExitCodes(t *testing.T) {
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"audit-verify", "-bogus"}
	main()
	os.Args = []string{"audit-verify", "-config", filepath.Join(t.TempDir(), "missing.yaml")}
	main()
	if len(codes) != 2 || codes[0] != 2 || codes[1] != 1 {
		t.Fatalf("unexpected exit codes %v", codes)
	}
}
