package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

type recordingFatal struct {
	msg string
}

func (r *recordingFatal) Fatalf(format string, args ...any) {
	r.msg = fmt.Sprintf(format, args...)
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	src := "package sample\n\nimport (\n\t\"fmt\"\n\t\"example.com/app/internal/secret\"\n)\n\nvar _ = fmt.Sprint\nvar _ = secret.X\n"
	if err := os.WriteFile(filepath.Join(dir, "sample.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	testSrc := "package sample\n\nimport _ \"example.com/app/internal/other\"\n"
	if err := os.WriteFile(filepath.Join(dir, "sample_test.go"), []byte(testSrc), 0o600); err != nil {
		t.Fatalf("write test source: %v", err)
	}
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "internal/secret") {
		t.Fatalf("expected one violation from non-test file, got %v", viols)
	}
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestPackageImportViolationsRespectsExempt(t *testing.T) {
	pkgs := []*packages.Package{
		{PkgPath: "tracecore/internal/blob", Imports: map[string]*packages.Package{"tracecore/internal/infra/blob/s3": {}}},
		{PkgPath: "tracecore/internal/core", Imports: map[string]*packages.Package{"tracecore/internal/infra/blob/fs": {}}},
	}
	viols := packageImportViolations(pkgs, PrefixMatcher("tracecore/internal/blob"), PrefixMatcher("tracecore/internal/infra/blob"))
	if len(viols) != 1 || viols[0] != "tracecore/internal/core: tracecore/internal/infra/blob/fs" {
		t.Fatalf("unexpected violations: %v", viols)
	}
}

func TestFailIfViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIfViolations(rec, "headline", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("expected no failure for empty violations")
	}
	failIfViolations(rec, "headline", "reason", []string{"a"})
	if !strings.Contains(rec.msg, "headline (reason)") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
}

func TestPrefixMatcher(t *testing.T) {
	match := PrefixMatcher("tracecore/internal/infra/blob")
	if !match("tracecore/internal/infra/blob") || !match("tracecore/internal/infra/blob/s3") {
		t.Fatalf("expected prefix and children to match")
	}
	if match("tracecore/internal/infra/blobby") {
		t.Fatalf("sibling with shared prefix must not match")
	}
}
