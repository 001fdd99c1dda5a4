package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"tracecore/testutil"
)

// TestOnlyBlobPackageImportsInfra keeps the drivers behind this package:
// everything else depends on blob.Store.
func TestOnlyBlobPackageImportsInfra(t *testing.T) {
	blobPkg := testutil.PrefixMatcher("tracecore/internal/blob")
	infraPkg := testutil.PrefixMatcher("tracecore/internal/infra/blob")
	testutil.AssertPackageImports(t, "tracecore/...",
		func(path string) bool { return blobPkg(path) || infraPkg(path) },
		infraPkg,
		"import tracecore/internal/blob instead of a blob driver",
	)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("expected fs default, got %v %v", fsStore, err)
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %v %v", mem, err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected s3 without bucket to fail")
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestSentinelsAreShared(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("v")), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("v")), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
