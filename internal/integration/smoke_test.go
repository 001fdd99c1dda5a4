package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"tracecore/internal/blob"
	"tracecore/internal/core"
	"tracecore/pkg/domain"
)

// TestIntegrationSmoke runs the agency/threshold/event scenario against every
// in-process store paired with every blob driver, then checks that the log
// and its archive verify to the same head.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()
	const deployer domain.ActorID = "deployer"

	storeVariants := []struct {
		name string
		open func(t *testing.T) domain.PersistentStore
	}{
		{
			name: "memory-store",
			open: func(t *testing.T) domain.PersistentStore {
				store, _, err := core.OpenPersistentStore(core.StorageConfig{Deployer: deployer})
				if err != nil {
					t.Fatalf("memory store: %v", err)
				}
				return store
			},
		},
		{
			name: "sqlite-store",
			open: func(t *testing.T) domain.PersistentStore {
				store, closeFn, err := core.OpenPersistentStore(core.StorageConfig{
					Driver:     core.StorageSQLite,
					Deployer:   deployer,
					SQLitePath: filepath.Join(t.TempDir(), "trace.db"),
				})
				if err != nil {
					t.Skipf("sqlite unavailable: %v", err)
				}
				t.Cleanup(func() { _ = closeFn() })
				return store
			},
		},
	}

	blobVariants := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{name: "memory-blob", open: func(*testing.T) blob.Store { return blob.NewMemory() }},
		{
			name: "filesystem-blob",
			open: func(t *testing.T) blob.Store {
				fs, err := blob.Open(ctx, blob.Config{Driver: blob.DriverFilesystem, FSRoot: t.TempDir()})
				if err != nil {
					t.Fatalf("filesystem blob: %v", err)
				}
				return fs
			},
		},
		{name: "mock-s3-blob", open: func(*testing.T) blob.Store { return blob.NewMockS3ForTests() }},
	}

	for _, sv := range storeVariants {
		for _, bv := range blobVariants {
			t.Run(sv.name+"/"+bv.name, func(t *testing.T) {
				archive := bv.open(t)
				metrics := core.NewExpvarMetricsRecorder("")
				var traces bytes.Buffer
				tracer := core.NewJSONTracer(&traces)
				svc := core.NewService(sv.open(t),
					core.WithMetricsRecorder(metrics),
					core.WithTracer(tracer),
					core.WithEventSink(core.NewBlobArchiver(archive)),
				)
				owner := domain.Direct(deployer)

				if _, err := svc.RegisterAgency(ctx, owner, domain.Agency{ID: "FDA-01", Actor: "R1", Name: "FDA", Jurisdiction: "US", AccessLevel: 2}); err != nil {
					t.Fatalf("register agency: %v", err)
				}
				regulator := domain.Direct("R1")
				if _, err := svc.SetThreshold(ctx, regulator, domain.Threshold{ParameterID: "temp-c", Min: 0, Max: 100, Critical: 90, Unit: "C"}); err != nil {
					t.Fatalf("regulator sets threshold: %v", err)
				}
				if _, err := svc.WhitelistCaller(ctx, owner, "sensor-gateway"); err != nil {
					t.Fatalf("whitelist: %v", err)
				}
				if _, err := svc.RecordEvent(ctx, domain.Via("field-tech", "sensor-gateway"), "reading", "temp-c=95"); err != nil {
					t.Fatalf("record via gateway: %v", err)
				}
				if got := svc.Evaluate(ctx, "temp-c", 95); got != domain.ThresholdCritical {
					t.Fatalf("expected critical, got %s", got)
				}

				storeReport, err := svc.VerifyEventChain(ctx)
				if err != nil {
					t.Fatalf("verify store chain: %v", err)
				}
				archiveReport, err := core.VerifyArchive(ctx, archive)
				if err != nil {
					t.Fatalf("verify archive: %v", err)
				}
				if storeReport.Events != 4 || archiveReport.Events != storeReport.Events || archiveReport.HeadHash != storeReport.HeadHash {
					t.Fatalf("archive diverged: store=%+v archive=%+v", storeReport, archiveReport)
				}

				if metrics.Snapshot()["register_agency"].Success != 1 {
					t.Fatalf("register_agency not counted: %+v", metrics.Snapshot())
				}
				var sawRecord bool
				for _, entry := range tracer.Entries() {
					if entry.Operation == "record_event" && entry.Status == "success" {
						sawRecord = true
					}
				}
				if !sawRecord || traces.Len() == 0 {
					t.Fatalf("expected record_event span, entries=%+v", tracer.Entries())
				}
			})
		}
	}
}
