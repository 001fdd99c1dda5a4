package memory

import (
	"context"
	"strings"
	"testing"

	"tracecore/pkg/domain"
)

func populated(t *testing.T) *Store {
	t.Helper()
	store := newTestStore()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.SetAuthorizedCaller("batch-registry", true)
		if _, err := tx.CreateAgency(domain.Agency{ID: "FDA-01", Actor: "R1", Name: "FDA", AccessLevel: 2}); err != nil {
			return err
		}
		tx.PutThreshold(domain.Threshold{ParameterID: "temp-c", Min: -2, Max: 4, Critical: 8, Unit: "C"})
		_, err := tx.AppendEvent(domain.EventAgencyRegistered, "FDA-01", "deployer")
		return err
	})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	return store
}

func TestExportImportRoundTripThroughBuckets(t *testing.T) {
	store := populated(t)
	buckets, err := store.ExportState().EncodeBuckets()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, b := range Buckets {
		if len(buckets[b]) == 0 {
			t.Fatalf("missing bucket %s", b)
		}
	}
	decoded, err := DecodeBuckets(buckets)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	restored := NewStore("someone-else", nil)
	if err := restored.ImportState(decoded); err != nil {
		t.Fatalf("import: %v", err)
	}
	_ = restored.View(context.Background(), func(v domain.TransactionView) error {
		if v.Config().Owner != "deployer" || v.Height() != 1 {
			t.Fatalf("config not restored: %+v height=%d", v.Config(), v.Height())
		}
		if v.IsAdministrator("someone-else") || !v.IsAuthorizedCaller("batch-registry") {
			t.Fatalf("access sets not restored")
		}
		if id, ok := v.AgencyIDForActor("R1"); !ok || id != "FDA-01" {
			t.Fatalf("reverse index must be rebuilt on import")
		}
		if err := domain.VerifyChain(v.ListEvents(0, 0), 0, domain.GenesisHash); err != nil {
			t.Fatalf("chain must verify after round trip: %v", err)
		}
		return nil
	})
}

func TestMigrateSnapshotFillsDefaults(t *testing.T) {
	migrated, err := migrateSnapshot(Snapshot{Config: domain.SystemConfig{Owner: "o"}})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if migrated.Config.Status != domain.DefaultStatus || migrated.Config.Version != domain.DefaultVersion {
		t.Fatalf("expected defaults, got %+v", migrated.Config)
	}
	if migrated.Config.SchemaVersion != domain.CurrentSchemaVersion {
		t.Fatalf("expected schema upgrade")
	}
	if migrated.Agencies == nil || migrated.Thresholds == nil {
		t.Fatalf("expected initialised maps")
	}
}

func TestImportRejectsInconsistentSnapshots(t *testing.T) {
	cases := map[string]Snapshot{
		"newer schema":  {Config: domain.SystemConfig{SchemaVersion: domain.CurrentSchemaVersion + 1}},
		"mismatched id": {Agencies: map[string]Agency{"A": {ID: "B", Actor: "R"}}},
		"shared actor":  {Agencies: map[string]Agency{"A": {ID: "A", Actor: "R"}, "B": {ID: "B", Actor: "R"}}},
		"event gap":     {Events: []Event{{ID: 1}}},
	}
	for name, snap := range cases {
		store := newTestStore()
		if err := store.ImportState(snap); err == nil {
			t.Fatalf("%s: expected import error", name)
		}
		if store.ExportState().Config.Owner != "deployer" {
			t.Fatalf("%s: rejected import must leave state untouched", name)
		}
	}
}

func TestDecodeBucketsReportsCorruption(t *testing.T) {
	_, err := DecodeBuckets(map[string][]byte{BucketAgencies: []byte("{not json")})
	if err == nil || !strings.Contains(err.Error(), BucketAgencies) {
		t.Fatalf("expected decode error naming bucket, got %v", err)
	}
	snap, err := DecodeBuckets(map[string][]byte{"unknown": []byte("1")})
	if err != nil || snap.Config.Owner != "" {
		t.Fatalf("unknown buckets must be ignored: %v", err)
	}
}
