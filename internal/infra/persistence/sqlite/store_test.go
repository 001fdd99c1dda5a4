package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tracecore/pkg/domain"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(path, "deployer", domain.NewDefaultRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store := openStore(t, path)
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateAgency(domain.Agency{ID: "FDA-01", Actor: "R1", Name: "FDA"}); err != nil {
			return err
		}
		tx.PutThreshold(domain.Threshold{ParameterID: "temp-c", Min: -2, Max: 4, Critical: 8, Unit: "C"})
		_, err := tx.AppendEvent(domain.EventAgencyRegistered, "FDA-01", "deployer")
		return err
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = store.Close()

	reloaded := openStore(t, path)
	err := reloaded.View(ctx, func(v domain.TransactionView) error {
		if id, ok := v.AgencyIDForActor("R1"); !ok || id != "FDA-01" {
			t.Fatalf("expected agency index after reload")
		}
		if _, ok := v.FindThreshold("temp-c"); !ok {
			t.Fatalf("expected threshold after reload")
		}
		if v.EventCount() != 1 || v.Height() != 1 {
			t.Fatalf("expected one event at height 1, got %d/%d", v.EventCount(), v.Height())
		}
		return domain.VerifyChain(v.ListEvents(0, 0), 0, domain.GenesisHash)
	})
	if err != nil {
		t.Fatalf("reloaded view: %v", err)
	}
}

func TestSQLiteStoreWritesEveryBucket(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.SetStatus("maintenance")
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count buckets: %v", err)
	}
	if count != 6 {
		t.Fatalf("expected 6 buckets, got %d", count)
	}
}

func TestSQLiteStoreKeepsMemoryStateWhenWriteFails(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	_ = store.DB().Close()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.SetVersion("9.9.9")
		return nil
	})
	if err == nil {
		t.Fatalf("expected persist failure on closed database")
	}
	if got := store.ExportState().Config.Version; got != domain.DefaultVersion {
		t.Fatalf("failed persist must not commit in memory, got version %s", got)
	}
}

func TestSQLiteStoreRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store := openStore(t, path)
	if _, err := store.DB().Exec(`INSERT INTO state(bucket,payload) VALUES('agencies', 'not json')`); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}
	_ = store.Close()
	_, err := NewStore(path, "deployer", nil)
	if err == nil {
		t.Fatalf("expected decode failure")
	}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		t.Fatalf("storage errors must not masquerade as domain errors: %v", err)
	}
}
