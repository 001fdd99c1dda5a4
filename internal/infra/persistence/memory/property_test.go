package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tracecore/pkg/domain"
)

// decodeOp maps an integer to (operation, agency id, actor) over small
// domains so generated sequences collide often.
func decodeOp(n int) (kind int, id string, actor domain.ActorID) {
	return n % 3, fmt.Sprintf("AG-%d", (n/3)%4), domain.ActorID(fmt.Sprintf("R%d", (n/12)%4))
}

func applyAgencyOp(store *Store, n int) {
	kind, id, actor := decodeOp(n)
	_, _ = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		switch kind {
		case 0:
			_, err = tx.CreateAgency(domain.Agency{ID: id, Actor: actor})
		case 1:
			_, err = tx.UpdateAgency(id, func(a *domain.Agency) error {
				a.Actor = actor
				return nil
			})
		default:
			_, err = tx.DeleteAgency(id)
		}
		if err != nil {
			return err
		}
		_, err = tx.AppendEvent("agency-op", id, "deployer")
		return err
	})
}

func TestAgencyIndexBijectionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("forward table and actor index always agree", prop.ForAll(
		func(ops []int) bool {
			store := NewStore("deployer", domain.NewDefaultRulesEngine())
			for _, n := range ops {
				applyAgencyOp(store, n)
			}
			ok := true
			_ = store.View(context.Background(), func(v domain.TransactionView) error {
				agencies := v.ListAgencies()
				for _, a := range agencies {
					id, found := v.AgencyIDForActor(a.Actor)
					if !found || id != a.ID {
						ok = false
					}
				}
				indexed := 0
				for i := 0; i < 4; i++ {
					if id, found := v.AgencyIDForActor(domain.ActorID(fmt.Sprintf("R%d", i))); found {
						indexed++
						if a, exists := v.FindAgency(id); !exists || a.Actor != domain.ActorID(fmt.Sprintf("R%d", i)) {
							ok = false
						}
					}
				}
				if indexed != len(agencies) {
					ok = false
				}
				return nil
			})
			return ok
		},
		gen.SliceOf(gen.IntRange(0, 47)),
	))

	properties.Property("event ids are gap free and heights never decrease", prop.ForAll(
		func(ops []int) bool {
			store := NewStore("deployer", domain.NewDefaultRulesEngine())
			for _, n := range ops {
				applyAgencyOp(store, n)
			}
			var err error
			_ = store.View(context.Background(), func(v domain.TransactionView) error {
				events := v.ListEvents(0, 0)
				if uint64(len(events)) != v.EventCount() {
					err = fmt.Errorf("count mismatch")
					return nil
				}
				err = domain.VerifyChain(events, 0, domain.GenesisHash)
				return nil
			})
			return err == nil
		},
		gen.SliceOf(gen.IntRange(0, 47)),
	))

	properties.TestingRun(t)
}
