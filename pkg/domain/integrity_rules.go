package domain

import (
	"context"
	"fmt"
)

// NewDefaultRulesEngine builds an engine with the built-in integrity rules.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(AgencyIndexRule{})
	engine.Register(EventSequenceRule{})
	return engine
}

// AgencyIndexRule blocks commits that would leave the agency table and its
// actor index disagreeing for any agency or actor the transaction touched.
type AgencyIndexRule struct{}

// Name implements Rule.
func (AgencyIndexRule) Name() string { return "agency_index" }

// Evaluate implements Rule.
func (r AgencyIndexRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	var res Result
	block := func(key, msg string) {
		res.Violations = append(res.Violations, Violation{
			Rule:     r.Name(),
			Severity: SeverityBlock,
			Message:  msg,
			Entity:   EntityAgency,
			Key:      key,
		})
	}
	for _, change := range changes {
		if change.Entity != EntityAgency {
			continue
		}
		if agency, ok := view.FindAgency(change.Key); ok {
			if id, ok := view.AgencyIDForActor(agency.Actor); !ok || id != change.Key {
				block(change.Key, fmt.Sprintf("actor %s is not indexed to agency", agency.Actor))
			}
		}
		for _, actor := range change.Actors {
			id, ok := view.AgencyIDForActor(actor)
			if !ok {
				continue
			}
			agency, found := view.FindAgency(id)
			if !found || agency.Actor != actor {
				block(id, fmt.Sprintf("stale index entry for actor %s", actor))
			}
		}
	}
	return res, nil
}

// EventSequenceRule blocks commits whose appended events do not continue the
// log contiguously and link to their predecessor.
type EventSequenceRule struct{}

// Name implements Rule.
func (EventSequenceRule) Name() string { return "event_sequence" }

// Evaluate implements Rule.
func (r EventSequenceRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (Result, error) {
	var res Result
	for _, change := range changes {
		if change.Entity != EntityEvent {
			continue
		}
		var id uint64
		if _, err := fmt.Sscan(change.Key, &id); err != nil {
			return Result{}, fmt.Errorf("event change key %q: %w", change.Key, err)
		}
		event, ok := view.FindEvent(id)
		if !ok {
			res.Violations = append(res.Violations, Violation{Rule: r.Name(), Severity: SeverityBlock, Message: "appended event missing", Entity: EntityEvent, Key: change.Key})
			continue
		}
		prev := GenesisHash
		if id > 0 {
			before, ok := view.FindEvent(id - 1)
			if !ok {
				res.Violations = append(res.Violations, Violation{Rule: r.Name(), Severity: SeverityBlock, Message: "gap before event", Entity: EntityEvent, Key: change.Key})
				continue
			}
			prev = before.Hash
		}
		if event.PrevHash != prev {
			res.Violations = append(res.Violations, Violation{Rule: r.Name(), Severity: SeverityBlock, Message: "event does not link to predecessor", Entity: EntityEvent, Key: change.Key})
		}
	}
	return res, nil
}
