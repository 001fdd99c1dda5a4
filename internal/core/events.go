package core

import (
	"context"
	"fmt"

	"tracecore/pkg/domain"
)

const opRecordEvent = "record_event"

// RecordEvent appends a caller-supplied event. The owner, an administrator or
// a whitelisted component may record; anyone else is rejected and nothing is
// written.
func (s *Service) RecordEvent(ctx context.Context, caller Caller, eventType, payload string) (domain.Event, error) {
	var recorded domain.Event
	_, err := s.mutate(ctx, opRecordEvent, caller, eventType, func(tx Transaction) error {
		allowed := isOwner(tx, caller) || isAdministrator(tx, caller) || isAuthorizedCaller(tx, caller)
		if err := authorize(opRecordEvent, caller, allowed); err != nil {
			return err
		}
		if err := domain.CheckIdentifier(opRecordEvent, "event_type", eventType, domain.MaxEventTypeLen); err != nil {
			return err
		}
		if err := domain.CheckLength(opRecordEvent, "payload", payload, domain.MaxEventPayloadLen); err != nil {
			return err
		}
		if err := domain.CheckActor(opRecordEvent, "caller", caller.Principal); err != nil {
			return err
		}
		var err error
		recorded, err = tx.AppendEvent(eventType, payload, caller.Principal)
		return err
	})
	if err != nil {
		return domain.Event{}, err
	}
	return recorded, nil
}

// GetEvent returns the event with id, or false when it was never written.
func (s *Service) GetEvent(ctx context.Context, id uint64) (domain.Event, bool) {
	var (
		ev domain.Event
		ok bool
	)
	s.view(ctx, func(v TransactionView) { ev, ok = v.FindEvent(id) })
	return ev, ok
}

// EventCount returns the number of events written, which is also the next id.
func (s *Service) EventCount(ctx context.Context) uint64 {
	var n uint64
	s.view(ctx, func(v TransactionView) { n = v.EventCount() })
	return n
}

// ListEvents returns up to limit events in append order starting at from.
func (s *Service) ListEvents(ctx context.Context, from uint64, limit int) []domain.Event {
	var out []domain.Event
	s.view(ctx, func(v TransactionView) { out = v.ListEvents(from, limit) })
	return out
}

// ChainReport summarizes a successful verification.
type ChainReport struct {
	Events   uint64 `json:"events"`
	Height   uint64 `json:"height"`
	HeadHash string `json:"head_hash"`
}

// VerifyEventChain recomputes every event hash and link. The error wraps
// domain.ErrChainBroken and names the first event that fails.
func (s *Service) VerifyEventChain(ctx context.Context) (ChainReport, error) {
	var (
		report ChainReport
		events []domain.Event
	)
	s.view(ctx, func(v TransactionView) {
		events = v.ListEvents(0, 0)
		report.Height = v.Height()
	})
	if err := domain.VerifyChain(events, 0, domain.GenesisHash); err != nil {
		s.opts.logger.Error("event chain verification failed", "error", err)
		return ChainReport{}, err
	}
	report.Events = uint64(len(events))
	report.HeadHash = domain.GenesisHash
	if len(events) > 0 {
		last := events[len(events)-1]
		report.HeadHash = last.Hash
		if last.Height > report.Height {
			return ChainReport{}, domain.ChainBroken(last.ID, fmt.Sprintf("height %d ahead of store height %d", last.Height, report.Height))
		}
	}
	return report, nil
}
