// Package core implements the traceability core as a single Service: access
// control, the event log, the regulatory agency registry and the safety
// threshold registry. Every mutation runs as one store transaction covering
// authorization, validation, the state change and its event.
package core

import (
	"context"
	"time"

	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"
)

type (
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
	// Result aliases domain.Result.
	Result = domain.Result
	// Caller aliases domain.Caller.
	Caller = domain.Caller
	// ActorID aliases domain.ActorID.
	ActorID = domain.ActorID
)

// Service exposes the core operations over a persistent store.
type Service struct {
	store PersistentStore
	opts  serviceOptions
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newService(store, o)
}

// NewInMemoryService creates a service over a fresh in-memory store deployed
// by deployer. The service clock also stamps events.
func NewInMemoryService(deployer ActorID, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	store := memory.NewStore(deployer, domain.NewDefaultRulesEngine(), memory.WithClock(o.clock.Now))
	return newService(store, o)
}

// sourceBinder is implemented by sinks that read committed events back from
// the log to fill gaps left by failed deliveries.
type sourceBinder interface {
	bindSource(EventSource)
}

func newService(store PersistentStore, o serviceOptions) *Service {
	s := &Service{store: store, opts: o}
	for _, sink := range o.sinks {
		if b, ok := sink.(sourceBinder); ok {
			b.bindSource(s)
		}
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

var operations = map[string]operationMeta{
	opTransferOwnership:     {domain.EntityConfig, domain.ActionUpdate},
	opAddAdministrator:      {domain.EntityAdministrator, domain.ActionCreate},
	opRemoveAdministrator:   {domain.EntityAdministrator, domain.ActionDelete},
	opWhitelistCaller:       {domain.EntityCaller, domain.ActionCreate},
	opRemoveCallerWhitelist: {domain.EntityCaller, domain.ActionDelete},
	opUpdateSystemStatus:    {domain.EntityConfig, domain.ActionUpdate},
	opUpdateSystemVersion:   {domain.EntityConfig, domain.ActionUpdate},
	opRecordEvent:           {domain.EntityEvent, domain.ActionCreate},
	opRegisterAgency:        {domain.EntityAgency, domain.ActionCreate},
	opUpdateAgency:          {domain.EntityAgency, domain.ActionUpdate},
	opRemoveAgency:          {domain.EntityAgency, domain.ActionDelete},
	opSetThreshold:          {domain.EntityThreshold, domain.ActionUpdate},
}

// mutate runs fn as one transaction and reports the outcome to every
// observability seam. Committed events go to the sinks afterwards.
func (s *Service) mutate(ctx context.Context, op string, caller Caller, key string, fn func(tx Transaction) error) (Result, error) {
	ctx, span := s.opts.tracer.Start(ctx, op)
	started := s.opts.clock.Now()
	res, err := s.store.RunInTransaction(ctx, fn)
	duration := s.opts.clock.Now().Sub(started)
	span.End(err)
	s.opts.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, caller, key, res, err, duration)
	if err != nil {
		s.opts.logger.Warn("operation rejected",
			"operation", op,
			"principal", caller.Principal,
			"caller_component", caller.Component,
			"key", key,
			"code", domain.Code(err),
			"error", err,
		)
		return Result{}, err
	}
	s.opts.logger.Debug("operation committed",
		"operation", op,
		"principal", caller.Principal,
		"key", key,
		"height", res.Height,
		"events", len(res.Events),
	)
	s.publish(ctx, res.Events)
	return res, nil
}

func (s *Service) publish(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	for _, sink := range s.opts.sinks {
		if err := sink.Publish(ctx, events); err != nil {
			s.opts.logger.Error("event sink failed",
				"first_event", events[0].ID,
				"events", len(events),
				"error", err,
			)
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, op string, caller Caller, key string, res Result, err error, duration time.Duration) {
	meta, ok := operations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  key,
		Principal: caller.Principal,
		Component: caller.Component,
		Status:    AuditStatusSuccess,
		Height:    res.Height,
		Duration:  duration,
		Timestamp: s.opts.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		entry.Code = domain.Code(err)
	}
	s.opts.audit.Record(ctx, entry)
}

// view runs fn against a read-only snapshot. Store views only fail when fn
// does, and read functions never return errors, so failures are logged.
func (s *Service) view(ctx context.Context, fn func(v TransactionView)) {
	if err := s.store.View(ctx, func(v TransactionView) error {
		fn(v)
		return nil
	}); err != nil {
		s.opts.logger.Error("view failed", "error", err)
	}
}

// Height returns the logical height of the last committed transaction.
func (s *Service) Height(ctx context.Context) uint64 {
	var h uint64
	s.view(ctx, func(v TransactionView) { h = v.Height() })
	return h
}
