package domain

import "context"

// TransactionView provides read-only access to a consistent state snapshot.
// Returned records are copies; mutating them has no effect on the store.
type TransactionView interface {
	Config() SystemConfig
	Height() uint64
	IsAdministrator(actor ActorID) bool
	IsAuthorizedCaller(actor ActorID) bool
	Administrators() []ActorID
	AuthorizedCallers() []ActorID
	FindAgency(id string) (Agency, bool)
	AgencyIDForActor(actor ActorID) (string, bool)
	ListAgencies() []Agency
	FindThreshold(parameterID string) (Threshold, bool)
	ListThresholds() []Threshold
	FindEvent(id uint64) (Event, bool)
	EventCount() uint64
	ListEvents(from uint64, limit int) []Event
}

// Transaction exposes the mutations a persistence implementation must apply
// atomically. Nothing written through a Transaction is visible outside it
// until the enclosing RunInTransaction returns without error.
type Transaction interface {
	TransactionView
	SetOwner(owner ActorID)
	SetAdministrator(actor ActorID, present bool)
	SetAuthorizedCaller(actor ActorID, present bool)
	SetStatus(status string)
	SetVersion(version string)
	CreateAgency(agency Agency) (Agency, error)
	UpdateAgency(id string, mutator func(*Agency) error) (Agency, error)
	DeleteAgency(id string) (Agency, error)
	PutThreshold(threshold Threshold) (replaced bool)
	AppendEvent(eventType, payload string, actor ActorID) (Event, error)
}

// PersistentStore is the abstraction over durable backends. RunInTransaction
// runs fn under an exclusive critical section and commits everything fn did
// or nothing. View runs fn against a read-only snapshot and may run
// concurrently with other views.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
