// Package memory provides the in-memory implementation of the core persistence
// store. It is authoritative for transactions; durable backends embed it and
// snapshot its state after each commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tracecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// ActorID aliases domain.ActorID.
	ActorID = domain.ActorID
	// Agency aliases domain.Agency.
	Agency = domain.Agency
	// Threshold aliases domain.Threshold.
	Threshold = domain.Threshold
	// Event aliases domain.Event.
	Event = domain.Event
	// SystemConfig aliases domain.SystemConfig.
	SystemConfig = domain.SystemConfig
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing a commit.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	config        SystemConfig
	height        uint64
	admins        map[ActorID]struct{}
	callers       map[ActorID]struct{}
	agencies      map[string]Agency
	agencyByActor map[ActorID]string
	thresholds    map[string]Threshold
	events        []Event
}

func newMemoryState(deployer ActorID) memoryState {
	state := memoryState{
		config:        domain.NewSystemConfig(deployer),
		admins:        make(map[ActorID]struct{}),
		callers:       make(map[ActorID]struct{}),
		agencies:      make(map[string]Agency),
		agencyByActor: make(map[ActorID]string),
		thresholds:    make(map[string]Threshold),
	}
	if deployer != "" {
		state.admins[deployer] = struct{}{}
	}
	return state
}

// clone copies every table. Events are append-only, so the clone shares the
// backing array but caps it at the current length; appends inside a
// transaction always reallocate and never touch committed records.
func (s memoryState) clone() memoryState {
	out := memoryState{
		config:        s.config,
		height:        s.height,
		admins:        make(map[ActorID]struct{}, len(s.admins)),
		callers:       make(map[ActorID]struct{}, len(s.callers)),
		agencies:      make(map[string]Agency, len(s.agencies)),
		agencyByActor: make(map[ActorID]string, len(s.agencyByActor)),
		thresholds:    make(map[string]Threshold, len(s.thresholds)),
		events:        s.events[:len(s.events):len(s.events)],
	}
	for k := range s.admins {
		out.admins[k] = struct{}{}
	}
	for k := range s.callers {
		out.callers[k] = struct{}{}
	}
	for k, v := range s.agencies {
		out.agencies[k] = v
	}
	for k, v := range s.agencyByActor {
		out.agencyByActor[k] = v
	}
	for k, v := range s.thresholds {
		out.thresholds[k] = v
	}
	return out
}

// CommitHook is invoked under the writer lock with the state a transaction is
// about to commit. Returning an error aborts the commit.
type CommitHook func(ctx context.Context, snapshot Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithCommitHook registers a hook that must succeed before state is swapped.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
}

// NewStore constructs an in-memory store initialized for deployer: the
// deployer owns the system and is its first administrator.
func NewStore(deployer ActorID, engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(deployer),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot after
// migrating it to the current schema.
func (s *Store) ImportState(snapshot Snapshot) error {
	state, err := memoryStateFromSnapshot(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only if fn succeeds, no rule blocks
// and the commit hook (if any) accepts it. A transaction that changed nothing
// does not advance the logical height.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state:  s.state.clone(),
		height: s.state.height + 1,
		now:    s.nowFn().UTC(),
	}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}
	if len(tx.changes) == 0 {
		return Result{Height: s.state.height}, nil
	}
	tx.state.height = tx.height

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, transactionView{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}
	if s.hook != nil {
		if err := s.hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return Result{}, fmt.Errorf("commit: %w", err)
		}
	}

	s.state = tx.state
	result.Height = tx.height
	result.Events = append([]Event(nil), tx.appended...)
	return result, nil
}

// View executes fn against the committed state under the reader lock.
// Views may run concurrently with each other but never with a commit.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(transactionView{state: &s.state})
}

type transactionView struct {
	state *memoryState
}

func (v transactionView) Config() SystemConfig { return v.state.config }

func (v transactionView) Height() uint64 { return v.state.height }

func (v transactionView) IsAdministrator(actor ActorID) bool {
	_, ok := v.state.admins[actor]
	return ok
}

func (v transactionView) IsAuthorizedCaller(actor ActorID) bool {
	_, ok := v.state.callers[actor]
	return ok
}

func (v transactionView) Administrators() []ActorID { return sortedActors(v.state.admins) }

func (v transactionView) AuthorizedCallers() []ActorID { return sortedActors(v.state.callers) }

func (v transactionView) FindAgency(id string) (Agency, bool) {
	a, ok := v.state.agencies[id]
	return a, ok
}

func (v transactionView) AgencyIDForActor(actor ActorID) (string, bool) {
	id, ok := v.state.agencyByActor[actor]
	return id, ok
}

func (v transactionView) ListAgencies() []Agency {
	out := make([]Agency, 0, len(v.state.agencies))
	for _, a := range v.state.agencies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindThreshold(parameterID string) (Threshold, bool) {
	t, ok := v.state.thresholds[parameterID]
	return t, ok
}

func (v transactionView) ListThresholds() []Threshold {
	out := make([]Threshold, 0, len(v.state.thresholds))
	for _, t := range v.state.thresholds {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParameterID < out[j].ParameterID })
	return out
}

func (v transactionView) FindEvent(id uint64) (Event, bool) {
	if id >= uint64(len(v.state.events)) {
		return Event{}, false
	}
	return v.state.events[id], true
}

func (v transactionView) EventCount() uint64 { return uint64(len(v.state.events)) }

// ListEvents returns events in append order starting at from. A non-positive
// limit returns everything that follows.
func (v transactionView) ListEvents(from uint64, limit int) []Event {
	total := uint64(len(v.state.events))
	if from >= total {
		return []Event{}
	}
	end := total
	if limit > 0 && from+uint64(limit) < total {
		end = from + uint64(limit)
	}
	return append([]Event(nil), v.state.events[from:end]...)
}

func sortedActors(set map[ActorID]struct{}) []ActorID {
	out := make([]ActorID, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type transaction struct {
	transactionView
	state    memoryState
	height   uint64
	now      time.Time
	changes  []Change
	appended []Event
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// SetOwner replaces the system owner.
func (tx *transaction) SetOwner(owner ActorID) {
	tx.state.config.Owner = owner
	tx.recordChange(Change{Entity: domain.EntityConfig, Action: domain.ActionUpdate, Key: "owner"})
}

// SetAdministrator adds or removes actor from the administrator set.
func (tx *transaction) SetAdministrator(actor ActorID, present bool) {
	tx.recordChange(toggle(tx.state.admins, actor, present, domain.EntityAdministrator))
}

// SetAuthorizedCaller adds or removes actor from the authorized-caller set.
func (tx *transaction) SetAuthorizedCaller(actor ActorID, present bool) {
	tx.recordChange(toggle(tx.state.callers, actor, present, domain.EntityCaller))
}

func toggle(set map[ActorID]struct{}, actor ActorID, present bool, entity domain.EntityType) Change {
	if present {
		set[actor] = struct{}{}
		return Change{Entity: entity, Action: domain.ActionCreate, Key: string(actor)}
	}
	delete(set, actor)
	return Change{Entity: entity, Action: domain.ActionDelete, Key: string(actor)}
}

// SetStatus replaces the operational status.
func (tx *transaction) SetStatus(status string) {
	tx.state.config.Status = status
	tx.recordChange(Change{Entity: domain.EntityConfig, Action: domain.ActionUpdate, Key: "status"})
}

// SetVersion replaces the system version.
func (tx *transaction) SetVersion(version string) {
	tx.state.config.Version = version
	tx.recordChange(Change{Entity: domain.EntityConfig, Action: domain.ActionUpdate, Key: "version"})
}

// CreateAgency stores a new agency and its reverse index entry.
func (tx *transaction) CreateAgency(a Agency) (Agency, error) {
	if _, exists := tx.state.agencies[a.ID]; exists {
		return Agency{}, domain.AlreadyExists("create_agency", a.ID)
	}
	if other, bound := tx.state.agencyByActor[a.Actor]; bound {
		return Agency{}, &domain.Error{Op: "create_agency", Key: a.ID, Detail: fmt.Sprintf("actor %s already bound to %s", a.Actor, other), Err: domain.ErrAlreadyExists}
	}
	tx.state.agencies[a.ID] = a
	tx.state.agencyByActor[a.Actor] = a.ID
	tx.recordChange(Change{Entity: domain.EntityAgency, Action: domain.ActionCreate, Key: a.ID, Actors: []ActorID{a.Actor}})
	return a, nil
}

// UpdateAgency mutates an existing agency. When the mutator changes the
// agency's actor, the stale reverse entry is replaced in the same step.
func (tx *transaction) UpdateAgency(id string, mutator func(*Agency) error) (Agency, error) {
	current, ok := tx.state.agencies[id]
	if !ok {
		return Agency{}, domain.DoesNotExist("update_agency", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Agency{}, err
	}
	current.ID = id
	if current.Actor != before.Actor {
		if other, bound := tx.state.agencyByActor[current.Actor]; bound && other != id {
			return Agency{}, &domain.Error{Op: "update_agency", Key: id, Detail: fmt.Sprintf("actor %s already bound to %s", current.Actor, other), Err: domain.ErrAlreadyExists}
		}
		delete(tx.state.agencyByActor, before.Actor)
		tx.state.agencyByActor[current.Actor] = id
	}
	tx.state.agencies[id] = current
	tx.recordChange(Change{Entity: domain.EntityAgency, Action: domain.ActionUpdate, Key: id, Actors: []ActorID{before.Actor, current.Actor}})
	return current, nil
}

// DeleteAgency removes an agency and its reverse index entry.
func (tx *transaction) DeleteAgency(id string) (Agency, error) {
	current, ok := tx.state.agencies[id]
	if !ok {
		return Agency{}, domain.DoesNotExist("delete_agency", id)
	}
	delete(tx.state.agencyByActor, current.Actor)
	delete(tx.state.agencies, id)
	tx.recordChange(Change{Entity: domain.EntityAgency, Action: domain.ActionDelete, Key: id, Actors: []ActorID{current.Actor}})
	return current, nil
}

// PutThreshold upserts a threshold and reports whether one was replaced.
func (tx *transaction) PutThreshold(t Threshold) bool {
	_, replaced := tx.state.thresholds[t.ParameterID]
	tx.state.thresholds[t.ParameterID] = t
	action := domain.ActionCreate
	if replaced {
		action = domain.ActionUpdate
	}
	tx.recordChange(Change{Entity: domain.EntityThreshold, Action: action, Key: t.ParameterID})
	return replaced
}

// AppendEvent seals and appends the next event of the log.
func (tx *transaction) AppendEvent(eventType, payload string, actor ActorID) (Event, error) {
	id := uint64(len(tx.state.events))
	prev := domain.GenesisHash
	if id > 0 {
		prev = tx.state.events[id-1].Hash
	}
	event, err := Event{
		ID:         id,
		Type:       eventType,
		Payload:    payload,
		Actor:      actor,
		Height:     tx.height,
		RecordedAt: tx.now,
	}.Seal(prev)
	if err != nil {
		return Event{}, err
	}
	tx.state.events = append(tx.state.events, event)
	tx.appended = append(tx.appended, event)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, Key: fmt.Sprintf("%d", id)})
	return event, nil
}
