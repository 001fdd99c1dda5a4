// Package domain defines the records, caller identities, error taxonomy and
// transactional persistence contracts shared by the tracecore components.
package domain

import "time"

// ActorID is an opaque identifier for any caller: a human operator, a
// regulatory agency, a service or a collaborating component.
type ActorID string

// String returns the raw identifier.
func (a ActorID) String() string { return string(a) }

// Caller carries both identities involved in an invocation. Principal is the
// ultimate actor on whose behalf the operation runs. Component is the
// immediate calling component when the call was relayed; it is empty for
// direct calls.
type Caller struct {
	Principal ActorID `json:"principal"`
	Component ActorID `json:"component,omitempty"`
}

// Direct builds a Caller for an actor invoking an operation without an
// intermediate component.
func Direct(principal ActorID) Caller {
	return Caller{Principal: principal}
}

// Via builds a Caller for a principal whose request is relayed by component.
func Via(principal, component ActorID) Caller {
	return Caller{Principal: principal, Component: component}
}

// Immediate returns the identity of the component that issued the call. For
// direct calls that is the principal itself.
func (c Caller) Immediate() ActorID {
	if c.Component != "" {
		return c.Component
	}
	return c.Principal
}

// EntityType identifies the table a Change touched.
type EntityType string

// Tables of the persisted state.
const (
	EntityConfig        EntityType = "config"
	EntityAdministrator EntityType = "administrator"
	EntityCaller        EntityType = "authorized_caller"
	EntityAgency        EntityType = "agency"
	EntityThreshold     EntityType = "threshold"
	EntityEvent         EntityType = "event"
)

// Action indicates the type of modification performed.
type Action string

// Change actions captured per transaction.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change records a single mutation within a transaction. Actors lists the
// identities whose index entries may have moved (old and new agency actors).
type Change struct {
	Entity EntityType
	Action Action
	Key    string
	Actors []ActorID
}

// Default system configuration values.
const (
	DefaultStatus        = "operational"
	DefaultVersion       = "1.0.0"
	CurrentSchemaVersion = 1
)

// SystemConfig holds the singleton scalars of the system.
type SystemConfig struct {
	Owner         ActorID `json:"owner"`
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	SchemaVersion int     `json:"schema_version"`
}

// NewSystemConfig returns the configuration of a freshly deployed system.
func NewSystemConfig(deployer ActorID) SystemConfig {
	return SystemConfig{
		Owner:         deployer,
		Status:        DefaultStatus,
		Version:       DefaultVersion,
		SchemaVersion: CurrentSchemaVersion,
	}
}

// Agency is a registered regulatory agency.
type Agency struct {
	ID           string  `json:"id"`
	Actor        ActorID `json:"actor"`
	Name         string  `json:"name"`
	Jurisdiction string  `json:"jurisdiction"`
	AccessLevel  uint32  `json:"access_level"`
}

// Threshold is the safety envelope of a monitored parameter. No ordering is
// enforced between Min, Max and Critical.
type Threshold struct {
	ParameterID string `json:"parameter_id"`
	Min         int64  `json:"min"`
	Max         int64  `json:"max"`
	Critical    int64  `json:"critical"`
	Unit        string `json:"unit"`
}

// Within reports whether value lies in [Min, Max].
func (t Threshold) Within(value int64) bool {
	return t.Min <= value && value <= t.Max
}

// IsCritical reports whether value reaches the critical level. The comparison
// is always value >= Critical, so a critical level meant as a lower danger
// bound never fires.
func (t Threshold) IsCritical(value int64) bool {
	return value >= t.Critical
}

// ThresholdStatus classifies a measured value against a threshold.
type ThresholdStatus string

// Threshold classifications.
const (
	ThresholdUnset      ThresholdStatus = "unset"
	ThresholdWithin     ThresholdStatus = "within"
	ThresholdOutOfRange ThresholdStatus = "out-of-range"
	ThresholdCritical   ThresholdStatus = "critical"
)

// Classify combines Within and IsCritical; critical takes precedence.
func (t Threshold) Classify(value int64) ThresholdStatus {
	switch {
	case t.IsCritical(value):
		return ThresholdCritical
	case t.Within(value):
		return ThresholdWithin
	default:
		return ThresholdOutOfRange
	}
}

// Event is an immutable audit trail record. Height is the logical timestamp
// of the transaction that appended it; RecordedAt is informational wall time.
type Event struct {
	ID         uint64    `json:"id"`
	Type       string    `json:"type"`
	Payload    string    `json:"payload"`
	Actor      ActorID   `json:"actor"`
	Height     uint64    `json:"height"`
	RecordedAt time.Time `json:"recorded_at"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// Event types appended by the core components.
const (
	EventOwnershipTransferred = "ownership-transferred"
	EventAdminAdded           = "admin-added"
	EventAdminRemoved         = "admin-removed"
	EventCallerWhitelisted    = "caller-whitelisted"
	EventCallerRemoved        = "caller-removed"
	EventStatusChange         = "status-change"
	EventVersionUpdate        = "version-update"
	EventAgencyRegistered     = "agency-registered"
	EventAgencyUpdated        = "agency-updated"
	EventAgencyRemoved        = "agency-removed"
	EventThresholdSet         = "threshold-set"
)
