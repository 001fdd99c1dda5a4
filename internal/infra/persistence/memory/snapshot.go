package memory

import (
	"encoding/json"
	"fmt"

	"tracecore/pkg/domain"
)

// Snapshot captures a point-in-time clone of the store state. The
// agencies-by-actor index is not part of it; it is rebuilt on import.
type Snapshot struct {
	Config         SystemConfig         `json:"config"`
	Height         uint64               `json:"height"`
	Administrators []ActorID            `json:"administrators"`
	Callers        []ActorID            `json:"callers"`
	Agencies       map[string]Agency    `json:"agencies"`
	Thresholds     map[string]Threshold `json:"thresholds"`
	Events         []Event              `json:"events"`
}

// Bucket names used by the durable backends, one row each.
const (
	BucketConfig         = "config"
	BucketAdministrators = "administrators"
	BucketCallers        = "callers"
	BucketAgencies       = "agencies"
	BucketThresholds     = "thresholds"
	BucketEvents         = "events"
)

// Buckets lists every bucket in write order.
var Buckets = []string{BucketConfig, BucketAdministrators, BucketCallers, BucketAgencies, BucketThresholds, BucketEvents}

type configBucket struct {
	SystemConfig
	Height uint64 `json:"height"`
}

func (s *Snapshot) bucketTargets() map[string]any {
	return map[string]any{
		BucketAdministrators: &s.Administrators,
		BucketCallers:        &s.Callers,
		BucketAgencies:       &s.Agencies,
		BucketThresholds:     &s.Thresholds,
		BucketEvents:         &s.Events,
	}
}

// EncodeBuckets serializes the snapshot into one JSON payload per bucket.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	data, err := json.Marshal(configBucket{SystemConfig: s.Config, Height: s.Height})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BucketConfig, err)
	}
	out[BucketConfig] = data
	for bucket, src := range s.bucketTargets() {
		data, err := json.Marshal(src)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from bucket payloads. Unknown buckets are
// ignored and missing ones decode as empty.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var s Snapshot
	if raw := payloads[BucketConfig]; len(raw) > 0 {
		var cfg configBucket
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", BucketConfig, err)
		}
		s.Config = cfg.SystemConfig
		s.Height = cfg.Height
	}
	for bucket, target := range s.bucketTargets() {
		raw := payloads[bucket]
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return s, nil
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Config:         state.config,
		Height:         state.height,
		Administrators: sortedActors(state.admins),
		Callers:        sortedActors(state.callers),
		Agencies:       make(map[string]Agency, len(state.agencies)),
		Thresholds:     make(map[string]Threshold, len(state.thresholds)),
		Events:         append([]Event(nil), state.events...),
	}
	for k, v := range state.agencies {
		s.Agencies[k] = v
	}
	for k, v := range state.thresholds {
		s.Thresholds[k] = v
	}
	return s
}

// migrateSnapshot upgrades older snapshots to the current schema. Version 0
// predates the version field and may lack status or version defaults.
func migrateSnapshot(snapshot Snapshot) (Snapshot, error) {
	if snapshot.Config.SchemaVersion > domain.CurrentSchemaVersion {
		return Snapshot{}, fmt.Errorf("snapshot schema version %d is newer than supported %d", snapshot.Config.SchemaVersion, domain.CurrentSchemaVersion)
	}
	if snapshot.Config.Status == "" {
		snapshot.Config.Status = domain.DefaultStatus
	}
	if snapshot.Config.Version == "" {
		snapshot.Config.Version = domain.DefaultVersion
	}
	snapshot.Config.SchemaVersion = domain.CurrentSchemaVersion
	if snapshot.Agencies == nil {
		snapshot.Agencies = map[string]Agency{}
	}
	if snapshot.Thresholds == nil {
		snapshot.Thresholds = map[string]Threshold{}
	}
	return snapshot, nil
}

func memoryStateFromSnapshot(s Snapshot) (memoryState, error) {
	s, err := migrateSnapshot(s)
	if err != nil {
		return memoryState{}, err
	}
	state := newMemoryState("")
	state.config = s.Config
	state.height = s.Height
	for _, a := range s.Administrators {
		state.admins[a] = struct{}{}
	}
	for _, c := range s.Callers {
		state.callers[c] = struct{}{}
	}
	for id, a := range s.Agencies {
		if a.ID != id {
			return memoryState{}, fmt.Errorf("agency keyed %q carries id %q", id, a.ID)
		}
		if other, bound := state.agencyByActor[a.Actor]; bound {
			return memoryState{}, fmt.Errorf("actor %s bound to agencies %q and %q", a.Actor, other, id)
		}
		state.agencies[id] = a
		state.agencyByActor[a.Actor] = id
	}
	for id, t := range s.Thresholds {
		t.ParameterID = id
		state.thresholds[id] = t
	}
	for i, e := range s.Events {
		if e.ID != uint64(i) {
			return memoryState{}, fmt.Errorf("event at position %d has id %d", i, e.ID)
		}
	}
	state.events = append([]Event(nil), s.Events...)
	return state, nil
}
