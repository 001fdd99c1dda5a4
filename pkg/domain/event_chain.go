package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// GenesisHash is the PrevHash of the first event in the log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// hashableEvent is the canonical form covered by Event.Hash.
type hashableEvent struct {
	ID         uint64    `json:"id"`
	Type       string    `json:"type"`
	Payload    string    `json:"payload"`
	Actor      ActorID   `json:"actor"`
	Height     uint64    `json:"height"`
	RecordedAt time.Time `json:"recorded_at"`
	PrevHash   string    `json:"prev_hash"`
}

// ComputeHash returns the SHA-256 of the RFC 8785 canonical JSON of every
// field except Hash itself.
func (e Event) ComputeHash() (string, error) {
	raw, err := json.Marshal(hashableEvent{
		ID:         e.ID,
		Type:       e.Type,
		Payload:    e.Payload,
		Actor:      e.Actor,
		Height:     e.Height,
		RecordedAt: e.RecordedAt.UTC(),
		PrevHash:   e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("marshal event %d: %w", e.ID, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize event %d: %w", e.ID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Seal links e to prev and stamps its hash.
func (e Event) Seal(prevHash string) (Event, error) {
	e.PrevHash = prevHash
	hash, err := e.ComputeHash()
	if err != nil {
		return Event{}, err
	}
	e.Hash = hash
	return e, nil
}

// VerifyChain checks that events form a gap-free sequence starting at
// firstID, that each one links to its predecessor (prevHash for the first) and
// that every stored hash matches its content.
func VerifyChain(events []Event, firstID uint64, prevHash string) error {
	for i, e := range events {
		want := firstID + uint64(i)
		if e.ID != want {
			return ChainBroken(want, fmt.Sprintf("found id %d", e.ID))
		}
		if e.PrevHash != prevHash {
			return ChainBroken(e.ID, "previous hash mismatch")
		}
		hash, err := e.ComputeHash()
		if err != nil {
			return err
		}
		if hash != e.Hash {
			return ChainBroken(e.ID, "content hash mismatch")
		}
		if i > 0 && e.Height < events[i-1].Height {
			return ChainBroken(e.ID, "logical time went backwards")
		}
		prevHash = e.Hash
	}
	return nil
}
