package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"

	"tracecore/internal/blob"
	"tracecore/pkg/domain"
)

// ArchivePrefix is the key prefix of archived events.
const ArchivePrefix = "events/"

// ArchiveKey returns the blob key of event id. Ids are zero padded so the
// lexical key order matches append order.
func ArchiveKey(id uint64) string {
	return fmt.Sprintf("%s%020d.json", ArchivePrefix, id)
}

// archiveBatch bounds how many events one catch-up read pulls from the log.
const archiveBatch = 256

// EventSource reads committed events in append order. *Service implements it.
type EventSource interface {
	ListEvents(ctx context.Context, from uint64, limit int) []domain.Event
}

// BlobArchiver is an EventSink that writes every committed event as an
// immutable JSON object. Once bound to the event log it also archives any
// earlier events missing from the store, so a failed or lost delivery is
// repaired by the next one.
type BlobArchiver struct {
	store blob.Store

	mu     sync.Mutex
	source EventSource
	primed bool
	next   uint64 // every id below next is archived
}

// NewBlobArchiver archives into store. Passing the archiver to NewService via
// WithEventSink binds it to that service's log.
func NewBlobArchiver(store blob.Store) *BlobArchiver {
	return &BlobArchiver{store: store}
}

func (a *BlobArchiver) bindSource(source EventSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = source
}

// Publish implements EventSink. Events already archived with the same hash
// are skipped, so re-publishing is safe; a differing hash is reported. When
// bound to a log, events between the last archived id and the first published
// one are archived first.
func (a *BlobArchiver) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source != nil {
		if err := a.catchUp(ctx, events[0].ID); err != nil {
			return err
		}
	}
	for _, ev := range events {
		if err := a.put(ctx, ev); err != nil {
			return err
		}
		if ev.ID == a.next {
			a.next++
		}
	}
	return nil
}

// Resync archives every logged event missing from the store. Run it at
// startup to repair deliveries lost to a crash between commit and publish.
func (a *BlobArchiver) Resync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.source == nil {
		return errors.New("blob archiver is not bound to an event log")
	}
	return a.catchUp(ctx, math.MaxUint64)
}

// catchUp archives logged events from the first missing id up to, but not
// including, until. It stops early when the log has nothing more.
func (a *BlobArchiver) catchUp(ctx context.Context, until uint64) error {
	if !a.primed {
		next, err := archivedPrefix(ctx, a.store)
		if err != nil {
			return fmt.Errorf("scan archive: %w", err)
		}
		a.next, a.primed = next, true
	}
	for a.next < until {
		limit := archiveBatch
		if remaining := until - a.next; remaining < uint64(limit) {
			limit = int(remaining)
		}
		batch := a.source.ListEvents(ctx, a.next, limit)
		if len(batch) == 0 {
			return nil
		}
		for _, ev := range batch {
			if err := a.put(ctx, ev); err != nil {
				return err
			}
			a.next = ev.ID + 1
		}
	}
	return nil
}

// archivedPrefix returns the length of the gap-free run of archived ids
// starting at zero.
func archivedPrefix(ctx context.Context, store blob.Store) (uint64, error) {
	infos, err := store.List(ctx, ArchivePrefix)
	if err != nil {
		return 0, err
	}
	var next uint64
	for _, info := range infos {
		if info.Key != ArchiveKey(next) {
			break
		}
		next++
	}
	return next, nil
}

func (a *BlobArchiver) put(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ArchiveKey(ev.ID)
	_, err = a.store.Put(ctx, key, bytes.NewReader(body), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"event-id":   strconv.FormatUint(ev.ID, 10),
			"event-hash": ev.Hash,
		},
	})
	if !errors.Is(err, blob.ErrExists) {
		return err
	}
	archived, err := readArchived(ctx, a.store, key)
	if err != nil {
		return err
	}
	if archived.Hash != ev.Hash {
		return domain.ChainBroken(ev.ID, fmt.Sprintf("archived hash %s differs from %s", archived.Hash, ev.Hash))
	}
	return nil
}

// ReadArchive loads every archived event in id order.
func ReadArchive(ctx context.Context, store blob.Store) ([]domain.Event, error) {
	infos, err := store.List(ctx, ArchivePrefix)
	if err != nil {
		return nil, err
	}
	events := make([]domain.Event, 0, len(infos))
	for _, info := range infos {
		ev, err := readArchived(ctx, store, info.Key)
		if err != nil {
			return nil, err
		}
		if info.Key != ArchiveKey(ev.ID) {
			return nil, fmt.Errorf("archive object %s holds event %d", info.Key, ev.ID)
		}
		events = append(events, ev)
	}
	return events, nil
}

// VerifyArchive checks the archived events form an intact chain from genesis.
func VerifyArchive(ctx context.Context, store blob.Store) (ChainReport, error) {
	events, err := ReadArchive(ctx, store)
	if err != nil {
		return ChainReport{}, err
	}
	if err := domain.VerifyChain(events, 0, domain.GenesisHash); err != nil {
		return ChainReport{}, err
	}
	report := ChainReport{Events: uint64(len(events)), HeadHash: domain.GenesisHash}
	if len(events) > 0 {
		last := events[len(events)-1]
		report.HeadHash = last.Hash
		report.Height = last.Height
	}
	return report, nil
}

func readArchived(ctx context.Context, store blob.Store, key string) (domain.Event, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return domain.Event{}, err
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		return domain.Event{}, err
	}
	var ev domain.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return ev, nil
}
