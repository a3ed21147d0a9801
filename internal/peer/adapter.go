// Package peer is the degraded-mode variant of the sync protocol used when no
// central server is reachable. Peers on the same device exchange changes
// through a shared Medium and wake each other with local events.
//
// Only the latest change of each collection is kept. A consumer that misses
// two pushes in a row sees the second one only.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
)

// Change actions
const (
	ActionReplace = "replace"
	ActionUpsert  = "upsert"
	ActionDelete  = "delete"
)

const (
	changeKeyPrefix = "tillsync.peer.change."
	metaKeyPrefix   = "tillsync.peer.meta."
)

// Change is the single latest-change record of a collection
type Change struct {
	Collection string          `json:"collection"`
	Action     string          `json:"action"`
	Items      []models.Record `json:"items"`
	Version    int64           `json:"version"`
	Timestamp  string          `json:"timestamp"`
}

// Event is emitted to local subscribers after every push
type Event struct {
	Collection string
	Action     string
	Version    int64
}

// PullResult mirrors the server's versioned pull
type PullResult struct {
	Collection string
	Action     string
	Items      []models.Record
	Version    int64
	UpToDate   bool
}

// Adapter speaks the push/pull/metadata protocol against a Medium
type Adapter struct {
	medium Medium
	now    func() time.Time

	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{} // collection ("" = all) -> subscribers
	pushMu sync.Mutex
}

// NewAdapter creates an adapter over medium
func NewAdapter(medium Medium) *Adapter {
	return &Adapter{
		medium: medium,
		now:    func() time.Time { return time.Now().UTC() },
		subs:   make(map[string]map[chan Event]struct{}),
	}
}

// Push overwrites the collection's latest change and metadata, then wakes
// subscribers. Versions strictly increase within one medium.
func (a *Adapter) Push(ctx context.Context, collection string, items []models.Record, action string) (models.SyncMetadata, error) {
	if !repository.ValidCollectionName(collection) {
		return models.SyncMetadata{}, models.ErrInvalidCollection
	}
	if action == "" {
		action = ActionUpsert
	}
	if items == nil {
		items = []models.Record{}
	}

	a.pushMu.Lock()
	meta, err := a.write(ctx, collection, items, action)
	a.pushMu.Unlock()
	if err != nil {
		return meta, err
	}

	a.emit(Event{Collection: collection, Action: action, Version: meta.Version})
	return meta, nil
}

func (a *Adapter) write(ctx context.Context, collection string, items []models.Record, action string) (models.SyncMetadata, error) {
	prev, _, err := a.GetMetadata(ctx, collection)
	if err != nil {
		return prev, err
	}

	// The medium only holds the latest change, so unlike the store a repeated
	// version would hide a write from peers already at that version
	meta := prev.Next(a.now(), len(items))
	if meta.Version == prev.Version {
		meta.Version++
	}
	version := meta.Version

	change, err := json.Marshal(Change{
		Collection: collection,
		Action:     action,
		Items:      items,
		Version:    version,
		Timestamp:  meta.LastUpdated,
	})
	if err != nil {
		return meta, fmt.Errorf("encode change of %s: %w", collection, err)
	}
	if err := a.medium.Put(ctx, changeKeyPrefix+collection, change); err != nil {
		return meta, fmt.Errorf("write change of %s: %w", collection, err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return meta, err
	}
	if err := a.medium.Put(ctx, metaKeyPrefix+collection, data); err != nil {
		return meta, fmt.Errorf("write metadata of %s: %w", collection, err)
	}
	return meta, nil
}

// Pull returns the latest change's items when its version is newer than
// sinceVersion, or unconditionally when sinceVersion is nil
func (a *Adapter) Pull(ctx context.Context, collection string, sinceVersion *int64) (*PullResult, error) {
	if !repository.ValidCollectionName(collection) {
		return nil, models.ErrInvalidCollection
	}

	result := &PullResult{Collection: collection, Items: []models.Record{}}

	raw, ok, err := a.medium.Get(ctx, changeKeyPrefix+collection)
	if err != nil {
		return nil, fmt.Errorf("read change of %s: %w", collection, err)
	}
	if !ok {
		result.UpToDate = sinceVersion != nil
		return result, nil
	}

	var change Change
	if err := decode(raw, &change); err != nil {
		observability.WithField("collection", collection).Warnf("Undecodable peer change: %v", err)
		return result, nil
	}

	result.Version = change.Version
	result.Action = change.Action
	if sinceVersion != nil && change.Version <= *sinceVersion {
		result.UpToDate = true
		return result, nil
	}
	if change.Items != nil {
		result.Items = change.Items
	}
	return result, nil
}

// GetMetadata returns the collection's metadata. ok is false when nothing
// was ever pushed.
func (a *Adapter) GetMetadata(ctx context.Context, collection string) (models.SyncMetadata, bool, error) {
	var meta models.SyncMetadata
	raw, ok, err := a.medium.Get(ctx, metaKeyPrefix+collection)
	if err != nil {
		return meta, false, fmt.Errorf("read metadata of %s: %w", collection, err)
	}
	if !ok {
		return meta, false, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return models.SyncMetadata{}, false, fmt.Errorf("decode metadata of %s: %w", collection, err)
	}
	return meta, true, nil
}

// HasNewData reports whether the collection changed after sinceVersion
func (a *Adapter) HasNewData(ctx context.Context, collection string, sinceVersion int64) (bool, error) {
	meta, ok, err := a.GetMetadata(ctx, collection)
	if err != nil || !ok {
		return false, err
	}
	return meta.Version > sinceVersion, nil
}

// Subscribe returns a channel of push events for collection, or for every
// collection when collection is empty. Events are dropped for subscribers
// that are not keeping up. Call the returned function to unsubscribe.
func (a *Adapter) Subscribe(collection string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	a.mu.Lock()
	if a.subs[collection] == nil {
		a.subs[collection] = make(map[chan Event]struct{})
	}
	a.subs[collection][ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs[collection], ch)
			if len(a.subs[collection]) == 0 {
				delete(a.subs, collection)
			}
			a.mu.Unlock()
			close(ch)
		})
	}
}

func (a *Adapter) emit(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, key := range []string{ev.Collection, ""} {
		for ch := range a.subs[key] {
			select {
			case ch <- ev:
			default:
				observability.WithField("collection", ev.Collection).Debug("Peer subscriber lagging, event dropped")
			}
		}
	}
}

// decode keeps item numbers as json.Number, like records read from the server
func decode(raw json.RawMessage, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dest)
}
