package services

import (
	"context"
	"fmt"

	"github.com/tillsync/server/internal/models"
	"github.com/tillsync/server/internal/observability"
	"github.com/tillsync/server/internal/repository"
)

// ChangeNotifier is told about every committed metadata bump
type ChangeNotifier interface {
	CollectionChanged(collection string, meta models.SyncMetadata)
}

// Notifiers fans a change out to several notifiers in order
type Notifiers []ChangeNotifier

func (n Notifiers) CollectionChanged(collection string, meta models.SyncMetadata) {
	for _, notifier := range n {
		notifier.CollectionChanged(collection, meta)
	}
}

// MetadataService tracks the version marker of every collection. Metadata is
// stored in the settings table under sync.meta.<collection>.
type MetadataService struct {
	clock    Clock
	notifier ChangeNotifier
}

// NewMetadataService creates a new MetadataService. notifier may be nil.
func NewMetadataService(clock Clock, notifier ChangeNotifier) *MetadataService {
	return &MetadataService{clock: clock, notifier: notifier}
}

func metaKey(collection string) string {
	return repository.SettingsKeyMetaPrefix + collection
}

// Get returns the collection's metadata, creating it from the current item
// count on first access
func (s *MetadataService) Get(ctx context.Context, q *repository.Queries, collection string) (models.SyncMetadata, error) {
	var meta models.SyncMetadata
	found, err := q.Settings.GetJSON(ctx, metaKey(collection), &meta)
	if err != nil {
		return meta, fmt.Errorf("read metadata of %s: %w", collection, err)
	}
	if found {
		return meta, nil
	}

	count, err := q.Collections.Count(ctx, collection)
	if err != nil {
		return meta, fmt.Errorf("count %s: %w", collection, err)
	}

	meta = models.NewSyncMetadata(s.clock.Now(), count)
	if err := q.Settings.PutJSON(ctx, metaKey(collection), meta); err != nil {
		return meta, fmt.Errorf("create metadata of %s: %w", collection, err)
	}
	return meta, nil
}

// Bump records a change of the collection. The new version is the current
// time in milliseconds, never below the stored version.
func (s *MetadataService) Bump(ctx context.Context, q *repository.Queries, collection string, itemCount int) (models.SyncMetadata, error) {
	var current models.SyncMetadata
	if _, err := q.Settings.GetJSON(ctx, metaKey(collection), &current); err != nil {
		return current, fmt.Errorf("read metadata of %s: %w", collection, err)
	}

	next := current.Next(s.clock.Now(), itemCount)
	if err := q.Settings.PutJSON(ctx, metaKey(collection), next); err != nil {
		return next, fmt.Errorf("bump metadata of %s: %w", collection, err)
	}
	return next, nil
}

// IsUpToDate reports whether clientVersion covers the collection's version
func (s *MetadataService) IsUpToDate(meta models.SyncMetadata, clientVersion int64) bool {
	return meta.IsUpToDate(clientVersion)
}

// Publish notifies subscribers of committed changes
func (s *MetadataService) Publish(changes map[string]models.SyncMetadata) {
	if s.notifier == nil {
		return
	}
	for collection, meta := range changes {
		observability.WithFields(map[string]interface{}{
			"collection": collection,
			"version":    meta.Version,
		}).Debug("Collection changed")
		s.notifier.CollectionChanged(collection, meta)
	}
}
