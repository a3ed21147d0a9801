package models

import "time"

// SyncMetadata is the per-collection change marker
type SyncMetadata struct {
	Version     int64  `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	ItemCount   int    `json:"itemCount"`
}

// NewSyncMetadata stamps a metadata record at now
func NewSyncMetadata(now time.Time, itemCount int) SyncMetadata {
	return SyncMetadata{
		Version:     now.UnixMilli(),
		LastUpdated: FormatMillis(now.UnixMilli()),
		ItemCount:   itemCount,
	}
}

// Next returns the metadata after a change at now. The version never goes below
// the current one.
func (m SyncMetadata) Next(now time.Time, itemCount int) SyncMetadata {
	next := NewSyncMetadata(now, itemCount)
	if next.Version < m.Version {
		next.Version = m.Version
	}
	return next
}

// IsUpToDate reports whether a client holding clientVersion has the latest data
func (m SyncMetadata) IsUpToDate(clientVersion int64) bool {
	return clientVersion >= m.Version
}
