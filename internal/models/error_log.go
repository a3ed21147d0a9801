package models

import "strings"

// SyncErrorEntry is one diagnostic report from a terminal
type SyncErrorEntry struct {
	TerminalID string `json:"terminalId"`
	Error      string `json:"error"`
	ItemType   string `json:"itemType,omitempty"`
	ItemID     string `json:"itemId,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Millis returns the report time in epoch ms, or 0 when it cannot be parsed
func (e SyncErrorEntry) Millis() int64 {
	ms, _ := toMillis(e.Timestamp)
	return ms
}

// ReportErrorRequest is the body of POST /errors
type ReportErrorRequest struct {
	TerminalID string `json:"terminalId"`
	Error      string `json:"error"`
	ItemType   string `json:"itemType"`
	ItemID     string `json:"itemId"`
}

// ErrorLogResponse for GET /errors
type ErrorLogResponse struct {
	Success bool             `json:"success"`
	Errors  []SyncErrorEntry `json:"errors"`
	Count   int              `json:"count"`
}

// Validate checks the report carries an error message
func (r *ReportErrorRequest) Validate() error {
	if strings.TrimSpace(r.Error) == "" {
		return Validationf("error is required")
	}
	return nil
}

// AppendBounded appends entry and evicts the oldest entries beyond limit
func AppendBounded(log []SyncErrorEntry, entry SyncErrorEntry, limit int) []SyncErrorEntry {
	log = append(log, entry)
	if limit > 0 && len(log) > limit {
		log = append([]SyncErrorEntry(nil), log[len(log)-limit:]...)
	}
	return log
}
