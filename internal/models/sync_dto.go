package models

import "encoding/json"

// ItemsRequest is the body of every push and append endpoint
type ItemsRequest struct {
	Items json.RawMessage `json:"items"`
}

// PullResponse for GET /collections/{c}/data
type PullResponse struct {
	Success    bool     `json:"success"`
	Collection string   `json:"collection"`
	Items      []Record `json:"items"`
	Version    int64    `json:"version"`
	UpToDate   bool     `json:"upToDate"`
}

// DeltaResponse for GET /delta/{c}
type DeltaResponse struct {
	Success        bool     `json:"success"`
	Collection     string   `json:"collection"`
	Items          []Record `json:"items"`
	IsFullDownload bool     `json:"isFullDownload"`
	ServerTime     string   `json:"serverTime"`
}

// PushResponse for POST /collections/{c}/push
type PushResponse struct {
	Success    bool         `json:"success"`
	Collection string       `json:"collection"`
	Count      int          `json:"count"`
	Metadata   SyncMetadata `json:"metadata"`
}

// AppendResponse for the idempotent append endpoints
type AppendResponse struct {
	Success    bool         `json:"success"`
	AddedCount int          `json:"addedCount"`
	Received   int          `json:"received"`
	Metadata   SyncMetadata `json:"metadata"`
}

// PendingResponse for the queue drain endpoints
type PendingResponse struct {
	Success bool     `json:"success"`
	Items   []Record `json:"items"`
	Count   int      `json:"count"`
}

// MetadataResponse for GET /collections/{c}/metadata
type MetadataResponse struct {
	Success    bool         `json:"success"`
	Collection string       `json:"collection"`
	Metadata   SyncMetadata `json:"metadata"`
}

// StatusResponse for GET /status
type StatusResponse struct {
	Success     bool                    `json:"success"`
	TerminalID  string                  `json:"terminalId"`
	ServerTime  string                  `json:"serverTime"`
	Collections map[string]SyncMetadata `json:"collections"`
}

// TerminalsResponse for GET /terminals
type TerminalsResponse struct {
	Success   bool               `json:"success"`
	Terminals []TerminalResponse `json:"terminals"`
}

// CollectionInfo describes one resolvable collection
type CollectionInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// CollectionsResponse for GET /collections
type CollectionsResponse struct {
	Success     bool             `json:"success"`
	Collections []CollectionInfo `json:"collections"`
}

// HistoryResponse for GET /history/{terminalId}
type HistoryResponse struct {
	Success            bool     `json:"success"`
	TerminalID         string   `json:"terminalId"`
	Transactions       []Record `json:"transactions"`
	InventoryMovements []Record `json:"inventoryMovements"`
	ZReports           []Record `json:"zReports"`
	CashMovements      []Record `json:"cashMovements"`
}

// ConfigResponse for GET /config
type ConfigResponse struct {
	Success bool            `json:"success"`
	Config  json.RawMessage `json:"config"`
}

// ResetResponse for POST /reset/{terminalId}
type ResetResponse struct {
	Success         bool             `json:"success"`
	TerminalID      string           `json:"terminalId"`
	Deleted         map[string]int64 `json:"deleted"`
	TerminalRemoved bool             `json:"terminalRemoved"`
}

// MessageResponse is a bare acknowledgement
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PingResponse for GET /ping
type PingResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ServerTime string `json:"serverTime"`
}

// HealthResponse for GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
	Dialect   string `json:"dialect"`
	Sockets   int    `json:"websocketConnections"`
}
