package models

// TerminalActivity is the per-terminal operational rollup
type TerminalActivity struct {
	Transactions int    `json:"transactions"`
	Movements    int    `json:"movements"`
	ZReports     int    `json:"zReports"`
	Pending      int    `json:"pending"`
	Errors       int    `json:"errors"`
	LastActivity string `json:"lastActivity,omitempty"`

	lastActivityMs int64
}

// Observe raises LastActivity to ms when it is newer
func (a *TerminalActivity) Observe(ms int64) {
	if ms > a.lastActivityMs {
		a.lastActivityMs = ms
		a.LastActivity = FormatMillis(ms)
	}
}

// LastActivityMillis returns the newest observed timestamp in epoch ms
func (a *TerminalActivity) LastActivityMillis() int64 {
	return a.lastActivityMs
}

// OperationalStatusResponse for GET /operational-status
type OperationalStatusResponse struct {
	Success   bool                         `json:"success"`
	Terminals map[string]*TerminalActivity `json:"terminals"`
}

// BucketTerminal returns the terminal id used to group a record
func BucketTerminal(terminalID string) string {
	if terminalID == "" {
		return UnknownTerminal
	}
	return terminalID
}
