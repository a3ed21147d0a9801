package models

import (
	"strings"
	"time"
)

// TerminalStatus is derived from lastSeen at read time, never stored
type TerminalStatus string

const (
	TerminalOnline  TerminalStatus = "ONLINE"
	TerminalOffline TerminalStatus = "OFFLINE"
)

// Terminal is a POS endpoint participating in sync
type Terminal struct {
	TerminalID  string `json:"terminalId"`
	IPAddress   string `json:"ipAddress"`
	DeviceToken string `json:"-"` // push token, never exposed
	LastSeen    int64  `json:"lastSeen"`
	CreatedAt   int64  `json:"createdAt"`
}

// TerminalResponse is the safe response format
type TerminalResponse struct {
	TerminalID     string         `json:"terminalId"`
	IPAddress      string         `json:"ipAddress"`
	LastSeen       string         `json:"lastSeen"`
	Status         TerminalStatus `json:"status"`
	HasDeviceToken bool           `json:"hasDeviceToken"`
	CreatedAt      string         `json:"createdAt"`
}

// AuthRequest is the request body for POST /auth
type AuthRequest struct {
	TerminalID  string `json:"terminalId"`
	DeviceToken string `json:"deviceToken,omitempty"`
}

// AuthResponse is returned when a token is issued
type AuthResponse struct {
	Success    bool   `json:"success"`
	Token      string `json:"token"`
	TerminalID string `json:"terminalId"`
	ExpiresIn  int    `json:"expiresIn"`
}

// NewTerminal creates a terminal record seen for the first time at now
func NewTerminal(terminalID, deviceToken, ipAddress string, now time.Time) (*Terminal, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, ErrMissingTerminalID
	}

	ms := now.UnixMilli()
	return &Terminal{
		TerminalID:  terminalID,
		IPAddress:   ipAddress,
		DeviceToken: strings.TrimSpace(deviceToken),
		LastSeen:    ms,
		CreatedAt:   ms,
	}, nil
}

// StatusAt reports ONLINE when the terminal was seen within window of now
func (t *Terminal) StatusAt(now time.Time, window time.Duration) TerminalStatus {
	if now.UnixMilli()-t.LastSeen < window.Milliseconds() {
		return TerminalOnline
	}
	return TerminalOffline
}

// ToResponse converts Terminal to TerminalResponse (safe for API)
func (t *Terminal) ToResponse(now time.Time, window time.Duration) TerminalResponse {
	return TerminalResponse{
		TerminalID:     t.TerminalID,
		IPAddress:      t.IPAddress,
		LastSeen:       FormatMillis(t.LastSeen),
		Status:         t.StatusAt(now, window),
		HasDeviceToken: t.DeviceToken != "",
		CreatedAt:      FormatMillis(t.CreatedAt),
	}
}
