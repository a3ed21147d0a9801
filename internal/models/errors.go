package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies protocol failures so handlers can map them to a status code
type ErrorKind int

const (
	KindStore ErrorKind = iota
	KindAuth
	KindValidation
	KindNotFound
	KindForbidden
)

// SyncError is a classified protocol error
type SyncError struct {
	Kind    ErrorKind
	Message string
}

func (e SyncError) Error() string {
	return e.Message
}

// Sync errors
var (
	ErrMissingTerminalID = SyncError{KindAuth, "terminalId is required"}
	ErrMissingToken      = SyncError{KindAuth, "sync token is required"}
	ErrInvalidToken      = SyncError{KindAuth, "invalid sync token"}
	ErrItemsNotArray     = SyncError{KindValidation, "items must be an array"}
	ErrItemNotObject     = SyncError{KindValidation, "every item must be a JSON object"}
	ErrMissingItemID     = SyncError{KindValidation, "every item must have an id"}
	ErrInvalidCollection = SyncError{KindValidation, "invalid collection name"}
	ErrInvalidSince      = SyncError{KindValidation, "since must be an ISO-8601 timestamp or epoch milliseconds"}
	ErrInvalidVersion    = SyncError{KindValidation, "sinceVersion must be an integer"}
	ErrMissingProductID  = SyncError{KindValidation, "every movement must have a productId"}
	ErrInvalidQuantity   = SyncError{KindValidation, "qtyIn and qtyOut must be numeric"}
	ErrManagerPinInvalid = SyncError{KindForbidden, "manager PIN required"}
)

// Validationf builds a validation error with a formatted message
func Validationf(format string, args ...interface{}) SyncError {
	return SyncError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the classification of err, defaulting to KindStore
func KindOf(err error) ErrorKind {
	var syncErr SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return KindStore
}
