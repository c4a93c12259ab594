package gobtcmini

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// RiskLevel is the quantum-exposure state of a watchlist entry.
type RiskLevel string

const (
	RiskChecking RiskLevel = "checking"
	RiskLow      RiskLevel = "low"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
	RiskUnknown  RiskLevel = "unknown"
	RiskTimeout  RiskLevel = "timeout"
	RiskError    RiskLevel = "error"
)

// Valid reports whether r is one of the known risk states.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskChecking, RiskLow, RiskElevated, RiskHigh, RiskUnknown, RiskTimeout, RiskError:
		return true
	default:
		return false
	}
}

// APIStatus records the outcome of the last balance lookup.
type APIStatus string

const (
	APIStatusSuccess APIStatus = "success"
	APIStatusError   APIStatus = "error"
	APIStatusNone    APIStatus = "none"
)

const maxLabelLength = 50

// WatchlistEntry is one tracked address.
type WatchlistEntry struct {
	Address         string    `json:"address"`
	Label           string    `json:"label"`
	BalanceBTC      float64   `json:"balanceBtc"`
	QuantumRisk     RiskLevel `json:"quantumRisk"`
	APIStatus       APIStatus `json:"apiStatus"`
	APIErrorMessage *string   `json:"apiErrorMessage"`
	AddedAt         time.Time `json:"addedAt"`
}

func (e WatchlistEntry) clone() WatchlistEntry {
	if e.APIErrorMessage != nil {
		msg := *e.APIErrorMessage
		e.APIErrorMessage = &msg
	}
	return e
}

// Store persists the ordered watchlist. The engine calls Save after every
// merge with the full list.
type Store interface {
	Load(ctx context.Context) ([]WatchlistEntry, error)
	Save(ctx context.Context, entries []WatchlistEntry) error
}

// NotificationKind categorises user-visible notifications.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyError   NotificationKind = "error"
	NotifyWarning NotificationKind = "warning"
	NotifyInfo    NotificationKind = "info"
)

// Notifier surfaces user-visible events.
type Notifier interface {
	Notify(message string, kind NotificationKind)
}

// LogNotifier writes notifications to a Logger.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) Notify(message string, kind NotificationKind) {
	logger := n.Logger
	if logger == nil {
		logger = engineLogger
	}
	logger.Printf("notify kind=%s message=%q", kind, message)
}

// Validation is the verdict of a Validator.
type Validation struct {
	Valid bool   `json:"valid"`
	Type  string `json:"type"`
}

// Validator checks address format. The algorithm lives outside the sync core.
type Validator interface {
	Validate(address string) Validation
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(address string) Validation

func (f ValidatorFunc) Validate(address string) Validation {
	return f(address)
}

func validateLabel(label string) error {
	if utf8.RuneCountInString(label) > maxLabelLength {
		return ErrInvalidLabel
	}
	if strings.ContainsAny(label, "<>") {
		return ErrInvalidLabel
	}
	return nil
}
