package alertstore

import (
	"time"
)

// Alert statuses. The state machine only moves forward:
// open -> ack -> resolved, with open -> resolved allowed directly.
const (
	StatusOpen     = "open"
	StatusAck      = "ack"
	StatusResolved = "resolved"
)

// Suppression kinds recorded on an alert row.
const (
	SuppressedByNone        = ""
	SuppressedBySilence     = "silence"
	SuppressedByMaintenance = "maintenance"
)

// Alert is a row from the alerts table.
type Alert struct {
	ID               string     `json:"id"`
	RuleID           string     `json:"ruleId"`
	EntityID         string     `json:"entityId"`
	Message          string     `json:"message"`
	Severity         string     `json:"severity"`
	Fingerprint      string     `json:"fingerprint"`
	GroupKey         *string    `json:"groupKey"`
	Status           string     `json:"status"`
	Count            int        `json:"count"`
	FirstSeen        time.Time  `json:"firstSeen"`
	LastSeen         time.Time  `json:"lastSeen"`
	SuppressedByKind string     `json:"suppressedByKind"`
	SuppressedByID   string     `json:"suppressedById"`
	AckedBy          string     `json:"ackedBy,omitempty"`
	AckedAt          *time.Time `json:"ackedAt,omitempty"`
	ResolvedBy       string     `json:"resolvedBy,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
}

// Suppressed reports whether the alert is currently masked by a silence or
// maintenance window.
func (a *Alert) Suppressed() bool {
	return a.SuppressedByKind != SuppressedByNone
}

// UpsertParams carries everything needed to create or merge one alert.
type UpsertParams struct {
	RuleID           string
	EntityID         string
	Message          string
	Severity         string
	Fingerprint      string
	GroupKey         *string
	MuteSeconds      int
	SuppressedByKind string
	SuppressedByID   string
	SuppressedByName string
}

// canTransition encodes the forward-only status machine.
func canTransition(from, to string) bool {
	switch to {
	case StatusAck:
		return from == StatusOpen
	case StatusResolved:
		return from == StatusOpen || from == StatusAck
	}
	return false
}
