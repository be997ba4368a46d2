package models

import (
	"crypto"
	"encoding/hex"
	"time"
)

// LogState is the operational state of a CT log, as published in the log
// list. States follow the log lifecycle of the CT policy ecosystem.
type LogState string

const (
	LogStateUnknown   LogState = "unknown"
	LogStatePending   LogState = "pending"
	LogStateQualified LogState = "qualified"
	LogStateUsable    LogState = "usable"
	LogStateReadOnly  LogState = "readonly"
	LogStateRetired   LogState = "retired"
	LogStateRejected  LogState = "rejected"
)

// Trusted reports whether SCTs from a log in this state are still backed by
// the log's append-only guarantee. Retired logs are handled separately by
// the policy's grace-period rule.
func (s LogState) Trusted() bool {
	return s == LogStateUsable || s == LogStateReadOnly
}

// LogInfo describes one known CT log. Immutable after construction by the
// log-list loader; LogID is the SHA-256 of the DER-encoded public key.
type LogInfo struct {
	LogID          [32]byte
	PublicKey      crypto.PublicKey
	KeyDER         []byte
	Description    string
	URL            string
	Operator       string
	State          LogState
	StateTimestamp uint64 // ms since epoch of the last state change
}

func (l *LogInfo) LogIDHex() string {
	return hex.EncodeToString(l.LogID[:])
}

// StateTime returns when the log entered its current state.
func (l *LogInfo) StateTime() time.Time {
	return time.UnixMilli(int64(l.StateTimestamp)).UTC()
}

// StoreMetadata describes the log-list snapshot a store was built from.
// Used only for the freshness policy check, never for per-SCT verification.
type StoreMetadata struct {
	Timestamp                 uint64 // ms since epoch of list publication
	MajorVersion              int
	MinorVersion              int
	CompatVersion             int
	MinCompatVersionAvailable int
}

func (m StoreMetadata) Time() time.Time {
	return time.UnixMilli(int64(m.Timestamp)).UTC()
}

// StoreState summarizes whether the log store itself currently satisfies
// policy and can be trusted as a compliance oracle.
type StoreState string

const (
	StoreStateUnknown      StoreState = "unknown"
	StoreStateCompliant    StoreState = "compliant"
	StoreStateNotCompliant StoreState = "not_compliant"
)
