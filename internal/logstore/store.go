// Package logstore holds the client's snapshot of known CT logs: lookup by
// log ID, the list-level metadata the freshness policy needs, and the
// atomic-swap holder that lets a refresh publish a new snapshot without
// disturbing in-flight evaluations.
package logstore

import (
	"sort"
	"sync/atomic"

	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

// Store is an immutable snapshot of the known-log list. It is read
// concurrently by many handshake evaluations and never mutated; refreshes
// build a new Store and publish it through a Holder.
type Store struct {
	logs  map[[32]byte]*models.LogInfo
	meta  models.StoreMetadata
	state models.StoreState
}

// NewStore builds a snapshot from an explicit log table and metadata. The
// table is passed in rather than read from any global so tests and callers
// can substitute alternate lists.
func NewStore(logs []models.LogInfo, meta models.StoreMetadata, state models.StoreState) *Store {
	m := make(map[[32]byte]*models.LogInfo, len(logs))
	for i := range logs {
		log := logs[i]
		m[log.LogID] = &log
	}
	if state == "" {
		state = models.StoreStateUnknown
	}
	return &Store{logs: m, meta: meta, state: state}
}

// KnownLog looks up a log by the SHA-256 of its public key. Exact match
// only.
func (s *Store) KnownLog(logID [32]byte) (*models.LogInfo, bool) {
	log, ok := s.logs[logID]
	return log, ok
}

func (s *Store) Len() int { return len(s.logs) }

// Logs returns the known logs ordered by operator then description.
func (s *Store) Logs() []*models.LogInfo {
	out := make([]*models.LogInfo, 0, len(s.logs))
	for _, log := range s.logs {
		out = append(out, log)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Operator != out[j].Operator {
			return out[i].Operator < out[j].Operator
		}
		return out[i].Description < out[j].Description
	})
	return out
}

func (s *Store) Metadata() models.StoreMetadata { return s.meta }

func (s *Store) Timestamp() uint64 { return s.meta.Timestamp }

func (s *Store) MajorVersion() int { return s.meta.MajorVersion }

func (s *Store) MinorVersion() int { return s.meta.MinorVersion }

func (s *Store) CompatVersion() int { return s.meta.CompatVersion }

func (s *Store) MinCompatVersionAvailable() int { return s.meta.MinCompatVersionAvailable }

// State summarizes whether this snapshot satisfied the freshness policy
// when it was loaded.
func (s *Store) State() models.StoreState { return s.state }

// Holder publishes the current Store snapshot. Swap is atomic, so readers
// always observe one consistent list, never a partial update.
type Holder struct {
	current atomic.Pointer[Store]
}

func NewHolder(s *Store) *Holder {
	h := &Holder{}
	if s == nil {
		s = NewStore(nil, models.StoreMetadata{}, models.StoreStateUnknown)
	}
	h.current.Store(s)
	return h
}

func (h *Holder) Current() *Store { return h.current.Load() }

func (h *Holder) Swap(s *Store) {
	if s == nil {
		return
	}
	h.current.Store(s)
}
