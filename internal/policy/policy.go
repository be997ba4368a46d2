// Package policy decides whether a set of verified SCTs satisfies the CT
// compliance baseline, and whether the log-list snapshot backing the
// decision is fresh enough to be trusted. Everything here is a pure
// function over immutable inputs.
package policy

import (
	"time"

	ctx509 "github.com/google/certificate-transparency-go/x509"

	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

const (
	// MinValidSCTs is the minimum number of eligible SCTs required.
	MinValidSCTs = 2
	// MinDistinctOperators is the required operator diversity among them.
	MinDistinctOperators = 2
	// MaxStoreAge bounds how stale the log list may be before the store
	// stops being a trustworthy compliance oracle.
	MaxStoreAge = 70 * 24 * time.Hour
)

// ConformsAt evaluates the two-operator compliance baseline for one
// verification result at the given time. The leaf is accepted for parity
// with per-certificate policy rules; the baseline does not consult it.
func ConformsAt(result *models.VerificationResult, leaf *ctx509.Certificate, at time.Time) models.PolicyCompliance {
	_ = leaf

	eligible := 0
	operators := make(map[string]struct{})
	for _, v := range result.Valid() {
		if !eligibleAt(v, at) {
			continue
		}
		eligible++
		operators[v.Log.Operator] = struct{}{}
	}

	switch {
	case eligible < MinValidSCTs:
		return models.PolicyNotEnoughSCTs
	case len(operators) < MinDistinctOperators:
		return models.PolicyNotEnoughDiverseSCTs
	default:
		return models.PolicyComply
	}
}

// eligibleAt applies the per-SCT temporal rule. A usable or read-only log
// counts. A retired log counts only when retirement took effect after the
// SCT was issued; a log already retired at issuance never counts. All other
// states (pending, qualified, rejected, unknown) never count.
func eligibleAt(v models.VerifiedSCT, at time.Time) bool {
	log := v.Log
	if log == nil {
		return false
	}
	switch log.State {
	case models.LogStateUsable, models.LogStateReadOnly:
		return true
	case models.LogStateRetired:
		return log.StateTime().After(v.SCT.Time())
	default:
		return false
	}
}

// StoreCompliantAt reports whether the log-list snapshot may serve as a
// compliance oracle at the given time: its publication timestamp must not
// be in the future and must not be older than MaxStoreAge.
func StoreCompliantAt(meta models.StoreMetadata, at time.Time) bool {
	published := meta.Time()
	if published.After(at) {
		return false
	}
	return at.Sub(published) <= MaxStoreAge
}
