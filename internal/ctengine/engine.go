// Package ctengine glues the CT subsystems together: it locates SCTs across
// the three carriers, decodes and verifies each one against the current
// log-store snapshot, and evaluates the compliance policy. One call per
// handshake; no state survives between calls.
package ctengine

import (
	"crypto/sha256"
	"errors"
	"time"

	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/ctlynx/internal/logstore"
	"github.com/bl4ck0w1/ctlynx/internal/policy"
	"github.com/bl4ck0w1/ctlynx/internal/scts"
	"github.com/bl4ck0w1/ctlynx/internal/serialization"
	"github.com/bl4ck0w1/ctlynx/internal/verifier"
	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

var ErrEmptyChain = errors.New("ctengine: certificate chain must not be empty")

type Engine struct {
	logs      *logstore.Holder
	locator   *scts.Locator
	telemetry Reporter
	logger    *logrus.Logger
}

// New builds an engine over the holder's log-store snapshots. The reporter
// may be nil; telemetry is best-effort by contract.
func New(logs *logstore.Holder, telemetry Reporter, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		logs:      logs,
		locator:   scts.NewLocator(logger),
		telemetry: telemetry,
		logger:    logger,
	}
}

// CheckCertificateTransparency runs the full evaluation for one handshake:
// chain is leaf-first; tlsData and ocspData are the optional out-of-band
// carriers and may be nil. The error return is reserved for programmer
// misuse; every data-dependent failure surfaces as a classified result.
func (e *Engine) CheckCertificateTransparency(chain []*ctx509.Certificate, tlsData, ocspData []byte, at time.Time) (*models.VerificationResult, models.PolicyCompliance, error) {
	if len(chain) == 0 {
		return nil, "", ErrEmptyChain
	}
	leaf := chain[0]

	raw := e.locator.Extract(leaf, tlsData, ocspData)

	x509Entry, err := serialization.EncodeX509Entry(leaf.Raw)
	if err != nil {
		return nil, "", err
	}

	// Embedded SCTs were signed over the precertificate: the leaf TBS with
	// the SCT extension deleted, bound to the issuer key hash. Without an
	// issuer in the chain that entry cannot be reconstructed.
	var precertEntry []byte
	if len(chain) >= 2 {
		tbs, err := ctx509.RemoveSCTList(leaf.RawTBSCertificate)
		if err != nil {
			e.logger.Debugf("Cannot build precert entry: %v", err)
		} else {
			issuerKeyHash := sha256.Sum256(chain[1].RawSubjectPublicKeyInfo)
			precertEntry, err = serialization.EncodePrecertEntry(tbs, issuerKeyHash)
			if err != nil {
				e.logger.Debugf("Cannot build precert entry: %v", err)
				precertEntry = nil
			}
		}
	}

	snapshot := e.logs.Current()
	verif := verifier.New(snapshot, e.logger)
	result := models.NewVerificationResult()

	for _, r := range raw {
		sct, err := serialization.DecodeSCT(r.Bytes, r.Origin)
		if err != nil {
			// Local failure: the blob is dropped, the evaluation goes on.
			e.logger.Debugf("Discarding undecodable SCT from %s: %v", r.Origin, err)
			continue
		}

		entry := x509Entry
		if sct.Origin == models.OriginEmbedded {
			entry = precertEntry
		}
		if entry == nil {
			// SCTInvalid carries no LogInfo, so the constructor cannot fail.
			unattributed, _ := models.NewVerifiedSCT(sct, models.SCTInvalid, nil)
			result.Add(unattributed)
			continue
		}
		result.Add(verif.VerifySCT(sct, entry))
	}

	compliance := policy.ConformsAt(result, leaf, at)

	e.report(compliance, result, snapshot.State())

	e.logger.WithFields(logrus.Fields{
		"valid_scts":   len(result.Valid()),
		"invalid_scts": len(result.Invalid()),
		"compliance":   compliance,
		"store_state":  snapshot.State(),
	}).Debug("CT evaluation complete")

	return result, compliance, nil
}

// StoreState exposes the current snapshot's freshness verdict.
func (e *Engine) StoreState() models.StoreState {
	return e.logs.Current().State()
}

// report emits the outcome to the telemetry collaborator. Telemetry must
// never fail or block the check, so panics are swallowed here.
func (e *Engine) report(compliance models.PolicyCompliance, result *models.VerificationResult, storeState models.StoreState) {
	if e.telemetry == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warnf("Telemetry reporter panicked: %v", r)
		}
	}()
	e.telemetry.ReportComplianceOutcome(compliance, result, storeState)
}
