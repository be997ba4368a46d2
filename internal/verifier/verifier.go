// Package verifier checks individual SCTs against the known-log store: it
// reconstructs the exact byte sequence the log signed and dispatches the
// signature check to the platform crypto primitives, classifying every
// outcome instead of failing. Unknown logs and bad signatures are routine
// results, not errors.
package verifier

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/ctlynx/internal/logstore"
	"github.com/bl4ck0w1/ctlynx/internal/serialization"
	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

var errUnsupportedAlgorithm = errors.New("verifier: unsupported algorithm pair")

type Verifier struct {
	store  *logstore.Store
	logger *logrus.Logger
}

// New builds a verifier over one store snapshot. A verifier is cheap;
// callers create one per evaluation against the snapshot they hold.
func New(store *logstore.Store, logger *logrus.Logger) *Verifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Verifier{store: store, logger: logger}
}

// VerifySCT verifies one SCT over the given encoded log entry and
// classifies the outcome. LogInfo is attached exactly when the log was
// found and the verdict concerns its signature; the models constructor
// enforces that pairing.
func (v *Verifier) VerifySCT(sct *models.SignedCertificateTimestamp, entry []byte) models.VerifiedSCT {
	status, log := v.classify(sct, entry)
	verified, err := models.NewVerifiedSCT(sct, status, log)
	if err != nil {
		v.logger.Errorf("Dropping inconsistent verification outcome for %s: %v", sct.LogIDHex(), err)
		return models.VerifiedSCT{SCT: sct, Status: models.SCTInvalid}
	}
	return verified
}

func (v *Verifier) classify(sct *models.SignedCertificateTimestamp, entry []byte) (models.SCTStatus, *models.LogInfo) {
	log, ok := v.store.KnownLog(sct.LogID)
	if !ok {
		return models.SCTUnknownLog, nil
	}

	tbs, err := serialization.EncodeTBS(sct, entry)
	if err != nil {
		v.logger.Debugf("Rejecting SCT from %s: %v", log.Description, err)
		return models.SCTInvalid, nil
	}

	valid, err := verifySignature(log.PublicKey, sct.Signature, tbs)
	switch {
	case errors.Is(err, errUnsupportedAlgorithm):
		return models.SCTUnsupportedAlgorithm, log
	case err != nil || !valid:
		return models.SCTInvalidSignature, log
	default:
		return models.SCTValid, log
	}
}

// verifySignature dispatches on the DigitallySigned algorithm pair. The
// pairs the public CT ecosystem actually issues are ECDSA/SHA-256 and
// RSA/SHA-256; anything else is surfaced as unsupported rather than
// silently invalid, so new algorithm IDs are visible.
func verifySignature(pub crypto.PublicKey, sig models.DigitallySigned, tbs []byte) (bool, error) {
	if sig.HashAlgorithm != models.HashSHA256 {
		return false, errUnsupportedAlgorithm
	}
	digest := sha256.Sum256(tbs)

	switch sig.SignatureAlgorithm {
	case models.SignatureECDSA:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return false, errors.New("verifier: log key is not ECDSA")
		}
		return ecdsa.VerifyASN1(key, digest[:], sig.Signature), nil
	case models.SignatureRSA:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return false, errors.New("verifier: log key is not RSA")
		}
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig.Signature) == nil, nil
	default:
		return false, errUnsupportedAlgorithm
	}
}
