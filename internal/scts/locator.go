// Package scts locates raw SCT blobs in the three carriers a TLS peer can
// deliver them through: the leaf certificate's embedded extension, the
// signed_certificate_timestamp TLS extension, and a stapled OCSP response.
// Nothing is verified here; each discovered blob is tagged with its origin
// and handed to the wire codec by the orchestrator.
package scts

import (
	"encoding/asn1"

	ctasn1 "github.com/google/certificate-transparency-go/asn1"
	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"

	"github.com/bl4ck0w1/ctlynx/internal/serialization"
	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

// The certificate parser and the OCSP parser use different asn1 packages,
// so the same OID arc is declared against both.
var (
	// RFC 6962 section 3.3: OID of the embedded X.509 SCT list extension.
	oidX509SCTList = ctasn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}
	// RFC 6962 section 3.3: OID of the OCSP singleExtension SCT list.
	oidOCSPSCTList = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 5}
)

// RawSCT is an undecoded SCT blob tagged with the carrier it came from.
type RawSCT struct {
	Bytes  []byte
	Origin models.Origin
}

type Locator struct {
	logger *logrus.Logger
}

func NewLocator(logger *logrus.Logger) *Locator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Locator{logger: logger}
}

// Extract returns the raw SCTs found across all carriers. Each carrier is
// independently optional, and a carrier that fails to decode contributes
// zero SCTs instead of aborting the lookup.
func (l *Locator) Extract(leaf *ctx509.Certificate, tlsData, ocspData []byte) []RawSCT {
	var out []RawSCT
	if len(tlsData) > 0 {
		out = append(out, l.fromList(tlsData, models.OriginTLSExtension)...)
	}
	if len(ocspData) > 0 {
		out = append(out, l.fromOCSP(ocspData)...)
	}
	if leaf != nil {
		out = append(out, l.fromX509(leaf)...)
	}
	return out
}

func (l *Locator) fromList(data []byte, origin models.Origin) []RawSCT {
	blobs, err := serialization.DecodeSCTList(data)
	if err != nil {
		l.logger.Debugf("Discarding %s SCT carrier: %v", origin, err)
		return nil
	}
	out := make([]RawSCT, 0, len(blobs))
	for _, b := range blobs {
		out = append(out, RawSCT{Bytes: b, Origin: origin})
	}
	return out
}

func (l *Locator) fromX509(leaf *ctx509.Certificate) []RawSCT {
	for _, ext := range leaf.Extensions {
		if !ext.Id.Equal(oidX509SCTList) {
			continue
		}
		// The extension value is itself a DER OCTET STRING wrapping the
		// serialized list.
		inner, err := serialization.ReadDEROctetString(ext.Value)
		if err != nil {
			l.logger.Debugf("Discarding embedded SCT carrier: %v", err)
			return nil
		}
		return l.fromList(inner, models.OriginEmbedded)
	}
	return nil
}

func (l *Locator) fromOCSP(data []byte) []RawSCT {
	resp, err := ocsp.ParseResponse(data, nil)
	if err != nil {
		l.logger.Debugf("Discarding OCSP SCT carrier: %v", err)
		return nil
	}
	for _, ext := range resp.Extensions {
		if !ext.Id.Equal(oidOCSPSCTList) {
			continue
		}
		inner, err := serialization.ReadDEROctetString(ext.Value)
		if err != nil {
			l.logger.Debugf("Discarding OCSP SCT carrier: %v", err)
			return nil
		}
		return l.fromList(inner, models.OriginOCSPResponse)
	}
	return nil
}
