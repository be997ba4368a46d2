// Package serialization implements the RFC 6962 TLS-style binary encoding
// for SignedCertificateTimestamp structures and the log-entry inputs that
// CT log signatures cover. All multi-byte integers are big-endian; the
// encodings must match the public CT ecosystem bit-for-bit.
package serialization

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

var (
	// ErrMalformed reports truncated or internally inconsistent length
	// fields in untrusted input. Callers recover locally: the offending
	// carrier contributes zero SCTs.
	ErrMalformed = errors.New("serialization: malformed input")

	// ErrUnsupportedVersion reports an SCT version other than V1.
	ErrUnsupportedVersion = errors.New("serialization: unsupported SCT version")
)

const (
	sctVersionV1 = 0

	// signature_type from RFC 6962 section 3.2.
	signatureTypeCertificateTimestamp = 0

	// LogEntryType values from RFC 6962 section 3.1.
	entryTypeX509    = 0
	entryTypePrecert = 1
)

// DecodeSCT decodes one TLS-encoded SignedCertificateTimestamp and tags it
// with the carrier it came from. Length fields are validated against the
// remaining buffer before any slicing; attacker-controlled lengths can
// never cause an out-of-bounds read.
func DecodeSCT(b []byte, origin models.Origin) (*models.SignedCertificateTimestamp, error) {
	s := cryptobyte.String(b)

	var version uint8
	if !s.ReadUint8(&version) {
		return nil, ErrMalformed
	}
	if version != sctVersionV1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	sct := &models.SignedCertificateTimestamp{Version: version, Origin: origin}

	var logID []byte
	if !s.ReadBytes(&logID, len(sct.LogID)) {
		return nil, ErrMalformed
	}
	copy(sct.LogID[:], logID)

	if !s.ReadUint64(&sct.Timestamp) {
		return nil, ErrMalformed
	}

	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) {
		return nil, ErrMalformed
	}
	sct.Extensions = append([]byte(nil), extensions...)

	var hashAlg, sigAlg uint8
	var signature cryptobyte.String
	if !s.ReadUint8(&hashAlg) || !s.ReadUint8(&sigAlg) || !s.ReadUint16LengthPrefixed(&signature) {
		return nil, ErrMalformed
	}
	sct.Signature = models.DigitallySigned{
		HashAlgorithm:      models.HashAlgorithm(hashAlg),
		SignatureAlgorithm: models.SignatureAlgorithm(sigAlg),
		Signature:          append([]byte(nil), signature...),
	}

	// SCT blobs arrive with exact boundaries from the carrier list, so
	// trailing garbage means the declared lengths were inconsistent.
	if !s.Empty() {
		return nil, ErrMalformed
	}
	return sct, nil
}

// EncodeSCT is the inverse of DecodeSCT: it serializes one SCT back to its
// TLS encoding. The carrier origin is not part of the wire format.
func EncodeSCT(sct *models.SignedCertificateTimestamp) ([]byte, error) {
	if sct.Version != sctVersionV1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, sct.Version)
	}
	var b cryptobyte.Builder
	b.AddUint8(sct.Version)
	b.AddBytes(sct.LogID[:])
	b.AddUint64(sct.Timestamp)
	b.AddUint16LengthPrefixed(func(ext *cryptobyte.Builder) {
		ext.AddBytes(sct.Extensions)
	})
	b.AddUint8(uint8(sct.Signature.HashAlgorithm))
	b.AddUint8(uint8(sct.Signature.SignatureAlgorithm))
	b.AddUint16LengthPrefixed(func(sig *cryptobyte.Builder) {
		sig.AddBytes(sct.Signature.Signature)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialization: encode SCT: %w", err)
	}
	return out, nil
}

// DecodeSCTList splits the carrier-level SignedCertificateTimestampList: a
// 16-bit length-prefixed list of 16-bit length-prefixed SCT blobs. An empty
// list is valid and yields no entries.
func DecodeSCTList(b []byte) ([][]byte, error) {
	s := cryptobyte.String(b)

	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) || !s.Empty() {
		return nil, ErrMalformed
	}

	var out [][]byte
	for !list.Empty() {
		var elem cryptobyte.String
		if !list.ReadUint16LengthPrefixed(&elem) {
			return nil, ErrMalformed
		}
		out = append(out, append([]byte(nil), elem...))
	}
	return out, nil
}

// EncodeSCTList is the inverse of DecodeSCTList. The TLS handshake layer
// hands the engine pre-split SCTs; this rebuilds the wire-level list.
func EncodeSCTList(blobs [][]byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(list *cryptobyte.Builder) {
		for _, blob := range blobs {
			blob := blob
			list.AddUint16LengthPrefixed(func(elem *cryptobyte.Builder) {
				elem.AddBytes(blob)
			})
		}
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialization: encode SCT list: %w", err)
	}
	return out, nil
}

// EncodeX509Entry encodes an x509_entry LogEntry: entry type 0 followed by
// the 24-bit length-prefixed certificate DER.
func EncodeX509Entry(certDER []byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(entryTypeX509)
	b.AddUint24LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(certDER)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialization: encode x509 entry: %w", err)
	}
	return out, nil
}

// EncodePrecertEntry encodes a precert_entry LogEntry: entry type 1, the
// 32-byte issuer key hash, then the 24-bit length-prefixed TBSCertificate.
func EncodePrecertEntry(tbsDER []byte, issuerKeyHash [32]byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(entryTypePrecert)
	b.AddBytes(issuerKeyHash[:])
	b.AddUint24LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(tbsDER)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialization: encode precert entry: %w", err)
	}
	return out, nil
}

// EncodeTBS reconstructs the exact byte sequence a log signed for the given
// SCT over the given log entry, RFC 6962 section 3.2:
// version || signature_type || timestamp || entry || extensions.
func EncodeTBS(sct *models.SignedCertificateTimestamp, entry []byte) ([]byte, error) {
	if sct.Version != sctVersionV1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, sct.Version)
	}
	var b cryptobyte.Builder
	b.AddUint8(sct.Version)
	b.AddUint8(signatureTypeCertificateTimestamp)
	b.AddUint64(sct.Timestamp)
	b.AddBytes(entry)
	b.AddUint16LengthPrefixed(func(ext *cryptobyte.Builder) {
		ext.AddBytes(sct.Extensions)
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serialization: encode TBS: %w", err)
	}
	return out, nil
}

// ReadDEROctetString unwraps a single DER OCTET STRING layer. The embedded
// X.509 and OCSP carriers both wrap the SCT list this way.
func ReadDEROctetString(b []byte) ([]byte, error) {
	s := cryptobyte.String(b)
	var inner cryptobyte.String
	if !s.ReadASN1(&inner, cryptobyte_asn1.OCTET_STRING) {
		return nil, ErrMalformed
	}
	return append([]byte(nil), inner...), nil
}
