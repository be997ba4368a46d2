package models

import (
	"encoding/hex"
	"errors"
	"time"
)

// Origin identifies which carrier an SCT was delivered through.
type Origin string

const (
	OriginEmbedded     Origin = "embedded"
	OriginTLSExtension Origin = "tls_extension"
	OriginOCSPResponse Origin = "ocsp_response"
)

// HashAlgorithm and SignatureAlgorithm carry the identifiers from the
// DigitallySigned structure of RFC 5246 section 4.7, reused by RFC 6962.
type HashAlgorithm uint8

const (
	HashNone   HashAlgorithm = 0
	HashMD5    HashAlgorithm = 1
	HashSHA1   HashAlgorithm = 2
	HashSHA224 HashAlgorithm = 3
	HashSHA256 HashAlgorithm = 4
	HashSHA384 HashAlgorithm = 5
	HashSHA512 HashAlgorithm = 6
)

func (h HashAlgorithm) String() string {
	switch h {
	case HashNone:
		return "none"
	case HashMD5:
		return "md5"
	case HashSHA1:
		return "sha1"
	case HashSHA224:
		return "sha224"
	case HashSHA256:
		return "sha256"
	case HashSHA384:
		return "sha384"
	case HashSHA512:
		return "sha512"
	default:
		return "unknown"
	}
}

type SignatureAlgorithm uint8

const (
	SignatureAnonymous SignatureAlgorithm = 0
	SignatureRSA       SignatureAlgorithm = 1
	SignatureDSA       SignatureAlgorithm = 2
	SignatureECDSA     SignatureAlgorithm = 3
)

func (s SignatureAlgorithm) String() string {
	switch s {
	case SignatureAnonymous:
		return "anonymous"
	case SignatureRSA:
		return "rsa"
	case SignatureDSA:
		return "dsa"
	case SignatureECDSA:
		return "ecdsa"
	default:
		return "unknown"
	}
}

// DigitallySigned is the signature block of an SCT, RFC 6962 section 3.2.
type DigitallySigned struct {
	HashAlgorithm      HashAlgorithm
	SignatureAlgorithm SignatureAlgorithm
	Signature          []byte
}

// SignedCertificateTimestamp is a decoded RFC 6962 SCT. Immutable once
// produced by the wire codec; Timestamp is milliseconds since the epoch,
// as carried on the wire.
type SignedCertificateTimestamp struct {
	Version    uint8
	LogID      [32]byte
	Timestamp  uint64
	Extensions []byte
	Signature  DigitallySigned
	Origin     Origin
}

// Time returns the SCT issuance time.
func (s *SignedCertificateTimestamp) Time() time.Time {
	return time.UnixMilli(int64(s.Timestamp)).UTC()
}

// LogIDHex is the log identifier as lowercase hex, for logs and reports.
func (s *SignedCertificateTimestamp) LogIDHex() string {
	return hex.EncodeToString(s.LogID[:])
}

// SCTStatus classifies the verification outcome of a single SCT.
type SCTStatus string

const (
	SCTValid                SCTStatus = "valid"
	SCTInvalidSignature     SCTStatus = "invalid_signature"
	SCTUnknownLog           SCTStatus = "unknown_log"
	SCTInvalid              SCTStatus = "invalid_sct"
	SCTUnsupportedAlgorithm SCTStatus = "unsupported_algorithm"
)

// VerifiedSCT pairs an SCT with its verification outcome. Log is populated
// exactly when the log was found in the store and the outcome concerns its
// signature: Valid, InvalidSignature and UnsupportedAlgorithm.
type VerifiedSCT struct {
	SCT    *SignedCertificateTimestamp
	Status SCTStatus
	Log    *LogInfo
}

var errVerifiedSCTLogInfo = errors.New("models: LogInfo presence does not match status")

// NewVerifiedSCT builds a VerifiedSCT and enforces the LogInfo invariant.
func NewVerifiedSCT(sct *SignedCertificateTimestamp, status SCTStatus, log *LogInfo) (VerifiedSCT, error) {
	wantLog := status == SCTValid || status == SCTInvalidSignature || status == SCTUnsupportedAlgorithm
	if wantLog != (log != nil) {
		return VerifiedSCT{}, errVerifiedSCTLogInfo
	}
	return VerifiedSCT{SCT: sct, Status: status, Log: log}, nil
}

// VerificationResult partitions verified SCTs by validity. It is built
// incrementally by the orchestrator and read-only afterwards; callers must
// not modify the returned slices.
type VerificationResult struct {
	valid   []VerifiedSCT
	invalid []VerifiedSCT
}

func NewVerificationResult() *VerificationResult {
	return &VerificationResult{}
}

func (r *VerificationResult) Add(v VerifiedSCT) {
	if v.Status == SCTValid {
		r.valid = append(r.valid, v)
		return
	}
	r.invalid = append(r.invalid, v)
}

func (r *VerificationResult) Valid() []VerifiedSCT   { return r.valid }
func (r *VerificationResult) Invalid() []VerifiedSCT { return r.invalid }

func (r *VerificationResult) Total() int { return len(r.valid) + len(r.invalid) }

// PolicyCompliance is the overall CT policy verdict for one evaluation.
type PolicyCompliance string

const (
	PolicyComply               PolicyCompliance = "comply"
	PolicyNotEnoughSCTs        PolicyCompliance = "not_enough_scts"
	PolicyNotEnoughDiverseSCTs PolicyCompliance = "not_enough_diverse_scts"
)
