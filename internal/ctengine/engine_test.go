package ctengine

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/ctlynx/internal/logstore"
	"github.com/bl4ck0w1/ctlynx/internal/serialization"
	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

var sctListOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}

var evalTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

type testLog struct {
	info models.LogInfo
	key  *ecdsa.PrivateKey
}

func newTestLog(t *testing.T, operator string) testLog {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	return testLog{
		info: models.LogInfo{
			LogID:       sha256.Sum256(der),
			PublicKey:   &key.PublicKey,
			KeyDER:      der,
			Operator:    operator,
			Description: operator + " log",
			State:       models.LogStateUsable,
		},
		key: key,
	}
}

// signedSCTBytes produces the wire encoding of an SCT whose signature
// genuinely covers the given log entry.
func signedSCTBytes(t *testing.T, log testLog, entry []byte) []byte {
	t.Helper()
	sct := &models.SignedCertificateTimestamp{
		Version:   0,
		LogID:     log.info.LogID,
		Timestamp: 1672567200000, // 2023-01-01
		Signature: models.DigitallySigned{
			HashAlgorithm:      models.HashSHA256,
			SignatureAlgorithm: models.SignatureECDSA,
		},
	}
	tbs, err := serialization.EncodeTBS(sct, entry)
	require.NoError(t, err)
	digest := sha256.Sum256(tbs)
	sig, err := ecdsa.SignASN1(rand.Reader, log.key, digest[:])
	require.NoError(t, err)
	sct.Signature.Signature = sig

	encoded, err := serialization.EncodeSCT(sct)
	require.NoError(t, err)
	return encoded
}

func holderWith(logs ...testLog) *logstore.Holder {
	infos := make([]models.LogInfo, 0, len(logs))
	for _, l := range logs {
		infos = append(infos, l.info)
	}
	return logstore.NewHolder(logstore.NewStore(infos, models.StoreMetadata{}, models.StoreStateCompliant))
}

// simpleLeaf builds a self-signed leaf with no SCT extension, for the
// TLS-extension and OCSP delivery paths.
func simpleLeaf(t *testing.T) *ctx509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "engine-test"},
		NotBefore:    evalTime.Add(-24 * time.Hour),
		NotAfter:     evalTime.Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := ctx509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func tlsCarrier(t *testing.T, blobs ...[]byte) []byte {
	t.Helper()
	list, err := serialization.EncodeSCTList(blobs)
	require.NoError(t, err)
	return list
}

func TestCheckTLSExtensionTwoOperatorsComply(t *testing.T) {
	log1 := newTestLog(t, "operator 1")
	log2 := newTestLog(t, "operator 2")
	leaf := simpleLeaf(t)
	entry, err := serialization.EncodeX509Entry(leaf.Raw)
	require.NoError(t, err)

	tlsData := tlsCarrier(t, signedSCTBytes(t, log1, entry), signedSCTBytes(t, log2, entry))

	engine := New(holderWith(log1, log2), nil, nil)
	result, compliance, err := engine.CheckCertificateTransparency([]*ctx509.Certificate{leaf}, tlsData, nil, evalTime)

	require.NoError(t, err)
	assert.Equal(t, models.PolicyComply, compliance)
	assert.Len(t, result.Valid(), 2)
	assert.Empty(t, result.Invalid())
}

func TestCheckSameOperatorNotDiverse(t *testing.T) {
	log1 := newTestLog(t, "operator 1")
	log2 := newTestLog(t, "operator 1")
	leaf := simpleLeaf(t)
	entry, err := serialization.EncodeX509Entry(leaf.Raw)
	require.NoError(t, err)

	tlsData := tlsCarrier(t, signedSCTBytes(t, log1, entry), signedSCTBytes(t, log2, entry))

	engine := New(holderWith(log1, log2), nil, nil)
	result, compliance, err := engine.CheckCertificateTransparency([]*ctx509.Certificate{leaf}, tlsData, nil, evalTime)

	require.NoError(t, err)
	assert.Equal(t, models.PolicyNotEnoughDiverseSCTs, compliance)
	assert.Len(t, result.Valid(), 2)
}

func TestCheckUnknownLogPartitioned(t *testing.T) {
	known := newTestLog(t, "operator 1")
	unknown := newTestLog(t, "operator 2")
	leaf := simpleLeaf(t)
	entry, err := serialization.EncodeX509Entry(leaf.Raw)
	require.NoError(t, err)

	tlsData := tlsCarrier(t, signedSCTBytes(t, known, entry), signedSCTBytes(t, unknown, entry))

	// Only the first log is in the store.
	engine := New(holderWith(known), nil, nil)
	result, compliance, err := engine.CheckCertificateTransparency([]*ctx509.Certificate{leaf}, tlsData, nil, evalTime)

	require.NoError(t, err)
	assert.Equal(t, models.PolicyNotEnoughSCTs, compliance)
	require.Len(t, result.Valid(), 1)
	require.Len(t, result.Invalid(), 1)
	assert.Equal(t, models.SCTUnknownLog, result.Invalid()[0].Status)
}

func TestCheckUndecodableBlobSkipped(t *testing.T) {
	log1 := newTestLog(t, "operator 1")
	leaf := simpleLeaf(t)
	entry, err := serialization.EncodeX509Entry(leaf.Raw)
	require.NoError(t, err)

	tlsData := tlsCarrier(t, []byte{0xFF, 0xFF}, signedSCTBytes(t, log1, entry))

	engine := New(holderWith(log1), nil, nil)
	result, _, err := engine.CheckCertificateTransparency([]*ctx509.Certificate{leaf}, tlsData, nil, evalTime)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Total())
	assert.Len(t, result.Valid(), 1)
}

// embeddedChain issues a leaf carrying embedded SCTs that verify against the
// reconstructed precert entry. The leaf is created twice from one template:
// once to learn the TBS with the SCT extension stripped, then again with the
// real SCT list embedded. Stripping the extension from either certificate
// yields the same TBS, so signatures made over the first bind the second.
func embeddedChain(t *testing.T, logs ...testLog) []*ctx509.Certificate {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(100),
		Subject:               pkix.Name{CommonName: "engine-test-ca"},
		NotBefore:             evalTime.Add(-48 * time.Hour),
		NotAfter:              evalTime.Add(48 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caStd, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)
	caCT, err := ctx509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(101),
		Subject:      pkix.Name{CommonName: "embedded-test"},
		NotBefore:    evalTime.Add(-24 * time.Hour),
		NotAfter:     evalTime.Add(24 * time.Hour),
	}

	withExt := func(extValue []byte) *ctx509.Certificate {
		tmpl := *leafTmpl
		tmpl.ExtraExtensions = []pkix.Extension{{Id: sctListOID, Value: extValue}}
		der, err := x509.CreateCertificate(rand.Reader, &tmpl, caStd, &leafKey.PublicKey, caKey)
		require.NoError(t, err)
		cert, err := ctx509.ParseCertificate(der)
		if err != nil {
			require.False(t, ctx509.IsFatal(err), "parse: %v", err)
		}
		require.NotNil(t, cert)
		return cert
	}

	placeholderList, err := serialization.EncodeSCTList(nil)
	require.NoError(t, err)
	placeholderExt, err := asn1.Marshal(placeholderList)
	require.NoError(t, err)
	draft := withExt(placeholderExt)

	tbs, err := ctx509.RemoveSCTList(draft.RawTBSCertificate)
	require.NoError(t, err)
	issuerKeyHash := sha256.Sum256(caCT.RawSubjectPublicKeyInfo)
	entry, err := serialization.EncodePrecertEntry(tbs, issuerKeyHash)
	require.NoError(t, err)

	blobs := make([][]byte, 0, len(logs))
	for _, l := range logs {
		blobs = append(blobs, signedSCTBytes(t, l, entry))
	}
	list, err := serialization.EncodeSCTList(blobs)
	require.NoError(t, err)
	extValue, err := asn1.Marshal(list)
	require.NoError(t, err)

	return []*ctx509.Certificate{withExt(extValue), caCT}
}

func TestCheckEmbeddedSCTsComply(t *testing.T) {
	log1 := newTestLog(t, "operator 1")
	log2 := newTestLog(t, "operator 2")
	chain := embeddedChain(t, log1, log2)

	engine := New(holderWith(log1, log2), nil, nil)
	result, compliance, err := engine.CheckCertificateTransparency(chain, nil, nil, evalTime)

	require.NoError(t, err)
	assert.Equal(t, models.PolicyComply, compliance)
	require.Len(t, result.Valid(), 2)
	for _, v := range result.Valid() {
		assert.Equal(t, models.OriginEmbedded, v.SCT.Origin)
	}
}

func TestCheckEmbeddedWithoutIssuerInvalid(t *testing.T) {
	log1 := newTestLog(t, "operator 1")
	log2 := newTestLog(t, "operator 2")
	chain := embeddedChain(t, log1, log2)

	// Without the issuer the precert entry cannot be rebuilt; the embedded
	// SCTs cannot be attributed to any entry and count as invalid.
	engine := New(holderWith(log1, log2), nil, nil)
	result, compliance, err := engine.CheckCertificateTransparency(chain[:1], nil, nil, evalTime)

	require.NoError(t, err)
	assert.Equal(t, models.PolicyNotEnoughSCTs, compliance)
	assert.Empty(t, result.Valid())
	require.Len(t, result.Invalid(), 2)
	for _, v := range result.Invalid() {
		assert.Equal(t, models.SCTInvalid, v.Status)
		assert.Nil(t, v.Log)
	}
}

func TestCheckEmptyChain(t *testing.T) {
	engine := New(holderWith(), nil, nil)
	_, _, err := engine.CheckCertificateTransparency(nil, nil, nil, evalTime)
	assert.ErrorIs(t, err, ErrEmptyChain)
}

type recordingReporter struct {
	compliance models.PolicyCompliance
	storeState models.StoreState
	calls      int
}

func (r *recordingReporter) ReportComplianceOutcome(compliance models.PolicyCompliance, result *models.VerificationResult, storeState models.StoreState) {
	r.calls++
	r.compliance = compliance
	r.storeState = storeState
}

type panickingReporter struct{}

func (panickingReporter) ReportComplianceOutcome(models.PolicyCompliance, *models.VerificationResult, models.StoreState) {
	panic("telemetry backend down")
}

func TestCheckReportsTelemetry(t *testing.T) {
	log1 := newTestLog(t, "operator 1")
	log2 := newTestLog(t, "operator 2")
	leaf := simpleLeaf(t)
	entry, err := serialization.EncodeX509Entry(leaf.Raw)
	require.NoError(t, err)
	tlsData := tlsCarrier(t, signedSCTBytes(t, log1, entry), signedSCTBytes(t, log2, entry))

	rec := &recordingReporter{}
	engine := New(holderWith(log1, log2), rec, nil)
	_, _, err = engine.CheckCertificateTransparency([]*ctx509.Certificate{leaf}, tlsData, nil, evalTime)

	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, models.PolicyComply, rec.compliance)
	assert.Equal(t, models.StoreStateCompliant, rec.storeState)
}

func TestCheckSurvivesTelemetryPanic(t *testing.T) {
	leaf := simpleLeaf(t)

	engine := New(holderWith(), panickingReporter{}, nil)
	_, compliance, err := engine.CheckCertificateTransparency([]*ctx509.Certificate{leaf}, nil, nil, evalTime)

	require.NoError(t, err)
	assert.Equal(t, models.PolicyNotEnoughSCTs, compliance)
}
