package scts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/bl4ck0w1/ctlynx/internal/serialization"
	"github.com/bl4ck0w1/ctlynx/pkg/models"
)

var stdOIDSCTList = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}

func mustSCTList(t *testing.T, blobs [][]byte) []byte {
	t.Helper()
	list, err := serialization.EncodeSCTList(blobs)
	require.NoError(t, err)
	return list
}

// octetString wraps b in a DER OCTET STRING, the way both the X.509 and
// OCSP carriers wrap the serialized SCT list.
func octetString(t *testing.T, b []byte) []byte {
	t.Helper()
	wrapped, err := asn1.Marshal(b)
	require.NoError(t, err)
	return wrapped
}

func selfSignedWithSCTExt(t *testing.T, extValue []byte) *ctx509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "locator-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtraExtensions: []pkix.Extension{
			{Id: stdOIDSCTList, Value: extValue},
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	// The ct-go fork parses the SCT extension eagerly and flags synthetic
	// values as non-fatal errors; only fatal parse errors matter here.
	cert, err := ctx509.ParseCertificate(der)
	if err != nil {
		require.False(t, ctx509.IsFatal(err), "parse: %v", err)
	}
	require.NotNil(t, cert)
	return cert
}

func TestExtractFromTLSExtension(t *testing.T) {
	list := mustSCTList(t, [][]byte{{0x01, 0x02}, {0x03}})

	got := NewLocator(nil).Extract(nil, list, nil)

	require.Len(t, got, 2)
	assert.Equal(t, []byte{0x01, 0x02}, got[0].Bytes)
	assert.Equal(t, models.OriginTLSExtension, got[0].Origin)
	assert.Equal(t, []byte{0x03}, got[1].Bytes)
	assert.Equal(t, models.OriginTLSExtension, got[1].Origin)
}

func TestExtractFromEmbeddedExtension(t *testing.T) {
	list := mustSCTList(t, [][]byte{{0xAA, 0xBB}})
	leaf := selfSignedWithSCTExt(t, octetString(t, list))

	got := NewLocator(nil).Extract(leaf, nil, nil)

	require.Len(t, got, 1)
	assert.Equal(t, []byte{0xAA, 0xBB}, got[0].Bytes)
	assert.Equal(t, models.OriginEmbedded, got[0].Origin)
}

func TestExtractFromOCSPResponse(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "locator-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &key.PublicKey, key)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	list := mustSCTList(t, [][]byte{{0xCC}})
	tmpl := ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: big.NewInt(3),
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
		ExtraExtensions: []pkix.Extension{
			{Id: oidOCSPSCTList, Value: octetString(t, list)},
		},
	}
	respDER, err := ocsp.CreateResponse(ca, ca, tmpl, key)
	require.NoError(t, err)

	got := NewLocator(nil).Extract(nil, nil, respDER)

	require.Len(t, got, 1)
	assert.Equal(t, []byte{0xCC}, got[0].Bytes)
	assert.Equal(t, models.OriginOCSPResponse, got[0].Origin)
}

func TestExtractCombinesCarriers(t *testing.T) {
	embedded := mustSCTList(t, [][]byte{{0x01}})
	leaf := selfSignedWithSCTExt(t, octetString(t, embedded))
	tlsList := mustSCTList(t, [][]byte{{0x02}})

	got := NewLocator(nil).Extract(leaf, tlsList, nil)

	require.Len(t, got, 2)
	assert.Equal(t, models.OriginTLSExtension, got[0].Origin)
	assert.Equal(t, models.OriginEmbedded, got[1].Origin)
}

func TestExtractMalformedCarrierIsLocal(t *testing.T) {
	// The embedded carrier holds garbage; the TLS carrier is fine. The
	// garbage carrier must contribute zero SCTs without hiding the rest.
	leaf := selfSignedWithSCTExt(t, []byte{0xFF, 0xFF, 0xFF})
	tlsList := mustSCTList(t, [][]byte{{0x07}})

	got := NewLocator(nil).Extract(leaf, tlsList, nil)

	require.Len(t, got, 1)
	assert.Equal(t, models.OriginTLSExtension, got[0].Origin)
}

func TestExtractEmptyCarriers(t *testing.T) {
	assert.Empty(t, NewLocator(nil).Extract(nil, nil, nil))
	assert.Empty(t, NewLocator(nil).Extract(nil, mustSCTList(t, nil), nil))
	assert.Empty(t, NewLocator(nil).Extract(nil, []byte{0xFF}, []byte{0xFF}))
}