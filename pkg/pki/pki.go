// Package pki issues and validates the X.509 certificates used by the
// Identity Credential provisioning protocol: the wallet's self-signed
// CredentialKey certificate, per-presentation AuthKey certificates endorsed
// by the CredentialKey, and the issuing authority's signing certificate.
package pki

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	credentialKeyCN = "Android Identity Credential Key"
	authKeyCN       = "Android Identity Credential Authentication Key"
	issuerSigningCN = "State Of Utopia Issuing Authority Signing Key"
	issuerRootCN    = "State Of Utopia"
)

// OIDProofOfBinding identifies the non-critical extension binding an AuthKey
// certificate to a ProofOfProvisioning digest.
var OIDProofOfBinding = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 26}

var (
	ErrCertParse        = errors.New("pki: certificate did not parse")
	ErrCertInvalid      = errors.New("pki: certificate did not validate")
	ErrNotECPublicKey   = errors.New("pki: certificate public key is not an EC key")
	ErrNoProofOfBinding = errors.New("pki: no ProofOfBinding extension")
)

// CredentialKeyCertificate builds the wallet-side self-signed certificate
// for a CredentialKey. The real wallet additionally carries the Android
// attestation extension; parsing of that extension is stubbed out here.
func CredentialKeyCertificate(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, big.NewInt(0).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: credentialKeyCN},
		Issuer:             pkix.Name{CommonName: credentialKeyCN},
		NotBefore:          now,
		NotAfter:           now.AddDate(1, 0, 0),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}

// AuthKeyCertificate certifies an AuthKey public key under the wallet's
// CredentialKey, embedding a ProofOfBinding extension whose value is the
// DER octet string wrapping of cbor(["ProofOfBinding", popSHA256]).
func AuthKeyCertificate(authKeyPub *ecdsa.PublicKey, credentialKey *ecdsa.PrivateKey, popSHA256 []byte) ([]byte, error) {
	pob, err := encodeProofOfBinding(popSHA256)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(1),
		Subject:            pkix.Name{CommonName: authKeyCN},
		NotBefore:          now,
		NotAfter:           now.AddDate(1, 0, 0),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		ExtraExtensions: []pkix.Extension{{
			Id:       OIDProofOfBinding,
			Critical: false,
			Value:    pob,
		}},
	}
	parent := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: credentialKeyCN},
	}
	return x509.CreateCertificate(rand.Reader, tmpl, parent, authKeyPub, credentialKey)
}

// IssuerCertificate builds the issuing authority's signing certificate used
// to countersign Mobile Security Objects.
func IssuerCertificate(issuerKey *ecdsa.PrivateKey) ([]byte, error) {
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(42),
		Subject:            pkix.Name{CommonName: issuerSigningCN},
		NotBefore:          now,
		NotAfter:           now.AddDate(5, 0, 0),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	parent := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: issuerRootCN},
	}
	return x509.CreateCertificate(rand.Reader, tmpl, parent, &issuerKey.PublicKey, issuerKey)
}

// ChainPublicKey returns the EC public key of the leaf certificate in a DER
// encoded chain. The protocol only ever sends a single certificate.
func ChainPublicKey(chainDER []byte) (*ecdsa.PublicKey, error) {
	cert, err := x509.ParseCertificate(chainDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertParse, err)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrNotECPublicKey
	}
	return pub, nil
}

// ValidateAuthKeyCertificate checks that certDER was signed by the given
// CredentialKey, names the expected subject, and carries a ProofOfBinding
// extension matching popSHA256.
func ValidateAuthKeyCertificate(certDER []byte, credentialKey *ecdsa.PublicKey, popSHA256 []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCertParse, err)
	}

	digest := sha256.Sum256(cert.RawTBSCertificate)
	if !ecdsa.VerifyASN1(credentialKey, digest[:], cert.Signature) {
		return fmt.Errorf("%w: not signed by CredentialKey", ErrCertInvalid)
	}

	if cert.Subject.CommonName != authKeyCN {
		return fmt.Errorf("%w: unexpected subject %q", ErrCertInvalid, cert.Subject.CommonName)
	}

	pobDigest, err := proofOfBindingDigest(cert)
	if err != nil {
		return err
	}
	if !bytes.Equal(pobDigest, popSHA256) {
		return fmt.Errorf("%w: ProofOfBinding digest mismatch", ErrCertInvalid)
	}
	return nil
}

// ValidateCredentialKeyChain is a placeholder: verifying the chain up to a
// well-known attestation root and checking the challenge inside the Android
// attestation extension is not implemented.
func ValidateCredentialKeyChain(chainDER []byte, challenge []byte) error {
	return nil
}

func encodeProofOfBinding(popSHA256 []byte) ([]byte, error) {
	encoded, err := cbor.Marshal([]any{"ProofOfBinding", popSHA256})
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(encoded)
}

func proofOfBindingDigest(cert *x509.Certificate) ([]byte, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(OIDProofOfBinding) {
			continue
		}
		var inner []byte
		if _, err := asn1.Unmarshal(ext.Value, &inner); err != nil {
			return nil, fmt.Errorf("%w: bad octet string: %v", ErrCertInvalid, err)
		}
		var pob []any
		if err := cbor.Unmarshal(inner, &pob); err != nil {
			return nil, fmt.Errorf("%w: bad ProofOfBinding cbor: %v", ErrCertInvalid, err)
		}
		if len(pob) < 2 {
			return nil, fmt.Errorf("%w: short ProofOfBinding array", ErrCertInvalid)
		}
		label, ok := pob[0].(string)
		if !ok || label != "ProofOfBinding" {
			return nil, fmt.Errorf("%w: bad ProofOfBinding label", ErrCertInvalid)
		}
		digest, ok := pob[1].([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: ProofOfBinding digest not a byte string", ErrCertInvalid)
		}
		return digest, nil
	}
	return nil, ErrNoProofOfBinding
}
