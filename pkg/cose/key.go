// Package cose implements the COSE_Key and COSE_Sign1 containers used by the
// Identity Credential provisioning protocol (RFC 8152, restricted to EC2
// P-256 keys and ES256 signatures).
package cose

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"
)

// Labels and values from the "COSE Key Common Parameters" and "COSE Key Type
// Parameters" registries.
const (
	KeyTypeEC2 int64 = 2
	CurveP256  int64 = 1

	coordinateSize = 32
)

// Key is an EC2 COSE_Key. Only public key material is carried; the
// CredentialKey private half never leaves the wallet.
type Key struct {
	Kty int64  `cbor:"1,keyasint"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

// NewKey builds the COSE_Key form of a P-256 public key. Coordinates are
// fixed-width 32 byte big-endian so that the encoding is stable for a given
// key.
func NewKey(pub *ecdsa.PublicKey) (*Key, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return nil, ErrBadKey
	}
	return &Key{
		Kty: KeyTypeEC2,
		Crv: CurveP256,
		X:   pad32(pub.X.Bytes()),
		Y:   pad32(pub.Y.Bytes()),
	}, nil
}

// PublicKey converts the COSE_Key back into an ecdsa public key, rejecting
// anything that is not an EC2 key on P-256.
func (k *Key) PublicKey() (*ecdsa.PublicKey, error) {
	if k.Kty != KeyTypeEC2 {
		return nil, fmt.Errorf("%w: kty %d", ErrBadKey, k.Kty)
	}
	if k.Crv != CurveP256 {
		return nil, fmt.Errorf("%w: crv %d", ErrBadKey, k.Crv)
	}
	if len(k.X) == 0 || len(k.X) > coordinateSize || len(k.Y) == 0 || len(k.Y) > coordinateSize {
		return nil, fmt.Errorf("%w: coordinate length", ErrBadKey)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}, nil
}

// Encode returns the canonical CBOR encoding of the key. This encoding is
// the index under which a wallet's ConfiguredDocument is stored, so it must
// be deterministic.
func (k *Key) Encode() ([]byte, error) {
	return encMode.Marshal(k)
}

// EncodeKey is shorthand for NewKey followed by Encode.
func EncodeKey(pub *ecdsa.PublicKey) ([]byte, error) {
	k, err := NewKey(pub)
	if err != nil {
		return nil, err
	}
	return k.Encode()
}

// DecodeKey parses a CBOR encoded COSE_Key and returns the public key.
func DecodeKey(data []byte) (*ecdsa.PublicKey, error) {
	var k Key
	if err := decMode.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return k.PublicKey()
}

func pad32(b []byte) []byte {
	if len(b) >= coordinateSize {
		return b
	}
	out := make([]byte, coordinateSize)
	copy(out[coordinateSize-len(b):], b)
	return out
}
