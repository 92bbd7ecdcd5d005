package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const issuerKeyPEMType = "EC PRIVATE KEY"

// LoadOrGenerateIssuerKey returns the MSO signing key. With a path the key
// persists across restarts: loaded when the file exists, otherwise
// generated and written. An empty path yields an ephemeral per-process key.
func LoadOrGenerateIssuerKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != issuerKeyPEMType {
			return nil, fmt.Errorf("no EC private key in %s", path)
		}
		return x509.ParseECPrivateKey(block.Bytes)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	encoded := pem.EncodeToMemory(&pem.Block{Type: issuerKeyPEMType, Bytes: der})
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
