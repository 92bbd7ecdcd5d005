package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerateIssuerKeyEphemeral(t *testing.T) {
	k1, err := LoadOrGenerateIssuerKey("")
	require.NoError(t, err)
	k2, err := LoadOrGenerateIssuerKey("")
	require.NoError(t, err)
	assert.False(t, k1.PublicKey.Equal(&k2.PublicKey))
}

func TestLoadOrGenerateIssuerKeyPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issuer.pem")

	generated, err := LoadOrGenerateIssuerKey(path)
	require.NoError(t, err)

	loaded, err := LoadOrGenerateIssuerKey(path)
	require.NoError(t, err)
	assert.True(t, generated.PublicKey.Equal(&loaded.PublicKey))
}

func TestLoadOrGenerateIssuerKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issuer.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem file"), 0o600))

	_, err := LoadOrGenerateIssuerKey(path)
	assert.Error(t, err)
}
