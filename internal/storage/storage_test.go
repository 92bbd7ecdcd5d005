package storage

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/pkg/pki"
)

func openSeeded(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SeedTestData(context.Background()))
	return s
}

func credentialKeyChain(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	chain, err := pki.CredentialKeyCertificate(key)
	require.NoError(t, err)
	return key, chain
}

func TestSeedLookups(t *testing.T) {
	s := openSeeded(t)
	ctx := context.Background()

	person, err := s.LookupPerson(ctx, SeedErikaPersonID)
	require.NoError(t, err)
	assert.Equal(t, "Erika Mustermann", person.Name)
	assert.NotEmpty(t, person.Portrait)

	persons, err := s.ListPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, persons, 2)

	docIDs, err := s.LookupDocumentsByPerson(ctx, SeedErikaPersonID)
	require.NoError(t, err)
	assert.Equal(t, []int64{SeedErikaDocumentID}, docIDs)

	issued, err := s.LookupIssuedDocumentByProvisioningCode(ctx, SeedErikaCode)
	require.NoError(t, err)
	assert.EqualValues(t, SeedErikaIssuedID, issued.IssuedDocumentID)
	assert.Nil(t, issued.ConsumedAt)

	_, err = s.LookupIssuedDocumentByProvisioningCode(ctx, "9999")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LookupPerson(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfiguredDocumentLifecycle(t *testing.T) {
	s := openSeeded(t)
	ctx := context.Background()

	key, chain := credentialKeyChain(t)
	doc, err := s.LookupDocument(ctx, SeedErikaDocumentID)
	require.NoError(t, err)

	pop := []byte("proof of provisioning")
	provisionedAt := Now()
	require.NoError(t, s.InsertConfiguredDocument(
		ctx, SeedErikaIssuedID, chain, pop, provisionedAt, doc.DataTimestamp))

	// Lookup by key lands on the inserted row, with the data timestamp
	// captured at provisioning time.
	cd, err := s.LookupConfiguredDocumentByCredentialKey(ctx, &key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, doc.DataTimestamp, cd.DataTimestamp)
	assert.Equal(t, pop, cd.ProofOfProvisioning)
	assert.Equal(t, chain, cd.CredentialKeyCertChain)
	assert.False(t, cd.ToDelete())

	// The provisioning code is consumed in the same transaction.
	issued, err := s.LookupIssuedDocument(ctx, SeedErikaIssuedID)
	require.NoError(t, err)
	require.NotNil(t, issued.ConsumedAt)
	assert.Equal(t, provisionedAt, *issued.ConsumedAt)

	ids, err := s.LookupConfiguredDocumentsByIssued(ctx, SeedErikaIssuedID)
	require.NoError(t, err)
	assert.Equal(t, []int64{cd.ConfiguredDocumentID}, ids)

	// Same CredentialKey cannot be configured twice.
	err = s.InsertConfiguredDocument(ctx, SeedErikaIssuedID, chain, pop, Now(), doc.DataTimestamp)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	// Update bumps proof and timestamps.
	newPop := []byte("updated proof")
	updatedAt := Now()
	require.NoError(t, s.UpdateConfiguredDocument(ctx, cd.ConfiguredDocumentID, newPop, updatedAt, doc.DataTimestamp+1))
	cd, err = s.LookupConfiguredDocumentByCredentialKey(ctx, &key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, newPop, cd.ProofOfProvisioning)
	assert.Equal(t, updatedAt, cd.LastUpdatedTimestamp)
	assert.Equal(t, doc.DataTimestamp+1, cd.DataTimestamp)

	// TO_DELETE is a one-way marker surfaced by ToDelete.
	require.NoError(t, s.UpdateConfiguredDocumentStatus(ctx, cd.ConfiguredDocumentID, StatusToDelete))
	cd, err = s.LookupConfiguredDocumentByCredentialKey(ctx, &key.PublicKey)
	require.NoError(t, err)
	assert.True(t, cd.ToDelete())

	// Delete removes the row; the parent issued document survives.
	require.NoError(t, s.DeleteConfiguredDocument(ctx, cd.ConfiguredDocumentID))
	_, err = s.LookupConfiguredDocumentByCredentialKey(ctx, &key.PublicKey)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LookupIssuedDocument(ctx, SeedErikaIssuedID)
	assert.NoError(t, err)

	require.ErrorIs(t, s.DeleteConfiguredDocument(ctx, cd.ConfiguredDocumentID), ErrNotFound)
}

func TestUpdateDocumentTestData(t *testing.T) {
	s := openSeeded(t)
	ctx := context.Background()

	before, err := s.LookupDocument(ctx, SeedErikaDocumentID)
	require.NoError(t, err)

	require.NoError(t, s.UpdateDocumentTestData(ctx, SeedErikaDocumentID))

	after, err := s.LookupDocument(ctx, SeedErikaDocumentID)
	require.NoError(t, err)
	assert.Greater(t, after.DataTimestamp, before.DataTimestamp)
	assert.Equal(t, before.NameSpaces, after.NameSpaces)
}
