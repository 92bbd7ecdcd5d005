package server_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/internal/flows"
	"github.com/openwallet-foundation-labs/identity-credential/internal/server"
	"github.com/openwallet-foundation-labs/identity-credential/internal/session"
	"github.com/openwallet-foundation-labs/identity-credential/internal/storage"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/cose"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/mdoc"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/pki"
)

type testEnv struct {
	ts    *httptest.Server
	store *storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()

	store, err := storage.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.SeedTestData(context.Background()))

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerCert, err := pki.IssuerCertificate(issuerKey)
	require.NoError(t, err)

	sessions := session.NewRegistry(session.DefaultTTL, log)
	t.Cleanup(sessions.Stop)

	deps := flows.Deps{
		Store:      store,
		IssuerKey:  issuerKey,
		IssuerCert: issuerCert,
		Log:        log,
	}
	ts := httptest.NewServer(server.New(store, sessions, deps, log).Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store}
}

// post sends one protocol message and decodes the CBOR response into out.
func (e *testEnv) post(t *testing.T, msg map[string]any, out any) {
	t.Helper()
	body, err := cbor.Marshal(msg)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+"/mdlServer", "application/cbor", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/cbor", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, cbor.Unmarshal(raw, out))
}

// postStatus sends one message and returns only the HTTP status.
func (e *testEnv) postStatus(t *testing.T, msg map[string]any) int {
	t.Helper()
	body, err := cbor.Marshal(msg)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+"/mdlServer", "application/cbor", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

type wallet struct {
	key   *ecdsa.PrivateKey
	chain []byte
	pop   []byte
}

func newWallet(t *testing.T) *wallet {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	chain, err := pki.CredentialKeyCertificate(key)
	require.NoError(t, err)
	return &wallet{key: key, chain: chain}
}

func (w *wallet) coseKey(t *testing.T) cbor.RawMessage {
	t.Helper()
	encoded, err := cose.EncodeKey(&w.key.PublicKey)
	require.NoError(t, err)
	return encoded
}

func (w *wallet) sign(t *testing.T, payload []byte) []byte {
	t.Helper()
	sig, err := cose.Sign1(w.key, payload, nil)
	require.NoError(t, err)
	return sig
}

func (w *wallet) signProofOfProvisioning(t *testing.T, acp, ns cbor.RawMessage) []byte {
	t.Helper()
	payload, err := mdoc.EncodeProofOfProvisioning(mdoc.DocTypeMDL, acp, ns, false)
	require.NoError(t, err)
	w.pop = payload
	return w.sign(t, payload)
}

func (w *wallet) signProofOfOwnership(t *testing.T, challenge []byte) []byte {
	t.Helper()
	payload, err := mdoc.EncodeProofOfOwnership(mdoc.DocTypeMDL, challenge, false)
	require.NoError(t, err)
	return w.sign(t, payload)
}

func (w *wallet) signProofOfDeletion(t *testing.T, challenge []byte) []byte {
	t.Helper()
	payload, err := mdoc.EncodeProofOfDeletion(mdoc.DocTypeMDL, challenge, false)
	require.NoError(t, err)
	return w.sign(t, payload)
}

// provision runs the happy provisioning flow over HTTP with the seeded
// Erika code.
func provision(t *testing.T, e *testEnv, w *wallet) {
	t.Helper()

	var ready flows.ReadyToProvisionMessage
	e.post(t, map[string]any{
		"messageType":      flows.MsgStartProvisioningGeneric,
		"provisioningCode": storage.SeedErikaCode,
	}, &ready)
	require.Equal(t, flows.MsgReadyToProvision, ready.MessageType)
	require.Len(t, ready.ESessionID, 16)
	sid := ready.ESessionID

	var pr flows.ProvisioningResponse
	e.post(t, map[string]any{
		"messageType": flows.MsgStartProvisioning,
		"eSessionId":  sid,
	}, &pr)
	require.Equal(t, mdoc.DocTypeMDL, pr.DocType)
	require.NotEmpty(t, pr.Challenge)
	require.Equal(t, sid, pr.ESessionID)

	var data flows.DataToProvisionMessage
	e.post(t, map[string]any{
		"messageType":                   flows.MsgSetCertificateChain,
		"eSessionId":                    sid,
		"credentialKeyCertificateChain": w.chain,
	}, &data)
	require.Equal(t, flows.MsgDataToProvision, data.MessageType)

	ns, err := mdoc.DecodeNameSpaces(data.NameSpaces)
	require.NoError(t, err)
	require.Contains(t, ns, mdoc.NamespaceISO)
	require.Contains(t, ns, mdoc.NamespaceAAMVA)

	var acps []mdoc.AccessControlProfile
	require.NoError(t, cbor.Unmarshal(data.AccessControlProfiles, &acps))
	require.Equal(t, []mdoc.AccessControlProfile{
		{ID: 0, UserAuthenticationRequired: true, TimeoutMillis: 1000},
	}, acps)

	var end flows.EndSessionMessage
	e.post(t, map[string]any{
		"messageType":                  flows.MsgSetProofOfProvisioning,
		"eSessionId":                   sid,
		"proofOfProvisioningSignature": w.signProofOfProvisioning(t, data.AccessControlProfiles, data.NameSpaces),
	}, &end)
	require.Equal(t, flows.MsgEndSession, end.MessageType)
	require.Equal(t, flows.ReasonSuccess, end.Reason)
}

// runUpdate drives an update flow to the dispatch response.
func runUpdate(t *testing.T, e *testEnv, w *wallet) (string, flows.UpdateCredentialResponse) {
	t.Helper()
	var po flows.ProveOwnershipMessage
	e.post(t, map[string]any{
		"messageType":   flows.MsgUpdateCredential,
		"credentialKey": w.coseKey(t),
	}, &po)
	require.Equal(t, flows.MsgUpdateCredentialProveOwnership, po.MessageType)

	var ur flows.UpdateCredentialResponse
	e.post(t, map[string]any{
		"messageType":               flows.MsgUpdateCredentialProveOwnershipResponse,
		"eSessionId":                po.ESessionID,
		"proofOfOwnershipSignature": w.signProofOfOwnership(t, po.Challenge),
	}, &ur)
	return po.ESessionID, ur
}

func TestHappyProvisioning(t *testing.T) {
	e := newTestEnv(t)
	w := newWallet(t)
	provision(t, e, w)

	cd, err := e.store.LookupConfiguredDocumentByCredentialKey(
		context.Background(), &w.key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, w.pop, cd.ProofOfProvisioning)
}

func TestCertifyAuthKeys(t *testing.T) {
	e := newTestEnv(t)
	w := newWallet(t)
	provision(t, e, w)

	var po flows.ProveOwnershipMessage
	e.post(t, map[string]any{
		"messageType":   flows.MsgCertifyAuthKeys,
		"credentialKey": w.coseKey(t),
	}, &po)
	require.Equal(t, flows.MsgCertifyAuthKeysProveOwnership, po.MessageType)

	var readyMsg flows.CertifyAuthKeysReadyMessage
	e.post(t, map[string]any{
		"messageType":               flows.MsgCertifyAuthKeysProveOwnershipResponse,
		"eSessionId":                po.ESessionID,
		"proofOfOwnershipSignature": w.signProofOfOwnership(t, po.Challenge),
	}, &readyMsg)
	require.Equal(t, flows.MsgCertifyAuthKeysReady, readyMsg.MessageType)

	popSHA := sha256.Sum256(w.pop)
	var certs [][]byte
	for i := 0; i < 3; i++ {
		authKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		cert, err := pki.AuthKeyCertificate(&authKey.PublicKey, w.key, popSHA[:])
		require.NoError(t, err)
		certs = append(certs, cert)
	}

	var car flows.CertifyAuthKeysResponse
	e.post(t, map[string]any{
		"messageType":  flows.MsgCertifyAuthKeysSendCerts,
		"eSessionId":   po.ESessionID,
		"authKeyCerts": certs,
	}, &car)
	require.Len(t, car.StaticAuthDatas, 3)
	for _, raw := range car.StaticAuthDatas {
		var sad mdoc.StaticAuthData
		require.NoError(t, cbor.Unmarshal(raw, &sad))
		assert.NotEmpty(t, sad.IssuerAuth)
		assert.NotEmpty(t, sad.DigestIDMapping)
	}

	// The wallet is done with the session.
	var end flows.EndSessionMessage
	e.post(t, map[string]any{
		"messageType": flows.MsgRequestEndSession,
		"eSessionId":  po.ESessionID,
	}, &end)
	assert.Equal(t, flows.ReasonSuccess, end.Reason)

	// The session is gone afterwards.
	status := e.postStatus(t, map[string]any{
		"messageType": flows.MsgRequestEndSession,
		"eSessionId":  po.ESessionID,
	})
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestUpdateNoUpdate(t *testing.T) {
	e := newTestEnv(t)
	w := newWallet(t)
	provision(t, e, w)

	_, ur := runUpdate(t, e, w)
	assert.Equal(t, flows.ResultNoUpdate, ur.UpdateCredentialResult)
}

func TestUpdateAfterAdminBump(t *testing.T) {
	e := newTestEnv(t)
	w := newWallet(t)
	provision(t, e, w)

	// Admin re-issues Erika's document.
	resp, err := http.Post(e.ts.URL+"/admin/documents/11/update", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sid, ur := runUpdate(t, e, w)
	require.Equal(t, flows.ResultUpdate, ur.UpdateCredentialResult)

	var data flows.DataToProvisionMessage
	e.post(t, map[string]any{
		"messageType": flows.MsgUpdateCredentialGetDataToUpdate,
		"eSessionId":  sid,
	}, &data)
	require.Equal(t, flows.MsgUpdateCredentialDataToProvision, data.MessageType)

	var end flows.EndSessionMessage
	e.post(t, map[string]any{
		"messageType":                  flows.MsgUpdateCredentialSetProofOfProvisioning,
		"eSessionId":                   sid,
		"proofOfProvisioningSignature": w.signProofOfProvisioning(t, data.AccessControlProfiles, data.NameSpaces),
	}, &end)
	require.Equal(t, flows.ReasonSuccess, end.Reason)

	_, ur = runUpdate(t, e, w)
	assert.Equal(t, flows.ResultNoUpdate, ur.UpdateCredentialResult)
}

func TestDeleteCredential(t *testing.T) {
	e := newTestEnv(t)
	w := newWallet(t)
	provision(t, e, w)

	var po flows.ProveOwnershipMessage
	e.post(t, map[string]any{
		"messageType":   flows.MsgDeleteCredential,
		"credentialKey": w.coseKey(t),
	}, &po)
	require.Equal(t, flows.MsgDeleteCredentialProveOwnership, po.MessageType)

	var ready flows.ProveOwnershipMessage
	e.post(t, map[string]any{
		"messageType":               flows.MsgDeleteCredentialProveOwnershipResponse,
		"eSessionId":                po.ESessionID,
		"proofOfOwnershipSignature": w.signProofOfOwnership(t, po.Challenge),
	}, &ready)
	require.Equal(t, flows.MsgDeleteCredentialReadyForDeletion, ready.MessageType)

	var end flows.EndSessionMessage
	e.post(t, map[string]any{
		"messageType":              flows.MsgDeleteCredentialDeleted,
		"eSessionId":               po.ESessionID,
		"proofOfDeletionSignature": w.signProofOfDeletion(t, ready.Challenge),
	}, &end)
	require.Equal(t, flows.ReasonSuccess, end.Reason)

	// The credential is gone; a new update flow fails the session.
	var failed flows.EndSessionMessage
	e.post(t, map[string]any{
		"messageType":   flows.MsgUpdateCredential,
		"credentialKey": w.coseKey(t),
	}, &failed)
	assert.Equal(t, flows.ReasonFailed, failed.Reason)
	assert.Contains(t, failed.Message, "no configured document")
}

func TestBadProvisioningCode(t *testing.T) {
	e := newTestEnv(t)

	var end flows.EndSessionMessage
	e.post(t, map[string]any{
		"messageType":      flows.MsgStartProvisioningGeneric,
		"provisioningCode": "9999",
	}, &end)
	assert.Equal(t, flows.MsgEndSession, end.MessageType)
	assert.Equal(t, flows.ReasonFailed, end.Reason)
	assert.Contains(t, end.Message, "no issued document")
}

func TestDispatcherErrors(t *testing.T) {
	e := newTestEnv(t)

	// Unknown message type.
	assert.Equal(t, http.StatusInternalServerError,
		e.postStatus(t, map[string]any{"messageType": "com.example.Nonsense"}))

	// Continuation for a session that does not exist.
	assert.Equal(t, http.StatusInternalServerError,
		e.postStatus(t, map[string]any{
			"messageType": flows.MsgStartProvisioning,
			"eSessionId":  "0000000000000000",
		}))

	// Not CBOR at all.
	resp, err := http.Post(e.ts.URL+"/mdlServer", "application/cbor",
		bytes.NewReader([]byte("definitely not cbor at all, really not")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAdminPlane(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.ts.URL + "/admin/persons")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var persons []struct {
		PersonID int64  `json:"personId"`
		Name     string `json:"name"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&persons))
	require.Len(t, persons, 2)

	detail, err := http.Get(e.ts.URL + "/admin/persons/10")
	require.NoError(t, err)
	defer detail.Body.Close()
	var person struct {
		PersonID    int64   `json:"personId"`
		Name        string  `json:"name"`
		DocumentIDs []int64 `json:"documentIds"`
	}
	require.NoError(t, json.NewDecoder(detail.Body).Decode(&person))
	assert.Equal(t, "Erika Mustermann", person.Name)
	assert.Equal(t, []int64{11}, person.DocumentIDs)

	portrait, err := http.Get(e.ts.URL + "/admin/portrait?person_id=10")
	require.NoError(t, err)
	defer portrait.Body.Close()
	assert.Equal(t, http.StatusOK, portrait.StatusCode)
	assert.Equal(t, "image/jpeg", portrait.Header.Get("Content-Type"))

	missing, err := http.Get(e.ts.URL + "/admin/persons/404")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMarkToDelete(t *testing.T) {
	e := newTestEnv(t)
	w := newWallet(t)
	provision(t, e, w)

	cd, err := e.store.LookupConfiguredDocumentByCredentialKey(
		context.Background(), &w.key.PublicKey)
	require.NoError(t, err)

	url := e.ts.URL + "/admin/configured/" + itoa(cd.ConfiguredDocumentID) + "/to-delete"
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, ur := runUpdate(t, e, w)
	assert.Equal(t, flows.ResultDelete, ur.UpdateCredentialResult)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
