package flows

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/internal/storage"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/cose"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/mdoc"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/pki"
)

var (
	// ErrProtocol covers unknown message types, missing fields and
	// messages arriving in the wrong state.
	ErrProtocol = errors.New("flows: protocol error")
	// ErrCrypto covers signature, certificate and challenge failures.
	ErrCrypto = errors.New("flows: proof did not verify")
)

// challengeSize is the length in bytes of a minted session challenge.
const challengeSize = 16

// Deps are the collaborators shared by all flows.
type Deps struct {
	Store      *storage.Store
	IssuerKey  *ecdsa.PrivateKey
	IssuerCert []byte
	Log        *zap.Logger
}

// base carries what every flow instance has: its dependencies, the
// eSessionId minted for it, and the mutex serialising transitions. Two
// requests for the same session may arrive in parallel (a client retry is
// enough); holding mu for the whole transition keeps state reads and
// writes at message granularity.
type base struct {
	mu        sync.Mutex
	deps      Deps
	sessionID string
}

// SetSession binds the flow to its registry-minted eSessionId. Must be
// called before the first Handle.
func (b *base) SetSession(id string) { b.sessionID = id }

func (b *base) endSuccess() *EndSessionMessage {
	return &EndSessionMessage{
		MessageType: MsgEndSession,
		ESessionID:  b.sessionID,
		Reason:      ReasonSuccess,
	}
}

func newChallenge() ([]byte, error) {
	c := make([]byte, challengeSize)
	if _, err := rand.Read(c); err != nil {
		return nil, err
	}
	return c, nil
}

// verifyProof checks an attached-payload COSE_Sign1 under pub and returns
// the payload it covers.
func verifyProof(pub *ecdsa.PublicKey, signature []byte, what string) ([]byte, error) {
	if len(signature) == 0 {
		return nil, fmt.Errorf("%w: no %s", ErrProtocol, what)
	}
	payload, err := cose.Payload1(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCrypto, what, err)
	}
	if err := cose.Verify1(pub, signature, nil); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCrypto, what, err)
	}
	return payload, nil
}

// checkChallenge binds a signed proof payload to the challenge minted for
// this session.
func checkChallenge(payload, want []byte) error {
	got, err := mdoc.ProofChallenge(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: challenge mismatch", ErrCrypto)
	}
	return nil
}

func decode(body []byte, v any) error {
	if err := cbor.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

func wrongState(msgType string, state int) error {
	return fmt.Errorf("%w: %s called from invalid state (%d)", ErrProtocol, msgType, state)
}

// boundDocument is the row set a CredentialKey-initiated flow operates on.
// The key used for proof verification is re-derived from the stored
// certificate chain, not taken from the wire.
type boundDocument struct {
	configured    *storage.ConfiguredDocument
	issued        *storage.IssuedDocument
	document      *storage.Document
	credentialKey *ecdsa.PublicKey
}

func (b *base) bindCredentialKey(ctx context.Context, body []byte) (*boundDocument, error) {
	var req credentialKeyRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}
	if len(req.CredentialKey) == 0 {
		return nil, fmt.Errorf("%w: no credentialKey", ErrProtocol)
	}
	pub, err := cose.DecodeKey(req.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("error decoding COSE_Key for CredentialKey: %w", err)
	}

	configured, err := b.deps.Store.LookupConfiguredDocumentByCredentialKey(ctx, pub)
	if err != nil {
		return nil, err
	}
	credentialKey, err := pki.ChainPublicKey(configured.CredentialKeyCertChain)
	if err != nil {
		return nil, err
	}
	issued, err := b.deps.Store.LookupIssuedDocument(ctx, configured.IssuedDocumentID)
	if err != nil {
		return nil, err
	}
	document, err := b.deps.Store.LookupDocument(ctx, issued.DocumentID)
	if err != nil {
		return nil, err
	}
	return &boundDocument{
		configured:    configured,
		issued:        issued,
		document:      document,
		credentialKey: credentialKey,
	}, nil
}
