package flows

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type deleteState int

const (
	deleteNone deleteState = iota
	deleteStarted
	deleteOwnershipProved
	deleteDone
)

// Delete removes a wallet's configured document once the wallet has proved
// ownership of the CredentialKey and signed a ProofOfDeletion over a fresh
// challenge.
type Delete struct {
	base
	state deleteState

	bound           *boundDocument
	challenge       []byte
	deleteChallenge []byte
}

// NewDelete creates a deletion flow in its initial state.
func NewDelete(deps Deps) *Delete {
	return &Delete{base: base{deps: deps}}
}

func (f *Delete) Handle(ctx context.Context, msgType string, body []byte) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch msgType {
	case MsgDeleteCredential:
		return f.start(ctx, body)
	case MsgDeleteCredentialProveOwnershipResponse:
		return f.proveOwnership(body)
	case MsgDeleteCredentialDeleted:
		return f.deleted(ctx, body)
	default:
		return nil, false, fmt.Errorf("%w: unexpected message %q", ErrProtocol, msgType)
	}
}

func (f *Delete) start(ctx context.Context, body []byte) (any, bool, error) {
	if f.state != deleteNone {
		return nil, false, wrongState(MsgDeleteCredential, int(f.state))
	}
	bound, err := f.bindCredentialKey(ctx, body)
	if err != nil {
		return nil, false, err
	}
	challenge, err := newChallenge()
	if err != nil {
		return nil, false, err
	}

	f.bound = bound
	f.challenge = challenge
	f.state = deleteStarted
	return &ProveOwnershipMessage{
		MessageType: MsgDeleteCredentialProveOwnership,
		ESessionID:  f.sessionID,
		Challenge:   f.challenge,
	}, false, nil
}

func (f *Delete) proveOwnership(body []byte) (any, bool, error) {
	if f.state != deleteStarted {
		return nil, false, wrongState(MsgDeleteCredentialProveOwnershipResponse, int(f.state))
	}
	var req proofOfOwnershipRequest
	if err := decode(body, &req); err != nil {
		return nil, false, err
	}
	poo, err := verifyProof(f.bound.credentialKey, req.ProofOfOwnershipSignature, "proofOfOwnershipSignature")
	if err != nil {
		return nil, false, err
	}
	if err := checkChallenge(poo, f.challenge); err != nil {
		return nil, false, err
	}

	deleteChallenge, err := newChallenge()
	if err != nil {
		return nil, false, err
	}
	f.deleteChallenge = deleteChallenge
	f.state = deleteOwnershipProved
	return &ProveOwnershipMessage{
		MessageType: MsgDeleteCredentialReadyForDeletion,
		ESessionID:  f.sessionID,
		Challenge:   f.deleteChallenge,
	}, false, nil
}

func (f *Delete) deleted(ctx context.Context, body []byte) (any, bool, error) {
	if f.state != deleteOwnershipProved {
		return nil, false, wrongState(MsgDeleteCredentialDeleted, int(f.state))
	}
	var req proofOfDeletionRequest
	if err := decode(body, &req); err != nil {
		return nil, false, err
	}
	pod, err := verifyProof(f.bound.credentialKey, req.ProofOfDeletionSignature, "proofOfDeletionSignature")
	if err != nil {
		return nil, false, err
	}
	if err := checkChallenge(pod, f.deleteChallenge); err != nil {
		return nil, false, err
	}

	err = f.deps.Store.DeleteConfiguredDocument(ctx, f.bound.configured.ConfiguredDocumentID)
	if err != nil {
		return nil, false, err
	}

	f.state = deleteDone
	f.deps.Log.Info("credential deleted",
		zap.Int64("configuredDocumentID", f.bound.configured.ConfiguredDocumentID),
		zap.String("eSessionId", f.sessionID))
	return f.endSuccess(), true, nil
}
