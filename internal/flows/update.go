package flows

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/internal/storage"
)

type updateState int

const (
	updateNone updateState = iota
	updateStarted
	updateNoUpdate
	updateDelete
	updateUpdate
	updateGotData
	updateDone
)

// Update lets a wallet check whether its copy of a credential is stale.
// After proof of ownership the flow branches three ways: the document is
// marked for deletion, is unchanged, or has newer data the wallet should
// re-provision.
type Update struct {
	base
	state updateState

	bound     *boundDocument
	challenge []byte
}

// NewUpdate creates an update flow in its initial state.
func NewUpdate(deps Deps) *Update {
	return &Update{base: base{deps: deps}}
}

func (f *Update) Handle(ctx context.Context, msgType string, body []byte) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch msgType {
	case MsgUpdateCredential:
		return f.start(ctx, body)
	case MsgUpdateCredentialProveOwnershipResponse:
		return f.proveOwnership(body)
	case MsgUpdateCredentialGetDataToUpdate:
		return f.dataToUpdate()
	case MsgUpdateCredentialSetProofOfProvisioning:
		return f.setProofOfProvisioning(ctx, body)
	default:
		return nil, false, fmt.Errorf("%w: unexpected message %q", ErrProtocol, msgType)
	}
}

func (f *Update) start(ctx context.Context, body []byte) (any, bool, error) {
	if f.state != updateNone {
		return nil, false, wrongState(MsgUpdateCredential, int(f.state))
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
	f.state = updateStarted
	return &ProveOwnershipMessage{
		MessageType: MsgUpdateCredentialProveOwnership,
		ESessionID:  f.sessionID,
		Challenge:   f.challenge,
	}, false, nil
}

func (f *Update) proveOwnership(body []byte) (any, bool, error) {
	if f.state != updateStarted {
		return nil, false, wrongState(MsgUpdateCredentialProveOwnershipResponse, int(f.state))
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

	var result string
	switch {
	case f.bound.configured.ToDelete():
		f.state = updateDelete
		result = ResultDelete
	case f.bound.document.DataTimestamp == f.bound.configured.DataTimestamp:
		f.state = updateNoUpdate
		result = ResultNoUpdate
	default:
		f.state = updateUpdate
		result = ResultUpdate
	}
	f.deps.Log.Debug("update dispatch",
		zap.String("result", result),
		zap.String("eSessionId", f.sessionID))
	return &UpdateCredentialResponse{
		MessageType:            MsgUpdateCredentialResponse,
		ESessionID:             f.sessionID,
		UpdateCredentialResult: result,
	}, false, nil
}

func (f *Update) dataToUpdate() (any, bool, error) {
	if f.state != updateUpdate {
		return nil, false, wrongState(MsgUpdateCredentialGetDataToUpdate, int(f.state))
	}
	f.state = updateGotData
	return &DataToProvisionMessage{
		MessageType:           MsgUpdateCredentialDataToProvision,
		ESessionID:            f.sessionID,
		AccessControlProfiles: f.bound.document.AccessControlProfiles,
		NameSpaces:            f.bound.document.NameSpaces,
	}, false, nil
}

func (f *Update) setProofOfProvisioning(ctx context.Context, body []byte) (any, bool, error) {
	if f.state != updateGotData {
		return nil, false, wrongState(MsgUpdateCredentialSetProofOfProvisioning, int(f.state))
	}
	var req proofOfProvisioningRequest
	if err := decode(body, &req); err != nil {
		return nil, false, err
	}
	pop, err := verifyProof(f.bound.credentialKey, req.ProofOfProvisioningSignature, "proofOfProvisioningSignature")
	if err != nil {
		return nil, false, err
	}

	err = f.deps.Store.UpdateConfiguredDocument(ctx,
		f.bound.configured.ConfiguredDocumentID, pop, storage.Now(), f.bound.document.DataTimestamp)
	if err != nil {
		return nil, false, err
	}

	f.state = updateDone
	f.deps.Log.Info("credential updated",
		zap.Int64("configuredDocumentID", f.bound.configured.ConfiguredDocumentID),
		zap.String("eSessionId", f.sessionID))
	return f.endSuccess(), true, nil
}
