package flows

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/internal/storage"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/pki"
)

type provisioningState int

const (
	provisioningNone provisioningState = iota
	provisioningStartedGeneric
	provisioningStarted
	provisioningCertChainSet
	provisioningDone
)

// Provisioning walks a wallet through first-time issuance: redeem a
// provisioning code, attest a CredentialKey, receive the document data and
// close with a ProofOfProvisioning.
type Provisioning struct {
	base
	state provisioningState

	issued        *storage.IssuedDocument
	document      *storage.Document
	challenge     []byte
	certChain     []byte
	credentialKey *ecdsa.PublicKey
}

// NewProvisioning creates a provisioning flow in its initial state.
func NewProvisioning(deps Deps) *Provisioning {
	return &Provisioning{base: base{deps: deps}}
}

func (f *Provisioning) Handle(ctx context.Context, msgType string, body []byte) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch msgType {
	case MsgStartProvisioningGeneric:
		return f.start(ctx, body)
	case MsgStartProvisioning:
		return f.issueChallenge()
	case MsgSetCertificateChain:
		return f.setCertificateChain(body)
	case MsgSetProofOfProvisioning:
		return f.setProofOfProvisioning(ctx, body)
	default:
		return nil, false, fmt.Errorf("%w: unexpected message %q", ErrProtocol, msgType)
	}
}

func (f *Provisioning) start(ctx context.Context, body []byte) (any, bool, error) {
	if f.state != provisioningNone {
		return nil, false, wrongState(MsgStartProvisioningGeneric, int(f.state))
	}
	var req startProvisioningRequest
	if err := decode(body, &req); err != nil {
		return nil, false, err
	}
	if req.ProvisioningCode == "" {
		return nil, false, fmt.Errorf("%w: no provisioning code", ErrProtocol)
	}

	issued, err := f.deps.Store.LookupIssuedDocumentByProvisioningCode(ctx, req.ProvisioningCode)
	if err != nil {
		return nil, false, fmt.Errorf("no issued document for provisioning code: %w", err)
	}
	if issued.ConsumedAt != nil {
		return nil, false, fmt.Errorf("%w: provisioning code already used", ErrProtocol)
	}
	document, err := f.deps.Store.LookupDocument(ctx, issued.DocumentID)
	if err != nil {
		return nil, false, fmt.Errorf("no document for issued document: %w", err)
	}

	f.issued = issued
	f.document = document
	f.state = provisioningStartedGeneric
	return &ReadyToProvisionMessage{
		MessageType: MsgReadyToProvision,
		ESessionID:  f.sessionID,
	}, false, nil
}

func (f *Provisioning) issueChallenge() (any, bool, error) {
	if f.state != provisioningStartedGeneric {
		return nil, false, wrongState(MsgStartProvisioning, int(f.state))
	}
	challenge, err := newChallenge()
	if err != nil {
		return nil, false, err
	}
	f.challenge = challenge
	f.state = provisioningStarted
	return &ProvisioningResponse{
		MessageType: MsgProvisioningResponse,
		ESessionID:  f.sessionID,
		Challenge:   f.challenge,
		DocType:     f.document.DocType,
	}, false, nil
}

func (f *Provisioning) setCertificateChain(body []byte) (any, bool, error) {
	if f.state != provisioningStarted {
		return nil, false, wrongState(MsgSetCertificateChain, int(f.state))
	}
	var req setCertificateChainRequest
	if err := decode(body, &req); err != nil {
		return nil, false, err
	}
	if len(req.CredentialKeyCertificateChain) == 0 {
		return nil, false, fmt.Errorf("%w: no certificate chain", ErrProtocol)
	}
	if err := pki.ValidateCredentialKeyChain(req.CredentialKeyCertificateChain, f.challenge); err != nil {
		return nil, false, fmt.Errorf("%w: certificate chain did not validate: %v", ErrCrypto, err)
	}
	pub, err := pki.ChainPublicKey(req.CredentialKeyCertificateChain)
	if err != nil {
		return nil, false, err
	}

	f.certChain = req.CredentialKeyCertificateChain
	f.credentialKey = pub
	f.state = provisioningCertChainSet
	return &DataToProvisionMessage{
		MessageType:           MsgDataToProvision,
		ESessionID:            f.sessionID,
		AccessControlProfiles: f.document.AccessControlProfiles,
		NameSpaces:            f.document.NameSpaces,
	}, false, nil
}

func (f *Provisioning) setProofOfProvisioning(ctx context.Context, body []byte) (any, bool, error) {
	if f.state != provisioningCertChainSet {
		return nil, false, wrongState(MsgSetProofOfProvisioning, int(f.state))
	}
	var req proofOfProvisioningRequest
	if err := decode(body, &req); err != nil {
		return nil, false, err
	}
	pop, err := verifyProof(f.credentialKey, req.ProofOfProvisioningSignature, "proofOfProvisioningSignature")
	if err != nil {
		return nil, false, err
	}

	err = f.deps.Store.InsertConfiguredDocument(ctx,
		f.issued.IssuedDocumentID, f.certChain, pop, storage.Now(), f.document.DataTimestamp)
	if err != nil {
		return nil, false, err
	}

	f.state = provisioningDone
	f.deps.Log.Info("credential provisioned",
		zap.Int64("issuedDocumentID", f.issued.IssuedDocumentID),
		zap.String("eSessionId", f.sessionID))
	return f.endSuccess(), true, nil
}
