package flows

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/pkg/mdoc"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/pki"
)

type certifyState int

const (
	certifyNone certifyState = iota
	certifyStarted
	certifyOwnershipProved
	certifyCertsSent
)

// CertifyAuthKeys endorses a batch of wallet AuthKeys: the wallet proves it
// still holds the CredentialKey, submits AuthKey certificates bound to its
// ProofOfProvisioning, and receives one issuer-signed StaticAuthData per
// key.
type CertifyAuthKeys struct {
	base
	state certifyState

	bound     *boundDocument
	challenge []byte
}

// NewCertifyAuthKeys creates a certification flow in its initial state.
func NewCertifyAuthKeys(deps Deps) *CertifyAuthKeys {
	return &CertifyAuthKeys{base: base{deps: deps}}
}

func (f *CertifyAuthKeys) Handle(ctx context.Context, msgType string, body []byte) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch msgType {
	case MsgCertifyAuthKeys:
		return f.start(ctx, body)
	case MsgCertifyAuthKeysProveOwnershipResponse:
		return f.proveOwnership(body)
	case MsgCertifyAuthKeysSendCerts:
		return f.sendCerts(body)
	default:
		return nil, false, fmt.Errorf("%w: unexpected message %q", ErrProtocol, msgType)
	}
}

func (f *CertifyAuthKeys) start(ctx context.Context, body []byte) (any, bool, error) {
	if f.state != certifyNone {
		return nil, false, wrongState(MsgCertifyAuthKeys, int(f.state))
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
	f.state = certifyStarted
	return &ProveOwnershipMessage{
		MessageType: MsgCertifyAuthKeysProveOwnership,
		ESessionID:  f.sessionID,
		Challenge:   f.challenge,
	}, false, nil
}

func (f *CertifyAuthKeys) proveOwnership(body []byte) (any, bool, error) {
	if f.state != certifyStarted {
		return nil, false, wrongState(MsgCertifyAuthKeysProveOwnershipResponse, int(f.state))
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

	f.state = certifyOwnershipProved
	return &CertifyAuthKeysReadyMessage{
		MessageType: MsgCertifyAuthKeysReady,
		ESessionID:  f.sessionID,
	}, false, nil
}

func (f *CertifyAuthKeys) sendCerts(body []byte) (any, bool, error) {
	if f.state != certifyOwnershipProved {
		return nil, false, wrongState(MsgCertifyAuthKeysSendCerts, int(f.state))
	}
	var req sendCertsRequest
	if err := decode(body, &req); err != nil {
		return nil, false, err
	}
	if len(req.AuthKeyCerts) == 0 {
		return nil, false, fmt.Errorf("%w: no authKeyCerts", ErrProtocol)
	}

	nameSpaces, err := mdoc.DecodeNameSpaces(f.bound.document.NameSpaces)
	if err != nil {
		return nil, false, err
	}
	popSHA256 := sha256.Sum256(f.bound.configured.ProofOfProvisioning)

	staticAuthDatas := make([]cbor.RawMessage, 0, len(req.AuthKeyCerts))
	for _, certDER := range req.AuthKeyCerts {
		if err := pki.ValidateAuthKeyCertificate(certDER, f.bound.credentialKey, popSHA256[:]); err != nil {
			return nil, false, fmt.Errorf("%w: auth key cert not valid: %v", ErrCrypto, err)
		}
		authKey, err := pki.ChainPublicKey(certDER)
		if err != nil {
			return nil, false, err
		}
		staticAuthData, err := mdoc.BuildStaticAuthData(
			f.bound.document.DocType, nameSpaces, authKey, f.deps.IssuerKey, f.deps.IssuerCert)
		if err != nil {
			return nil, false, err
		}
		staticAuthDatas = append(staticAuthDatas, staticAuthData)
	}

	f.state = certifyCertsSent
	f.deps.Log.Info("auth keys certified",
		zap.Int("count", len(staticAuthDatas)),
		zap.String("eSessionId", f.sessionID))
	return &CertifyAuthKeysResponse{
		MessageType:     MsgCertifyAuthKeysResponse,
		ESessionID:      f.sessionID,
		StaticAuthDatas: staticAuthDatas,
	}, false, nil
}
