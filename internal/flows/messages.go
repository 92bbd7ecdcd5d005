// Package flows implements the four credential lifecycle state machines of
// the Identity Credential provisioning protocol: provisioning, auth key
// certification, update and deletion. Each flow consumes CBOR messages
// delivered by the HTTP dispatcher and replies with the next protocol
// message; a message arriving in the wrong state ends the session.
package flows

import (
	"github.com/fxamacker/cbor/v2"
)

// typePrefix is the reverse-domain prefix all non-initial message types
// carry on the wire.
const typePrefix = "com.android.identity_credential."

// Request message types.
const (
	MsgStartProvisioningGeneric = "StartProvisioning"
	MsgRequestEndSession        = "RequestEndSession"

	MsgStartProvisioning      = typePrefix + "StartProvisioning"
	MsgSetCertificateChain    = typePrefix + "SetCertificateChain"
	MsgSetProofOfProvisioning = typePrefix + "SetProofOfProvisioning"

	MsgCertifyAuthKeys                       = typePrefix + "CertifyAuthKeys"
	MsgCertifyAuthKeysProveOwnershipResponse = typePrefix + "CertifyAuthKeysProveOwnershipResponse"
	MsgCertifyAuthKeysSendCerts              = typePrefix + "CertifyAuthKeysSendCerts"

	MsgUpdateCredential                       = typePrefix + "UpdateCredential"
	MsgUpdateCredentialProveOwnershipResponse = typePrefix + "UpdateCredentialProveOwnershipResponse"
	MsgUpdateCredentialGetDataToUpdate        = typePrefix + "UpdateCredentialGetDataToUpdate"
	MsgUpdateCredentialSetProofOfProvisioning = typePrefix + "UpdateCredentialSetProofOfProvisioning"

	MsgDeleteCredential                       = typePrefix + "DeleteCredential"
	MsgDeleteCredentialProveOwnershipResponse = typePrefix + "DeleteCredentialProveOwnershipResponse"
	MsgDeleteCredentialDeleted                = typePrefix + "DeleteCredentialDeleted"
)

// Response message types.
const (
	MsgReadyToProvision = "ReadyToProvisionMessage"
	MsgEndSession       = "EndSessionMessage"

	MsgProvisioningResponse = typePrefix + "ProvisioningResponse"
	MsgDataToProvision      = typePrefix + "DataToProvisionMessage"

	MsgCertifyAuthKeysProveOwnership = typePrefix + "CertifyAuthKeysProveOwnership"
	MsgCertifyAuthKeysReady          = typePrefix + "CertifyAuthKeysReady"
	MsgCertifyAuthKeysResponse       = typePrefix + "CertifyAuthKeysResponse"

	MsgUpdateCredentialProveOwnership  = typePrefix + "UpdateCredentialProveOwnership"
	MsgUpdateCredentialResponse        = typePrefix + "UpdateCredentialResponse"
	MsgUpdateCredentialDataToProvision = typePrefix + "UpdateCredentialDataToProvisionMessage"

	MsgDeleteCredentialProveOwnership   = typePrefix + "DeleteCredentialProveOwnership"
	MsgDeleteCredentialReadyForDeletion = typePrefix + "DeleteCredentialReadyForDeletion"
)

// EndSessionMessage reasons.
const (
	ReasonSuccess = "Success"
	ReasonFailed  = "Failed"
)

// updateCredentialResult values.
const (
	ResultNoUpdate = "no_update"
	ResultUpdate   = "update"
	ResultDelete   = "delete"
)

// Envelope is the part of every request common to all message types.
type Envelope struct {
	MessageType string `cbor:"messageType"`
	ESessionID  string `cbor:"eSessionId"`
}

type startProvisioningRequest struct {
	ProvisioningCode string `cbor:"provisioningCode"`
}

type setCertificateChainRequest struct {
	CredentialKeyCertificateChain []byte `cbor:"credentialKeyCertificateChain"`
}

type proofOfProvisioningRequest struct {
	ProofOfProvisioningSignature []byte `cbor:"proofOfProvisioningSignature"`
}

type credentialKeyRequest struct {
	CredentialKey cbor.RawMessage `cbor:"credentialKey"`
}

type proofOfOwnershipRequest struct {
	ProofOfOwnershipSignature []byte `cbor:"proofOfOwnershipSignature"`
}

type sendCertsRequest struct {
	AuthKeyCerts [][]byte `cbor:"authKeyCerts"`
}

type proofOfDeletionRequest struct {
	ProofOfDeletionSignature []byte `cbor:"proofOfDeletionSignature"`
}

// ReadyToProvisionMessage acknowledges a provisioning code.
type ReadyToProvisionMessage struct {
	MessageType string `cbor:"messageType"`
	ESessionID  string `cbor:"eSessionId"`
}

// ProvisioningResponse hands the wallet the attestation challenge and the
// document type it is about to provision.
type ProvisioningResponse struct {
	MessageType string `cbor:"messageType"`
	ESessionID  string `cbor:"eSessionId"`
	Challenge   []byte `cbor:"challenge"`
	DocType     string `cbor:"docType"`
}

// DataToProvisionMessage carries the document content to store. The ACP and
// namespace blobs are embedded verbatim from the catalog.
type DataToProvisionMessage struct {
	MessageType           string          `cbor:"messageType"`
	ESessionID            string          `cbor:"eSessionId"`
	AccessControlProfiles cbor.RawMessage `cbor:"accessControlProfiles"`
	NameSpaces            cbor.RawMessage `cbor:"nameSpaces"`
}

// ProveOwnershipMessage challenges the wallet to prove it still holds the
// CredentialKey. The same shape serves the certify, update and delete flows
// as well as DeleteCredentialReadyForDeletion, distinguished by MessageType.
type ProveOwnershipMessage struct {
	MessageType string `cbor:"messageType"`
	ESessionID  string `cbor:"eSessionId"`
	Challenge   []byte `cbor:"challenge"`
}

// CertifyAuthKeysReadyMessage acknowledges proof of ownership.
type CertifyAuthKeysReadyMessage struct {
	MessageType string `cbor:"messageType"`
	ESessionID  string `cbor:"eSessionId"`
}

// CertifyAuthKeysResponse returns one StaticAuthData per submitted AuthKey
// certificate, in submission order.
type CertifyAuthKeysResponse struct {
	MessageType     string            `cbor:"messageType"`
	ESessionID      string            `cbor:"eSessionId"`
	StaticAuthDatas []cbor.RawMessage `cbor:"staticAuthDatas"`
}

// UpdateCredentialResponse tells the wallet whether its copy is current,
// stale, or marked for deletion.
type UpdateCredentialResponse struct {
	MessageType            string `cbor:"messageType"`
	ESessionID             string `cbor:"eSessionId"`
	UpdateCredentialResult string `cbor:"updateCredentialResult"`
}

// EndSessionMessage closes a session. Message carries error detail when
// Reason is "Failed".
type EndSessionMessage struct {
	MessageType string `cbor:"messageType"`
	ESessionID  string `cbor:"eSessionId"`
	Reason      string `cbor:"reason"`
	Message     string `cbor:"message,omitempty"`
}
