package mdoc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Proof payload labels. A wallet signs one of these CBOR arrays to attest
// that it stored the data, still holds the CredentialKey, or erased the
// data, respectively.
const (
	ProofLabelProvisioning = "ProofOfProvisioning"
	ProofLabelOwnership    = "ProofOfOwnership"
	ProofLabelDeletion     = "ProofOfDeletion"
)

// EncodeProofOfProvisioning builds the wallet-signed payload
// ["ProofOfProvisioning", docType, accessControlProfiles, nameSpaces,
// testCredential]. acp and nameSpaces are embedded as already-encoded CBOR.
func EncodeProofOfProvisioning(docType string, acp, nameSpaces cbor.RawMessage, testCredential bool) ([]byte, error) {
	return encMode.Marshal([]any{ProofLabelProvisioning, docType, acp, nameSpaces, testCredential})
}

// EncodeProofOfOwnership builds ["ProofOfOwnership", docType, challenge,
// testCredential].
func EncodeProofOfOwnership(docType string, challenge []byte, testCredential bool) ([]byte, error) {
	return encMode.Marshal([]any{ProofLabelOwnership, docType, challenge, testCredential})
}

// EncodeProofOfDeletion builds ["ProofOfDeletion", docType, challenge,
// testCredential].
func EncodeProofOfDeletion(docType string, challenge []byte, testCredential bool) ([]byte, error) {
	return encMode.Marshal([]any{ProofLabelDeletion, docType, challenge, testCredential})
}

// ProofChallenge extracts the challenge element (index 2) from a signed
// proof payload so callers can bind the proof to the challenge they minted
// for the session.
func ProofChallenge(payload []byte) ([]byte, error) {
	var elems []cbor.RawMessage
	if err := cbor.Unmarshal(payload, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadProof, err)
	}
	if len(elems) < 3 {
		return nil, fmt.Errorf("%w: %d elements", ErrBadProof, len(elems))
	}
	var challenge []byte
	if err := cbor.Unmarshal(elems[2], &challenge); err != nil {
		return nil, fmt.Errorf("%w: challenge not a byte string: %v", ErrBadProof, err)
	}
	return challenge, nil
}
