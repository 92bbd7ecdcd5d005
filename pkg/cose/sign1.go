package cose

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/veraison/go-cose"
)

// HeaderLabelX5Chain is the unprotected header label carrying the signer's
// certificate (draft-ietf-cose-x509). The protocol only ever attaches a
// single DER certificate, not a chain.
const HeaderLabelX5Chain int64 = 33

// Sign1 signs payload with ES256 and returns the CBOR encoding of the
// resulting COSE_Sign1. The wire format is the bare four-element array, not
// the tag 18 form. certDER, when non-nil, is placed in unprotected header 33.
func Sign1(key *ecdsa.PrivateKey, payload []byte, certDER []byte) ([]byte, error) {
	msg, err := sign1Message(key, payload, certDER)
	if err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

// Sign1Detached is Sign1 with the payload replaced by an empty byte string
// after signing. Verifiers must supply the payload out of band.
func Sign1Detached(key *ecdsa.PrivateKey, payload []byte, certDER []byte) ([]byte, error) {
	msg, err := sign1Message(key, payload, certDER)
	if err != nil {
		return nil, err
	}
	msg.Payload = []byte{}
	return msg.MarshalCBOR()
}

func sign1Message(key *ecdsa.PrivateKey, payload []byte, certDER []byte) (*cose.UntaggedSign1Message, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, err
	}
	msg := &cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
		},
		Payload: payload,
	}
	if certDER != nil {
		msg.Headers.Unprotected = cose.UnprotectedHeader{
			HeaderLabelX5Chain: certDER,
		}
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}
	return msg, nil
}

// Verify1 checks an encoded COSE_Sign1 against the given public key. For the
// attached form pass payload as nil; for the detached form pass the payload
// that was signed. Any shape or length mismatch fails closed.
func Verify1(pub *ecdsa.PublicKey, raw []byte, payload []byte) error {
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if payload != nil {
		msg.Payload = payload
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return err
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("%w: %v", ErrVerify, err)
	}
	return nil
}

// Payload1 returns the attached payload of an encoded COSE_Sign1.
func Payload1(raw []byte) ([]byte, error) {
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedSignature)
	}
	return msg.Payload, nil
}
