package cose

import "errors"

var (
	ErrBadKey             = errors.New("cose: not a valid EC2 P-256 COSE_Key")
	ErrVerify             = errors.New("cose: signature verification failed")
	ErrMalformedSignature = errors.New("cose: malformed COSE_Sign1 structure")
)
