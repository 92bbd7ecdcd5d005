// Package mdoc implements the issuer-side pieces of the ISO/IEC 18013-5
// mobile driving licence data model: namespaced data elements, the Mobile
// Security Object, and the proof payloads exchanged during provisioning.
package mdoc

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// DocTypeMDL is the document type identifier for mDL.
const DocTypeMDL = "org.iso.18013.5.1.mDL"

// Data element namespaces used by the seeded documents.
const (
	NamespaceISO   = "org.iso.18013.5.1"
	NamespaceAAMVA = "org.aamva.18013.5.1"
)

var (
	ErrBadNameSpaces = errors.New("mdoc: name spaces did not decode")
	ErrBadProof      = errors.New("mdoc: proof payload did not decode")
)

// DataElement is one entry of a namespace as stored in the catalog: the
// element identifier, its value, and the access control profile ids that
// gate its release.
type DataElement struct {
	Name                  string `cbor:"name"`
	Value                 any    `cbor:"value"`
	AccessControlProfiles []int  `cbor:"accessControlProfiles"`
}

// NameSpaces maps a namespace to its data elements.
type NameSpaces map[string][]DataElement

// AccessControlProfile is the per-element policy the wallet enforces at
// presentation time.
type AccessControlProfile struct {
	ID                         int  `cbor:"id"`
	UserAuthenticationRequired bool `cbor:"userAuthenticationRequired"`
	TimeoutMillis              int  `cbor:"timeoutMillis"`
}

// DecodeNameSpaces parses the catalog's CBOR name_spaces blob.
func DecodeNameSpaces(raw []byte) (NameSpaces, error) {
	var ns NameSpaces
	if err := cbor.Unmarshal(raw, &ns); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadNameSpaces, err)
	}
	return ns, nil
}

// EncodeNameSpaces is the inverse of DecodeNameSpaces, used by the seed data
// and the admin test-data update.
func EncodeNameSpaces(ns NameSpaces) ([]byte, error) {
	return encMode.Marshal(ns)
}

// EncodeAccessControlProfiles encodes the catalog's ACP blob.
func EncodeAccessControlProfiles(acps []AccessControlProfile) ([]byte, error) {
	return encMode.Marshal(acps)
}
