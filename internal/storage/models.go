package storage

// StatusToDelete marks a ConfiguredDocument whose wallet must delete its
// copy on the next update flow. The marker is one-way.
const StatusToDelete = "TO_DELETE"

// Person is an identity subject known to the issuing authority.
type Person struct {
	PersonID int64
	Name     string
	Portrait []byte
}

// Document is the authoritative content for a credential at a given
// version. AccessControlProfiles and NameSpaces are CBOR blobs;
// DataTimestamp is the logical version (unix seconds).
type Document struct {
	DocumentID            int64
	PersonID              int64
	DocType               string
	AccessControlProfiles []byte
	NameSpaces            []byte
	DataTimestamp         float64
}

// IssuedDocument is a one-shot capability: presenting its provisioning code
// authorises a wallet to provision the referenced document. ConsumedAt is
// set when the code has been spent.
type IssuedDocument struct {
	IssuedDocumentID int64
	DocumentID       int64
	ProvisioningCode string
	ConsumedAt       *float64
}

// ConfiguredDocument is a wallet instance that has bound a CredentialKey to
// an IssuedDocument. The canonical COSE_Key encoding of that key is the
// index under which later flows find the row.
type ConfiguredDocument struct {
	ConfiguredDocumentID   int64
	IssuedDocumentID       int64
	CredentialKeyCertChain []byte
	ProofOfProvisioning    []byte
	LastUpdatedTimestamp   float64
	DataTimestamp          float64
	Status                 *string
}

// ToDelete reports whether the document carries the TO_DELETE marker.
func (cd *ConfiguredDocument) ToDelete() bool {
	return cd.Status != nil && *cd.Status == StatusToDelete
}
