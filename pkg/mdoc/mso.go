package mdoc

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/openwallet-foundation-labs/identity-credential/pkg/cose"
)

// msoValidityDays is how long an issued MSO stays presentable.
const msoValidityDays = 365

var encMode cbor.EncMode

func init() {
	// Deterministic encoding plus tag 0 RFC 3339 timestamps, which is what
	// validityInfo requires.
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339
	opts.TimeTag = cbor.EncTagRequired
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}

// IssuerSignedItem is one data element bound into the MSO. Its tag 24
// encoding is hashed to produce the element's digest; the copy sent to the
// wallet has ElementValue nulled so the wallet can fill in values at
// presentation time.
type IssuerSignedItem struct {
	DigestID          uint64 `cbor:"digestID"`
	Random            []byte `cbor:"random"`
	ElementIdentifier string `cbor:"elementIdentifier"`
	ElementValue      any    `cbor:"elementValue"`
}

// ValidityInfo carries the MSO validity window as tag 0 RFC 3339 strings.
type ValidityInfo struct {
	Signed     time.Time `cbor:"signed"`
	ValidFrom  time.Time `cbor:"validFrom"`
	ValidUntil time.Time `cbor:"validUntil"`
}

// DeviceKeyInfo names the AuthKey the MSO is bound to.
type DeviceKeyInfo struct {
	DeviceKey cose.Key `cbor:"deviceKey"`
}

// MobileSecurityObject is the issuer-signed structure listing per-element
// digests, per ISO 18013-5 9.1.2.4.
type MobileSecurityObject struct {
	Version         string                       `cbor:"version"`
	DigestAlgorithm string                       `cbor:"digestAlgorithm"`
	ValueDigests    map[string]map[uint64][]byte `cbor:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo                `cbor:"deviceKeyInfo"`
	DocType         string                       `cbor:"docType"`
	ValidityInfo    ValidityInfo                 `cbor:"validityInfo"`
}

// StaticAuthData is what the wallet stores per AuthKey: the digest-id
// mapping with nulled values, and the issuer-signed MSO.
type StaticAuthData struct {
	DigestIDMapping map[string][]cbor.RawMessage `cbor:"digestIdMapping"`
	IssuerAuth      cbor.RawMessage              `cbor:"issuerAuth"`
}

// BuildStaticAuthData constructs the MSO for one AuthKey and returns the
// encoded StaticAuthData. DigestIDs are assigned from a random permutation
// so their order reveals nothing about input order, and every element gets
// a fresh 32 byte random blind.
func BuildStaticAuthData(
	docType string,
	nameSpaces NameSpaces,
	authKeyPub *ecdsa.PublicKey,
	issuerKey *ecdsa.PrivateKey,
	issuerCertDER []byte,
) ([]byte, error) {
	total := 0
	for _, elems := range nameSpaces {
		total += len(elems)
	}
	digestIDs, err := randomPermutation(total)
	if err != nil {
		return nil, err
	}

	valueDigests := make(map[string]map[uint64][]byte, len(nameSpaces))
	digestIDMapping := make(map[string][]cbor.RawMessage, len(nameSpaces))
	next := 0
	for nsName, elems := range nameSpaces {
		digestsForNS := make(map[uint64][]byte, len(elems))
		mappingForNS := make([]cbor.RawMessage, 0, len(elems))
		for _, elem := range elems {
			digestID := digestIDs[next]
			next++
			random := make([]byte, 32)
			if _, err := rand.Read(random); err != nil {
				return nil, err
			}

			item := IssuerSignedItem{
				DigestID:          digestID,
				Random:            random,
				ElementIdentifier: elem.Name,
				ElementValue:      elem.Value,
			}
			itemBytes, err := encodeTagged(item)
			if err != nil {
				return nil, err
			}
			digest := sha256.Sum256(itemBytes)
			digestsForNS[digestID] = digest[:]

			item.ElementValue = nil
			blinded, err := encodeTagged(item)
			if err != nil {
				return nil, err
			}
			mappingForNS = append(mappingForNS, blinded)
		}
		valueDigests[nsName] = digestsForNS
		digestIDMapping[nsName] = mappingForNS
	}

	deviceKey, err := cose.NewKey(authKeyPub)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	mso := MobileSecurityObject{
		Version:         "1",
		DigestAlgorithm: "SHA-256",
		ValueDigests:    valueDigests,
		DeviceKeyInfo:   DeviceKeyInfo{DeviceKey: *deviceKey},
		DocType:         docType,
		ValidityInfo: ValidityInfo{
			Signed:     now,
			ValidFrom:  now,
			ValidUntil: now.AddDate(0, 0, msoValidityDays),
		},
	}
	msoBytes, err := encodeTagged(mso)
	if err != nil {
		return nil, err
	}

	issuerAuth, err := cose.Sign1(issuerKey, msoBytes, issuerCertDER)
	if err != nil {
		return nil, err
	}

	return encMode.Marshal(StaticAuthData{
		DigestIDMapping: digestIDMapping,
		IssuerAuth:      issuerAuth,
	})
}

// encodeTagged wraps v's encoding in tag 24 (encoded CBOR data item).
func encodeTagged(v any) ([]byte, error) {
	inner, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(cbor.Tag{Number: 24, Content: inner})
}

// randomPermutation draws a uniform permutation of [0..n) using crypto/rand.
func randomPermutation(n int) ([]uint64, error) {
	perm := make([]uint64, n)
	for i := range perm {
		perm[i] = uint64(i)
	}
	for i := n - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		perm[i], perm[j.Int64()] = perm[j.Int64()], perm[i]
	}
	return perm, nil
}
