package cose

import "github.com/fxamacker/cbor/v2"

// Anything that is hashed, signed or used as a storage index must encode
// identically on every code path, so the package pins a single deterministic
// encode mode (RFC 8949 core deterministic encoding).
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}
