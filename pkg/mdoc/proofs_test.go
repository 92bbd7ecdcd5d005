package mdoc

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProofChallenge(t *testing.T) {
	challenge := []byte("0123456789abcdef")

	for _, encode := range []func(string, []byte, bool) ([]byte, error){
		EncodeProofOfOwnership,
		EncodeProofOfDeletion,
	} {
		payload, err := encode(DocTypeMDL, challenge, false)
		require.NoError(t, err)

		got, err := ProofChallenge(payload)
		require.NoError(t, err)
		assert.Equal(t, challenge, got)
	}
}

func TestProofChallengeRejections(t *testing.T) {
	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
	}{
		{
			name: "not an array",
			payload: func(t *testing.T) []byte {
				b, err := cbor.Marshal("scalar")
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "too short",
			payload: func(t *testing.T) []byte {
				b, err := cbor.Marshal([]any{ProofLabelOwnership, DocTypeMDL})
				require.NoError(t, err)
				return b
			},
		},
		{
			name: "challenge not a byte string",
			payload: func(t *testing.T) []byte {
				b, err := cbor.Marshal([]any{ProofLabelOwnership, DocTypeMDL, "text challenge", false})
				require.NoError(t, err)
				return b
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ProofChallenge(tt.payload(t))
			assert.ErrorIs(t, err, ErrBadProof)
		})
	}
}
