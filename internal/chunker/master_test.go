package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterFingerprint_ConcatenatesInPartOrder(t *testing.T) {
	fa, fb, fc := Fingerprint([]byte("a")), Fingerprint([]byte("b")), Fingerprint([]byte("c"))

	sum := sha256.Sum256([]byte(fa + fb + fc))
	want := hex.EncodeToString(sum[:])

	got, err := MasterFingerprint([]Part{{1, fa}, {2, fb}, {3, fc}})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	permuted, err := MasterFingerprint([]Part{{3, fc}, {1, fa}, {2, fb}})
	require.NoError(t, err)
	assert.Equal(t, want, permuted)
}

func TestMasterFingerprint_Errors(t *testing.T) {
	_, err := MasterFingerprint(nil)
	assert.ErrorIs(t, err, ErrNoChunks)

	_, err = MasterFingerprint([]Part{{1, "abc"}, {2, ""}})
	assert.ErrorIs(t, err, ErrMissingFingerprint)
}

func TestMasterFingerprint_DoesNotMutateInput(t *testing.T) {
	in := []Part{{2, "b"}, {1, "a"}}
	_, err := MasterFingerprint(in)
	require.NoError(t, err)
	assert.Equal(t, 2, in[0].PartNumber)
}
