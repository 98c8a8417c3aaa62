package gateway

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testTokenKey = bytes.Repeat([]byte{0x42}, 32)

func testRecord() *AccountRecord {
	return &AccountRecord{
		AccountID:       7,
		Username:        "player one",
		Access:          "FULL",
		WhitelistChat:   "YES",
		FriendsWithChat: "YES",
		ChatCodeRule:    "PARENT",
		AccountType:     "NO_PARENT_ACCOUNT",
	}
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	tc, err := NewTokenCipher(testTokenKey)
	require.NoError(t, err)

	nonce := bytes.Repeat([]byte{0x01}, 16)
	token, err := tc.Seal(testRecord(), nonce)
	require.NoError(t, err)

	rec, err := tc.Open(token)
	require.NoError(t, err)
	assert.Equal(t, testRecord(), rec)
}

func TestTokenCipher_KeySizes(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		_, err := NewTokenCipher(make([]byte, size))
		assert.NoError(t, err, "key size %d", size)
	}
	_, err := NewTokenCipher(make([]byte, 20))
	assert.Error(t, err)
}

func TestTokenCipher_WrongKeyRejected(t *testing.T) {
	minter, err := NewTokenCipher(testTokenKey)
	require.NoError(t, err)
	verifier, err := NewTokenCipher(bytes.Repeat([]byte{0x43}, 32))
	require.NoError(t, err)

	token, err := minter.Seal(testRecord(), make([]byte, 16))
	require.NoError(t, err)

	_, err = verifier.Open(token)
	assert.Error(t, err)
}

func TestTokenCipher_MalformedTokens(t *testing.T) {
	tc, err := NewTokenCipher(testTokenKey)
	require.NoError(t, err)

	cases := map[string]string{
		"not hex":     "zz",
		"odd length":  "abc",
		"empty":       "",
		"too short":   hex.EncodeToString(make([]byte, 31)),
		"header only": hex.EncodeToString(make([]byte, 32)),
	}
	for label, token := range cases {
		t.Run(label, func(t *testing.T) {
			_, err := tc.Open(token)
			assert.Error(t, err)
		})
	}
}

// Any single-byte corruption anywhere in the token must fail
// verification; no partial record may escape.
func TestTokenCipher_CorruptionDetected(t *testing.T) {
	tc, err := NewTokenCipher(testTokenKey)
	require.NoError(t, err)

	token, err := tc.Seal(testRecord(), bytes.Repeat([]byte{0x05}, 16))
	require.NoError(t, err)
	raw, err := hex.DecodeString(token)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		pos := rapid.IntRange(0, len(raw)-1).Draw(t, "pos")
		flip := rapid.ByteRange(1, 255).Draw(t, "flip")

		corrupted := append([]byte(nil), raw...)
		corrupted[pos] ^= flip

		if _, err := tc.Open(hex.EncodeToString(corrupted)); err == nil {
			t.Fatalf("corruption at byte %d went undetected", pos)
		}
	})
}
