package gateway

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	tokenNonceSize = 16
	tokenTagSize   = 16
)

// AccountRecord is the structured payload carried inside a verified login
// token. It becomes the session's account data on successful login.
type AccountRecord struct {
	// AccountID is the account's numeric identity.
	AccountID uint32 `json:"disl_id"`
	// Username is the account's display name.
	Username string `json:"username"`
	// Access is the account's permission level.
	Access string `json:"access"`
	// WhitelistChat is the chat entitlement flag.
	WhitelistChat string `json:"whitelist_chat_enabled"`
	// FriendsWithChat is the friends-with-chat entitlement flag.
	FriendsWithChat string `json:"create_friends_with_chat"`
	// ChatCodeRule is the chat code creation rule.
	ChatCodeRule string `json:"chat_code_creation_rule"`
	// AccountType distinguishes account categories.
	AccountType string `json:"account_type"`
}

// TokenCipher verifies and decrypts login tokens minted by the account
// service with the shared gateway secret. Tokens are hex encoded as
// nonce(16) followed by tag(16) followed by ciphertext.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher builds a cipher over the shared secret.
//
// Precondition: key must be 16, 24, or 32 bytes.
// Postcondition: Returns a TokenCipher or a non-nil error.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("building token cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, tokenNonceSize)
	if err != nil {
		return nil, fmt.Errorf("building token AEAD: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Open verifies and decrypts a hex token and parses the account record.
// Any failure (malformed hex, truncation, forged tag, bad payload) is an
// error; no partial record is ever returned.
func (tc *TokenCipher) Open(hexToken string) (*AccountRecord, error) {
	raw, err := hex.DecodeString(hexToken)
	if err != nil {
		return nil, fmt.Errorf("decoding token hex: %w", err)
	}
	if len(raw) < tokenNonceSize+tokenTagSize {
		return nil, fmt.Errorf("token too short: %d bytes", len(raw))
	}

	nonce := raw[:tokenNonceSize]
	tag := raw[tokenNonceSize : tokenNonceSize+tokenTagSize]
	ciphertext := raw[tokenNonceSize+tokenTagSize:]

	// The AEAD expects the tag appended to the ciphertext; the token
	// format carries it up front.
	sealed := make([]byte, 0, len(ciphertext)+tokenTagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := tc.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	var rec AccountRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("parsing token payload: %w", err)
	}
	return &rec, nil
}

// Seal encrypts an account record into the wire token format with the
// given nonce. Used by tests and token minting tools.
//
// Precondition: nonce must be exactly 16 bytes.
func (tc *TokenCipher) Seal(rec *AccountRecord, nonce []byte) (string, error) {
	if len(nonce) != tokenNonceSize {
		return "", fmt.Errorf("nonce must be %d bytes, got %d", tokenNonceSize, len(nonce))
	}
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding token payload: %w", err)
	}

	sealed := tc.aead.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tokenTagSize]
	tag := sealed[len(sealed)-tokenTagSize:]

	token := make([]byte, 0, len(sealed)+tokenNonceSize)
	token = append(token, nonce...)
	token = append(token, tag...)
	token = append(token, ciphertext...)
	return hex.EncodeToString(token), nil
}
