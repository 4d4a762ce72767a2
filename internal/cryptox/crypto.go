// Package cryptox seals small client-side secrets (the persisted token pair)
// with AES-GCM under a key derived from a local secret.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/donorsync/internal/common"
	"golang.org/x/crypto/argon2"
)

// ErrCiphertextTooShort is returned by Open when data cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// DeriveKey stretches secret with Argon2id into a 32-byte AES-256 key.
func DeriveKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

// Sealer encrypts JSON-serializable values. The output layout is nonce||ciphertext,
// so a sealed blob is self-contained and can be stored in a single slot.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer for key, which must be 16, 24 or 32 bytes long.
func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal serializes v to JSON and encrypts it with a fresh random nonce.
func (s *Sealer) Seal(v any) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	nonce := common.GenerateRandByteArray(s.aead.NonceSize())
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal and unmarshals the JSON into v.
func (s *Sealer) Open(data []byte, v any) error {
	n := s.aead.NonceSize()
	if len(data) < n {
		return ErrCiphertextTooShort
	}

	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)

	return json.Unmarshal(plaintext, v)
}
