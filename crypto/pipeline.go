// Package crypto provides the encrypt/decrypt half of the transport's
// pluggable pipeline hook: a pair of (bytes) -> (bytes, error) functions
// per cipher, each self-describing (the nonce travels with the
// ciphertext) so a Pipeline never needs side-channel state.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	aesKeyLength   = 32
	chachaKeyLength = chacha20poly1305.KeySize
)

var (
	ErrInvalidKey        = errors.New("crypto: invalid key length")
	ErrInvalidCiphertext = errors.New("crypto: ciphertext too short")
)

// EncryptFunc transforms plaintext into ciphertext; DecryptFunc reverses
// it. Both are the shape transport.Pipeline expects for its encrypt hook.
type EncryptFunc func(plaintext []byte) ([]byte, error)
type DecryptFunc func(ciphertext []byte) ([]byte, error)

// AESGCMEncrypt returns an EncryptFunc sealing with AES-256-GCM under key.
// The output is nonce||ciphertext||tag.
func AESGCMEncrypt(key []byte) (EncryptFunc, error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	return func(plaintext []byte) ([]byte, error) {
		return seal(gcm, plaintext)
	}, nil
}

// AESGCMDecrypt returns the DecryptFunc counterpart to AESGCMEncrypt.
func AESGCMDecrypt(key []byte) (DecryptFunc, error) {
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	return func(ciphertext []byte) ([]byte, error) {
		return open(gcm, ciphertext)
	}, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != aesKeyLength {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, aesKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// ChaCha20Poly1305Encrypt returns an EncryptFunc sealing with
// ChaCha20-Poly1305 under key — a lighter-weight alternative to AES-GCM on
// platforms without AES-NI, grounded in golang.org/x/crypto.
func ChaCha20Poly1305Encrypt(key []byte) (EncryptFunc, error) {
	aead, err := newChaCha(key)
	if err != nil {
		return nil, err
	}
	return func(plaintext []byte) ([]byte, error) {
		return seal(aead, plaintext)
	}, nil
}

// ChaCha20Poly1305Decrypt returns the DecryptFunc counterpart.
func ChaCha20Poly1305Decrypt(key []byte) (DecryptFunc, error) {
	aead, err := newChaCha(key)
	if err != nil {
		return nil, err
	}
	return func(ciphertext []byte) ([]byte, error) {
		return open(aead, ciphertext)
	}, nil
}

func newChaCha(key []byte) (cipher.AEAD, error) {
	if len(key) != chachaKeyLength {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, chachaKeyLength, len(key))
	}
	return chacha20poly1305.New(key)
}

func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(aead cipher.AEAD, ciphertext []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := ciphertext[:ns], ciphertext[ns:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: open: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns n cryptographically random bytes, for minting a
// fresh cipher key (aesKeyLength or chacha20poly1305.KeySize).
func GenerateKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}
