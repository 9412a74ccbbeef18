// Package crypto provides cryptographic primitives for safelogger.
//
// This package implements passphrase verification digests, PBKDF2 key
// derivation and AES-256-CBC encryption with an HMAC-SHA256 tag.
//
// # Security Features
//
//   - SHA-512 salted digest for passphrase verification only
//   - PBKDF2-HMAC-SHA256 key derivation (65536 iterations by default)
//   - AES-256-CBC with PKCS#7 padding, encrypt-then-MAC (HMAC-SHA256)
//   - Cryptographically secure random salts and IVs
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	salt, _ := crypto.RandomBytes(crypto.BlockSize)
//	key := crypto.DeriveKey("Passw0rd", salt, crypto.DefaultIterations)
//
//	iv, _ := crypto.RandomBytes(crypto.BlockSize)
//	ciphertext, err := crypto.Encrypt("secret", key, iv)
//
//	plaintext, err := crypto.Decrypt(ciphertext, key, iv)
//
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

// Key derivation and cipher parameters.
const (
	// BlockSize is the AES block size, also used for salts and IVs.
	BlockSize = aes.BlockSize

	// DefaultIterations is the PBKDF2 iteration count for new master keys.
	DefaultIterations = 65536

	// MinIterations is the lowest iteration count accepted by DeriveKey callers.
	MinIterations = 1000

	// EncKeyLength is the AES-256 part of a derived key.
	EncKeyLength = 32

	// MACKeyLength is the HMAC-SHA256 part of a derived key.
	MACKeyLength = 32

	// KeyLength is the full derived key length (encryption key || MAC key).
	KeyLength = EncKeyLength + MACKeyLength

	// TagLength is the length of the HMAC-SHA256 tag appended to ciphertexts.
	TagLength = sha256.Size
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not KeyLength bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 64 bytes")

	// ErrInvalidIVLength indicates the IV is not BlockSize bytes.
	ErrInvalidIVLength = errors.New("crypto: invalid iv length, must be 16 bytes")

	// ErrCiphertextTooShort indicates the ciphertext cannot hold a block and a tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrAuthenticationFailed indicates tag verification failed (wrong key, wrong iv or tampering).
	ErrAuthenticationFailed = errors.New("crypto: decryption failed, authentication tag mismatch")

	// ErrInvalidPadding indicates the decrypted plaintext has malformed PKCS#7 padding.
	ErrInvalidPadding = errors.New("crypto: decryption failed, invalid padding")
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate random bytes: %w", err)
	}
	return b, nil
}

// Hash computes the salted SHA-512 digest used to verify a passphrase.
// It is never used as key material.
func Hash(passphrase string, salt []byte) []byte {
	h := sha512.New()
	h.Write(salt)
	h.Write([]byte(norm.NFC.String(passphrase)))
	return h.Sum(nil)
}

// DeriveKey derives a KeyLength-byte key from a passphrase using PBKDF2-HMAC-SHA256.
//
// The first EncKeyLength bytes key AES-256, the remaining MACKeyLength bytes
// key the HMAC tag. The result is only usable with Encrypt and Decrypt.
func DeriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(norm.NFC.String(passphrase)), salt, iterations, KeyLength, sha256.New)
}

// Encrypt encrypts plaintext with AES-256-CBC and appends an HMAC-SHA256 tag
// computed over iv || ciphertext.
//
// The caller must supply a fresh BlockSize-byte iv for every call under the
// same key.
func Encrypt(plaintext string, key, iv []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(iv) != BlockSize {
		return nil, ErrInvalidIVLength
	}

	block, err := aes.NewCipher(key[:EncKeyLength])
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	padded := pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded), len(padded)+TagLength)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	SecureWipe(padded)

	return append(ciphertext, tag(key[EncKeyLength:], iv, ciphertext)...), nil
}

// Decrypt verifies the tag and decrypts a ciphertext produced by Encrypt.
//
// A wrong key or iv is reported as ErrAuthenticationFailed; it never yields
// garbage plaintext.
func Decrypt(ciphertext, key, iv []byte) (string, error) {
	if len(key) != KeyLength {
		return "", ErrInvalidKeyLength
	}
	if len(iv) != BlockSize {
		return "", ErrInvalidIVLength
	}
	if len(ciphertext) < BlockSize+TagLength {
		return "", ErrCiphertextTooShort
	}

	body := ciphertext[:len(ciphertext)-TagLength]
	if !hmac.Equal(ciphertext[len(body):], tag(key[EncKeyLength:], iv, body)) {
		return "", ErrAuthenticationFailed
	}
	if len(body)%BlockSize != 0 {
		return "", ErrInvalidPadding
	}

	block, err := aes.NewCipher(key[:EncKeyLength])
	if err != nil {
		return "", fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	defer SecureWipe(plain)

	unpadded, err := unpad(plain)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// tag computes HMAC-SHA256(macKey, iv || ciphertext).
func tag(macKey, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// pad applies PKCS#7 padding to a whole number of blocks.
func pad(b []byte) []byte {
	n := BlockSize - len(b)%BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// unpad strips PKCS#7 padding.
func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%BlockSize != 0 {
		return nil, ErrInvalidPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrInvalidPadding
		}
	}
	return b[:len(b)-n], nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the writes are not optimized away
	runtime.KeepAlive(b)
}
