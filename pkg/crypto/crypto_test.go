package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const testIterations = MinIterations

// testKey derives a key with a cheap iteration count for tests
func testKey(t *testing.T, passphrase string) []byte {
	t.Helper()
	salt, err := RandomBytes(BlockSize)
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	return DeriveKey(passphrase, salt, testIterations)
}

// testIV returns a fresh random IV
func testIV(t *testing.T) []byte {
	t.Helper()
	iv, err := RandomBytes(BlockSize)
	if err != nil {
		t.Fatalf("failed to generate iv: %v", err)
	}
	return iv
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(BlockSize)
	if err != nil {
		t.Fatalf("RandomBytes() error = %v", err)
	}
	if len(a) != BlockSize {
		t.Errorf("RandomBytes() length = %d, want %d", len(a), BlockSize)
	}

	b, err := RandomBytes(BlockSize)
	if err != nil {
		t.Fatalf("RandomBytes() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("RandomBytes() returned identical values twice")
	}
}

func TestHash(t *testing.T) {
	salt := []byte("0123456789abcdef")

	h1 := Hash("Abc123", salt)
	h2 := Hash("Abc123", salt)
	if !bytes.Equal(h1, h2) {
		t.Error("Hash() with same inputs should be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("Hash() length = %d, want 64 (SHA-512)", len(h1))
	}

	if bytes.Equal(h1, Hash("Abc124", salt)) {
		t.Error("Hash() with different passphrase should differ")
	}
	if bytes.Equal(h1, Hash("Abc123", []byte("fedcba9876543210"))) {
		t.Error("Hash() with different salt should differ")
	}
}

func TestHashUnicodeNormalization(t *testing.T) {
	salt := []byte("0123456789abcdef")
	composed := "Caf\u00e9Pass1"    // é as a single code point
	decomposed := "Cafe\u0301Pass1" // e + combining acute accent

	if !bytes.Equal(Hash(composed, salt), Hash(decomposed, salt)) {
		t.Error("Hash() should treat canonically equivalent passphrases identically")
	}
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("0123456789abcdef")

	key := DeriveKey("Passw0rd", salt, testIterations)
	if len(key) != KeyLength {
		t.Errorf("DeriveKey() returned key of length %d, want %d", len(key), KeyLength)
	}

	if !bytes.Equal(key, DeriveKey("Passw0rd", salt, testIterations)) {
		t.Error("DeriveKey() with same inputs should produce identical keys")
	}
	if bytes.Equal(key, DeriveKey("Passw0rD", salt, testIterations)) {
		t.Error("DeriveKey() with different passphrase should produce different key")
	}
	if bytes.Equal(key, DeriveKey("Passw0rd", []byte("fedcba9876543210"), testIterations)) {
		t.Error("DeriveKey() with different salt should produce different key")
	}
	if bytes.Equal(key, DeriveKey("Passw0rd", salt, testIterations+1)) {
		t.Error("DeriveKey() with different iteration count should produce different key")
	}

	// Verification digest and cipher key must not coincide
	if bytes.Equal(key[:32], Hash("Passw0rd", salt)[:32]) {
		t.Error("DeriveKey() must not reuse the verification digest")
	}
}

func TestDeriveKeyParameters(t *testing.T) {
	if DefaultIterations != 65536 {
		t.Errorf("DefaultIterations = %d, want 65536", DefaultIterations)
	}
	if KeyLength != 64 {
		t.Errorf("KeyLength = %d, want 64", KeyLength)
	}
	if BlockSize != 16 {
		t.Errorf("BlockSize = %d, want 16", BlockSize)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t, "Passw0rd")

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"short", "Secret1A"},
		{"exactly one block", "0123456789abcdef"},
		{"multi block", strings.Repeat("x", 100)},
		{"unicode", "pässwörd-日本語"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := testIV(t)
			ciphertext, err := Encrypt(tt.plaintext, key, iv)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if (len(ciphertext)-TagLength)%BlockSize != 0 {
				t.Errorf("Encrypt() body length %d is not block aligned", len(ciphertext)-TagLength)
			}

			got, err := Decrypt(ciphertext, key, iv)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptFreshIVChangesCiphertext(t *testing.T) {
	key := testKey(t, "Passw0rd")

	c1, err := Encrypt("same", key, testIV(t))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	c2, err := Encrypt("same", key, testIV(t))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Equal(c1, c2) {
		t.Error("Encrypt() with different IVs should produce different ciphertexts")
	}
}

func TestEncryptInvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		ivLen   int
		wantErr error
	}{
		{"empty key", 0, BlockSize, ErrInvalidKeyLength},
		{"aes-only key", 32, BlockSize, ErrInvalidKeyLength},
		{"long key", 96, BlockSize, ErrInvalidKeyLength},
		{"short iv", KeyLength, 12, ErrInvalidIVLength},
		{"empty iv", KeyLength, 0, ErrInvalidIVLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encrypt("data", make([]byte, tt.keyLen), make([]byte, tt.ivLen))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Encrypt() error = %v, want %v", err, tt.wantErr)
			}

			_, err = Decrypt(make([]byte, BlockSize+TagLength), make([]byte, tt.keyLen), make([]byte, tt.ivLen))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key := testKey(t, "Passw0rd")
	wrongKey := testKey(t, "Passw0rd")
	iv := testIV(t)

	ciphertext, err := Encrypt("secret data", key, iv)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt(ciphertext, wrongKey, iv); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Decrypt() with wrong key error = %v, want %v", err, ErrAuthenticationFailed)
	}
}

func TestDecryptWrongIV(t *testing.T) {
	key := testKey(t, "Passw0rd")
	iv := testIV(t)

	ciphertext, err := Encrypt("secret data", key, iv)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := Decrypt(ciphertext, key, testIV(t)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Decrypt() with wrong iv error = %v, want %v", err, ErrAuthenticationFailed)
	}
}

func TestDecryptTampered(t *testing.T) {
	key := testKey(t, "Passw0rd")
	iv := testIV(t)

	ciphertext, err := Encrypt("secret data", key, iv)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	for _, idx := range []int{0, BlockSize - 1, len(ciphertext) - 1} {
		tampered := append([]byte(nil), ciphertext...)
		tampered[idx] ^= 0x01
		if _, err := Decrypt(tampered, key, iv); !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("Decrypt() with byte %d flipped error = %v, want %v", idx, err, ErrAuthenticationFailed)
		}
	}
}

func TestDecryptTooShort(t *testing.T) {
	key := testKey(t, "Passw0rd")
	iv := testIV(t)

	for _, n := range []int{0, TagLength, BlockSize + TagLength - 1} {
		if _, err := Decrypt(make([]byte, n), key, iv); !errors.Is(err, ErrCiphertextTooShort) {
			t.Errorf("Decrypt() with %d bytes error = %v, want %v", n, err, ErrCiphertextTooShort)
		}
	}
}

func TestUnpad(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    []byte
		wantErr bool
	}{
		{"full padding block", bytes.Repeat([]byte{16}, 16), []byte{}, false},
		{"one byte", append(bytes.Repeat([]byte{'a'}, 15), 1), bytes.Repeat([]byte{'a'}, 15), false},
		{"zero pad byte", append(bytes.Repeat([]byte{'a'}, 15), 0), nil, true},
		{"pad larger than block", append(bytes.Repeat([]byte{'a'}, 15), 17), nil, true},
		{"inconsistent", append(bytes.Repeat([]byte{'a'}, 14), 3, 2), nil, true},
		{"unaligned", []byte{1, 1, 1}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unpad(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPadding) {
					t.Errorf("unpad() error = %v, want %v", err, ErrInvalidPadding)
				}
				return
			}
			if err != nil {
				t.Fatalf("unpad() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("unpad() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0xFF}
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte %d = %x, want 0", i, b)
		}
	}

	// Must not panic on empty or nil input
	SecureWipe([]byte{})
	SecureWipe(nil)
}
