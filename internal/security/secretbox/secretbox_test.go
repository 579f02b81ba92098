package secretbox

import (
	"errors"
	"strings"
	"testing"
)

func testKey(seed byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = seed + byte(i)
	}
	return k
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()
	c, err := New(testKey(1))
	if err != nil {
		t.Fatalf("New err: %v", err)
	}

	msg := "APP_USR-1234567890-abcdef ✓ — token"
	ct, err := c.Encrypt(msg)
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	if !IsEncrypted(ct) {
		t.Fatalf("ciphertext missing marker: %q", ct)
	}
	pt, err := c.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt err: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	t.Parallel()
	c, _ := New(testKey(7))

	ct, err := c.Encrypt("top secret")
	if err != nil {
		t.Fatalf("Encrypt err: %v", err)
	}
	// corromper un carácter base64 del ciphertext
	parts := strings.Split(ct, "|")
	if len(parts) != 3 {
		t.Fatalf("unexpected ct format: %q", ct)
	}
	b := []byte(parts[2])
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	parts[2] = string(b)

	if _, err := c.Decrypt(strings.Join(parts, "|")); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	t.Parallel()
	a, _ := New(testKey(3))
	b, _ := New(testKey(200))

	ct, err := a.Encrypt("secreto")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt with mismatched key, got %v", err)
	}
}

func TestDecrypt_RejectsPlaintextAndGarbage(t *testing.T) {
	t.Parallel()
	c, _ := New(testKey(9))

	for _, in := range []string{
		"",
		"APP_USR-plain-token",
		"enc:v1|solo-dos-partes",
		"enc:v2|AAAA|BBBB",
		"enc:v1|!!!|BBBB",
	} {
		if _, err := c.Decrypt(in); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("input %q: expected ErrDecrypt, got %v", in, err)
		}
	}
}

func TestEncrypt_RejectsDoubleEncryption(t *testing.T) {
	t.Parallel()
	c, _ := New(testKey(5))

	ct, err := c.Encrypt("x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Encrypt(ct); !errors.Is(err, ErrAlreadyEncrypted) {
		t.Fatalf("expected ErrAlreadyEncrypted, got %v", err)
	}
}

func TestNew_RejectsBadKeyLength(t *testing.T) {
	t.Parallel()
	if _, err := New([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestIsEncrypted(t *testing.T) {
	t.Parallel()
	if IsEncrypted("APP_USR-legacy-token") {
		t.Fatal("plaintext flagged as encrypted")
	}
	if !IsEncrypted("enc:v1|AAAA|BBBB") {
		t.Fatal("marked payload not detected")
	}
}
