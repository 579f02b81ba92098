// Package secretbox cifra tokens OAuth at-rest con AES-256-GCM.
//
// Formato del ciphertext: "enc:v1|base64(nonce)|base64(ciphertext)".
// El marcador "enc:v1" es explícito: distinguir un token cifrado de uno
// plano nunca depende de heurísticas sobre el contenido. La clave viene de
// la config del proceso (ENCRYPTION_KEY), no de os.Getenv por llamada.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// marker identifica la versión del formato de cifrado.
	marker = "enc:v1"

	nonceSizeGCM      = 12 // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32 // 32 bytes => AES-256
	sep               = "|"
)

var (
	// ErrDecrypt indica que el ciphertext es ilegible: formato inválido,
	// datos corruptos o clave equivocada. El Token Service lo trata como
	// "token inutilizable, requiere reconexión" — nunca se deja pasar.
	ErrDecrypt = errors.New("secretbox: cannot decrypt payload")

	// ErrAlreadyEncrypted indica un intento de cifrar algo que ya lleva el
	// marcador. Protege contra el doble cifrado accidental.
	ErrAlreadyEncrypted = errors.New("secretbox: payload is already encrypted")

	// ErrInvalidKey indica una clave que no decodifica a 32 bytes.
	ErrInvalidKey = errors.New("secretbox: key must be 32 bytes")
)

// Cipher cifra y descifra con una clave fija de proceso.
// Es inmutable y seguro para uso concurrente.
type Cipher struct {
	aead cipher.AEAD
}

// New construye un Cipher a partir de una clave cruda de 32 bytes.
func New(key []byte) (*Cipher, error) {
	if len(key) != requiredKeyLength {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// IsEncrypted reporta si el payload lleva el marcador de cifrado.
// Un false sobre un valor persistido significa token legacy en claro
// (ver cmd/mercactl token scan).
func IsEncrypted(payload string) bool {
	return strings.HasPrefix(payload, marker+sep)
}

// Encrypt cifra plainText y devuelve "enc:v1|base64(nonce)|base64(ct)".
// Rechaza entradas que ya llevan el marcador: el caller tiene un bug de
// estado plaintext/ciphertext y debe enterarse, no almacenar doble cifrado.
func (c *Cipher) Encrypt(plainText string) (string, error) {
	if IsEncrypted(plainText) {
		return "", ErrAlreadyEncrypted
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce random: %w", err)
	}

	ct := c.aead.Seal(nil, nonce, []byte(plainText), nil)

	return marker + sep +
		base64.StdEncoding.EncodeToString(nonce) + sep +
		base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt recibe "enc:v1|base64(nonce)|base64(ct)" y devuelve el texto plano.
// Cualquier malformación o fallo de autenticación GCM devuelve ErrDecrypt.
func (c *Cipher) Decrypt(cipherText string) (string, error) {
	parts := strings.Split(cipherText, sep)
	if len(parts) != 3 || parts[0] != marker {
		return "", fmt.Errorf("%w: bad format", ErrDecrypt)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: decode nonce", ErrDecrypt)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("%w: nonce size %d", ErrDecrypt, len(nonce))
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext", ErrDecrypt)
	}

	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gcm auth", ErrDecrypt)
	}
	return string(pt), nil
}
