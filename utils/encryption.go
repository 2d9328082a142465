package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"mailburst/config"
)

var encryptionSalt = []byte("mailburst-credential-store")

// encryptionKey derives a 32-byte AES key from the configured secret so the
// env value does not need to be exactly key-sized.
func encryptionKey() []byte {
	return pbkdf2.Key([]byte(config.AppConfig.EncryptionKey), encryptionSalt, 4096, 32, sha256.New)
}

// Encrypt produces "base64url(iv):base64url(ciphertext)". The ":" separator
// is outside the base64url alphabet, so a plaintext credential can never
// accidentally look like the encrypted wire format.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(encryptionKey())
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	ciphertext := make([]byte, len(plaintext))
	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext, []byte(plaintext))

	return base64.RawURLEncoding.EncodeToString(iv) + ":" + base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

func Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	iv, ciphertext, err := splitCiphertext(value)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(encryptionKey())
	if err != nil {
		return "", err
	}

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(ciphertext, ciphertext)

	return string(ciphertext), nil
}

// splitCiphertext validates the exact iv:ciphertext wire shape. Both halves
// must decode and the IV must be exactly one AES block.
func splitCiphertext(value string) (iv, ciphertext []byte, err error) {
	sep := strings.IndexByte(value, ':')
	if sep < 0 {
		return nil, nil, errors.New("value is not in iv:ciphertext form")
	}

	iv, err = base64.RawURLEncoding.DecodeString(value[:sep])
	if err != nil {
		return nil, nil, errors.New("malformed iv segment")
	}
	if len(iv) != aes.BlockSize {
		return nil, nil, errors.New("iv segment is not one AES block")
	}

	ciphertext, err = base64.RawURLEncoding.DecodeString(value[sep+1:])
	if err != nil {
		return nil, nil, errors.New("malformed ciphertext segment")
	}
	if len(ciphertext) == 0 {
		return nil, nil, errors.New("empty ciphertext segment")
	}

	return iv, ciphertext, nil
}

// IsEncrypted reports whether a stored value carries the exact encrypted wire
// format. Anything that does not match, including base64-looking passwords,
// is treated as plaintext so save paths encrypt it.
func IsEncrypted(value string) bool {
	_, _, err := splitCiphertext(value)
	return err == nil
}

// EncryptIfNeeded encrypts a credential field unless it already carries the
// encrypted wire format.
func EncryptIfNeeded(value string) (string, error) {
	if value == "" || IsEncrypted(value) {
		return value, nil
	}
	return Encrypt(value)
}
