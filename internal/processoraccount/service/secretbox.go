package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	"golang.org/x/crypto/hkdf"
)

const secretBoxInfo = "rentwise/processor-account/v1"

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// secretBox seals processor secrets with AES-256-GCM under a key derived
// from the configured master secret.
type secretBox struct {
	key []byte
}

func newSecretBox(master string) *secretBox {
	master = strings.TrimSpace(master)
	if master == "" {
		return &secretBox{}
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(master), nil, []byte(secretBoxInfo)), key); err != nil {
		return &secretBox{}
	}
	return &secretBox{key: key}
}

func (b *secretBox) seal(plain string) (string, error) {
	if len(b.key) == 0 {
		return "", domain.ErrEncryptionKeyMissing
	}
	gcm, err := b.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	out, err := json.Marshal(encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(plain), nil)),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (b *secretBox) open(sealed string) (string, error) {
	if len(b.key) == 0 {
		return "", domain.ErrEncryptionKeyMissing
	}
	if strings.TrimSpace(sealed) == "" {
		return "", domain.ErrInvalidCiphertext
	}

	var payload encryptedPayload
	if err := json.Unmarshal([]byte(sealed), &payload); err != nil || payload.Version != 1 {
		return "", domain.ErrInvalidCiphertext
	}
	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", domain.ErrInvalidCiphertext
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", domain.ErrInvalidCiphertext
	}

	gcm, err := b.aead()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", domain.ErrInvalidCiphertext
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", domain.ErrInvalidCiphertext
	}
	return string(plain), nil
}

func (b *secretBox) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
