package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs URL payloads on behalf of a service account.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs with a service account private key loaded from its JSON key file.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

// LoadKeySigner reads a service account JSON key from path.
func LoadKeySigner(path string) (*KeySigner, error) {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("storage: read service account key: %w", err)
	}
	return ParseKeySigner(raw)
}

// ParseKeySigner builds a signer from service account JSON.
func ParseKeySigner(raw []byte) (*KeySigner, error) {
	var doc struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("storage: decode service account key: %w", err)
	}
	email := strings.TrimSpace(doc.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: client_email missing in service account key")
	}
	block, _ := pem.Decode([]byte(strings.TrimSpace(doc.PrivateKey)))
	if block == nil {
		return nil, errors.New("storage: private_key missing or not PEM encoded")
	}
	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return &KeySigner{email: email, key: key}, nil
}

// Email returns the service account email used as GoogleAccessID.
func (s *KeySigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes signs payload with RSA PKCS#1 v1.5 over SHA-256.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("storage: parse private key: %w", err)
	}
	return key, nil
}
