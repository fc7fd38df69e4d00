// Package secure holds the symmetric and asymmetric primitives the search
// index persistence is built on. Keys and ciphertexts travel as base64 text.
package secure

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey         = errors.New("secure: invalid key")
	ErrDecryptionFailed   = errors.New("secure: decryption failed")
	ErrCiphertextTooShort = errors.New("secure: ciphertext too short")
)

// UserKeys is the user's asymmetric keypair.
type UserKeys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// GenerateUserKeys creates a fresh Curve25519 keypair.
func GenerateUserKeys() (UserKeys, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return UserKeys{}, fmt.Errorf("secure: generate keypair: %w", err)
	}
	return UserKeys{
		PublicKey:  base64.StdEncoding.EncodeToString(pub[:]),
		PrivateKey: base64.StdEncoding.EncodeToString(priv[:]),
	}, nil
}

// LoadOrCreateUserKeys reads a keypair from path, creating one when the file
// does not exist yet.
func LoadOrCreateUserKeys(path string) (UserKeys, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var keys UserKeys
		if err := json.Unmarshal(data, &keys); err != nil {
			return UserKeys{}, fmt.Errorf("secure: parse %s: %w", path, err)
		}
		return keys, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return UserKeys{}, err
	}

	keys, err := GenerateUserKeys()
	if err != nil {
		return UserKeys{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return UserKeys{}, err
	}
	data, err = json.Marshal(keys)
	if err != nil {
		return UserKeys{}, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return UserKeys{}, err
	}
	return keys, nil
}

// GenerateSymmetricKey returns a random secretbox key as base64.
func GenerateSymmetricKey() (string, error) {
	var key [keySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("secure: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

func decodeKey(encoded string) (*[keySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// EncryptSymmetric seals plaintext with key. The nonce is prepended.
func EncryptSymmetric(plaintext []byte, key string) (string, error) {
	k, err := decodeKey(key)
	if err != nil {
		return "", err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secure: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, k)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSymmetric opens a ciphertext produced by EncryptSymmetric.
func DecryptSymmetric(ciphertext string, key string) ([]byte, error) {
	k, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secure: decode ciphertext: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, ErrCiphertextTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, k)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptAsymmetric seals plaintext to the keypair's public key.
func EncryptAsymmetric(plaintext []byte, keys UserKeys) (string, error) {
	pub, err := decodeKey(keys.PublicKey)
	if err != nil {
		return "", err
	}
	sealed, err := box.SealAnonymous(nil, plaintext, pub, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("secure: seal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptAsymmetric opens a ciphertext produced by EncryptAsymmetric.
func DecryptAsymmetric(ciphertext string, keys UserKeys) ([]byte, error) {
	pub, err := decodeKey(keys.PublicKey)
	if err != nil {
		return nil, err
	}
	priv, err := decodeKey(keys.PrivateKey)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secure: decode ciphertext: %w", err)
	}
	plaintext, ok := box.OpenAnonymous(nil, raw, pub, priv)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
