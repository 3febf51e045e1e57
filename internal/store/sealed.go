package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealedPrefix = "sealed:v1:"

// ErrSealBroken is returned when a sealed value cannot be opened, usually
// because STORE_SECRET changed.
var ErrSealBroken = errors.New("store: sealed value could not be decrypted")

// Sealed encrypts the values of selected keys with AES-GCM before handing
// them to the wrapped store. Sealed values are stored as JSON strings so the
// file backend can hold them.
type Sealed struct {
	Store
	aead cipher.AEAD
	keys map[string]struct{}
}

// NewSealed wraps inner, sealing the listed keys with a key derived from
// secret.
func NewSealed(inner Store, secret string, keys ...string) (*Sealed, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("store: sealing secret is required")
	}
	sum := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return &Sealed{Store: inner, aead: aead, keys: set}, nil
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.Store.Get(ctx, key)
	if err != nil || !s.sealedKey(key) {
		return data, err
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil || !strings.HasPrefix(encoded, sealedPrefix) {
		// Written before sealing was enabled.
		return data, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(encoded, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealBroken, err)
	}
	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: %v", ErrSealBroken, io.ErrUnexpectedEOF)
	}
	plain, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealBroken, err)
	}
	return plain, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	if !s.sealedKey(key) {
		return s.Store.Set(ctx, key, value)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, value, []byte(key))
	encoded, err := json.Marshal(sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed))
	if err != nil {
		return err
	}
	return s.Store.Set(ctx, key, encoded)
}

// Watch forwards to the wrapped store, or returns ErrWatchUnsupported when
// it cannot watch.
func (s *Sealed) Watch(ctx context.Context, onChange func()) error {
	w, ok := s.Store.(Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, onChange)
}

func (s *Sealed) sealedKey(key string) bool {
	_, ok := s.keys[key]
	return ok
}
