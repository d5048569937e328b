package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/psantana5/operator-dao/pkg/models"
)

var (
	ErrUnknownCaller = errors.New("unknown caller")
	ErrInvalidKey    = errors.New("invalid API key")
)

// KeyRing maps caller addresses to the bcrypt hash of their API key
type KeyRing struct {
	hashes map[models.Address][]byte
	mu     sync.RWMutex
}

// NewKeyRing creates an empty key ring
func NewKeyRing() *KeyRing {
	return &KeyRing{
		hashes: make(map[models.Address][]byte),
	}
}

// Add stores a precomputed bcrypt hash for addr
func (kr *KeyRing) Add(addr models.Address, hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("key hash for %s: %w", addr, err)
	}
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.hashes[addr] = []byte(hash)
	return nil
}

// Remove drops the key for addr
func (kr *KeyRing) Remove(addr models.Address) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	delete(kr.hashes, addr)
}

// Len returns the number of registered callers
func (kr *KeyRing) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.hashes)
}

// Verify checks key against the hash stored for addr
func (kr *KeyRing) Verify(addr models.Address, key string) error {
	kr.mu.RLock()
	hash, ok := kr.hashes[addr]
	kr.mu.RUnlock()

	if !ok {
		return ErrUnknownCaller
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// GenerateKey returns a new random API key and its bcrypt hash
func GenerateKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key = base64.URLEncoding.EncodeToString(keyBytes)

	h, err := HashKey(key)
	if err != nil {
		return "", "", err
	}
	return key, h, nil
}

// HashKey hashes an API key for storage in the callers config
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(h), nil
}
