package store

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	// scrypt parameters; interactive-login strength is enough for a
	// per-device cache key derived once per value.
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// seal encrypts value with a key derived from passphrase. Layout of the
// returned blob: salt | nonce | secretbox ciphertext.
func seal(passphrase string, value []byte) ([]byte, error) {
	var salt [saltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key, err := deriveKey(passphrase, salt[:])
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+nonceSize+len(value)+secretbox.Overhead)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, value, &nonce, key), nil
}

// open decrypts a blob produced by seal. A wrong passphrase or a tampered
// blob yields ErrDecrypt.
func open(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < saltSize+nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}

	key, err := deriveKey(passphrase, blob[:saltSize])
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], blob[saltSize:saltSize+nonceSize])

	value, ok := secretbox.Open(nil, blob[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return value, nil
}

func deriveKey(passphrase string, salt []byte) (*[keySize]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}
