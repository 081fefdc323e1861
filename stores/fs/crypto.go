package fs

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecrypt is returned when the credentials file cannot be opened with
// the configured passphrase.
var ErrDecrypt = errors.New("failed to decrypt credentials file: wrong passphrase or corrupted file")

// argon2id parameters for deriving the file key
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	keyLen     = 32
	saltLen    = 16
	nonceLen   = 24
)

// sealedFile is the on-disk form of an encrypted credentials file
type sealedFile struct {
	Version int    `json:"version"`
	KDF     string `json:"kdf"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Data    []byte `json:"data"`
}

func deriveKey(passphrase string, salt []byte) *[keyLen]byte {
	var key [keyLen]byte
	copy(key[:], argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, keyLen))
	return &key
}

func seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := sealedFile{
		Version: 1,
		KDF:     "argon2id",
		Salt:    salt,
		Nonce:   nonce[:],
		Data:    secretbox.Seal(nil, plaintext, &nonce, deriveKey(passphrase, salt)),
	}
	return json.MarshalIndent(out, "", "  ")
}

func open(passphrase string, data []byte) ([]byte, error) {
	var in sealedFile
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if in.KDF != "argon2id" || len(in.Nonce) != nonceLen {
		return nil, ErrDecrypt
	}

	var nonce [nonceLen]byte
	copy(nonce[:], in.Nonce)
	plaintext, ok := secretbox.Open(nil, in.Data, &nonce, deriveKey(passphrase, in.Salt))
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
