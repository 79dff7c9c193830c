package storage

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealVersion  = 1
	sealSaltSize = 16
	sealPrefix   = "BRDGSEAL1\n"

	kdfTime     = 2
	kdfMemoryKB = 64 * 1024
	kdfThreads  = 1
)

var (
	// ErrSealAuth means the passphrase is wrong or the file was tampered with.
	ErrSealAuth = errors.New("storage: sealed data authentication failed")
	// ErrSealInvalid means the envelope structure could not be parsed.
	ErrSealInvalid = errors.New("storage: sealed envelope is invalid")
	// ErrNotSealed means a passphrase was supplied but the file is plaintext.
	ErrNotSealed = errors.New("storage: file is not a sealed envelope")
)

// sealEnvelope records the KDF parameters alongside the ciphertext so the
// cost factors can be raised later without breaking existing files.
type sealEnvelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

func seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, sealSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveSealKey(passphrase, salt)
	defer zeroKey(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	env := sealEnvelope{
		Version:     sealVersion,
		KDF:         "argon2id",
		KDFTime:     kdfTime,
		KDFMemoryKB: kdfMemoryKB,
		KDFThreads:  kdfThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(sealPrefix), raw...), nil
}

func unseal(passphrase string, data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(sealPrefix)) {
		return nil, ErrNotSealed
	}
	var env sealEnvelope
	if err := json.Unmarshal(data[len(sealPrefix):], &env); err != nil {
		return nil, ErrSealInvalid
	}
	if env.Version != sealVersion || env.KDF != "argon2id" {
		return nil, ErrSealInvalid
	}
	// NewX's Open panics on a wrong-size nonce, so a mangled envelope must
	// be rejected here.
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrSealInvalid
	}
	key := argon2.IDKey([]byte(passphrase), env.Salt,
		env.KDFTime, env.KDFMemoryKB, env.KDFThreads, chacha20poly1305.KeySize)
	defer zeroKey(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrSealAuth
	}
	return plaintext, nil
}

func deriveSealKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKB, kdfThreads, chacha20poly1305.KeySize)
}

func zeroKey(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
