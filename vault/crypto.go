package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const keySize = 32

const saltSize = 32

const pbkdf2Iter = 20000

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// standard GCM nonce size
const nonceSize = 12

// KDF identifies the algorithm deriving the AES key from the password. The
// value is persisted in the container header.
type KDF uint8

const (
	// PBKDF2 is PBKDF2-HMAC-SHA256 with 20000 iterations.
	PBKDF2 KDF = 1
	// Argon2id uses time=1, memory=64MiB, threads=4.
	Argon2id KDF = 2
)

func (k KDF) String() string {
	switch k {
	case PBKDF2:
		return "pbkdf2"
	case Argon2id:
		return "argon2id"
	}
	return "unknown"
}

func (k KDF) valid() bool {
	return k == PBKDF2 || k == Argon2id
}

// ParseKDF returns the KDF for its configuration name.
func ParseKDF(name string) (KDF, error) {
	switch name {
	case "", "pbkdf2":
		return PBKDF2, nil
	case "argon2id":
		return Argon2id, nil
	}
	return 0, errors.Errorf("unknown kdf %q", name)
}

func (k KDF) deriveKey(password, salt []byte) ([]byte, error) {
	switch k {
	case PBKDF2:
		return pbkdf2.Key(password, salt, pbkdf2Iter, keySize, sha256.New), nil
	case Argon2id:
		return argon2.IDKey(password, salt, argon2Time, argon2Memory, argon2Threads, keySize), nil
	}
	return nil, errors.Errorf("unsupported kdf %d", uint8(k))
}

func randomBytes(size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func generateSalt() ([]byte, error) {
	salt, err := randomBytes(saltSize)
	if err != nil {
		return nil, errors.Wrap(err, "cannot generate salt")
	}
	return salt, nil
}

func generateNonce() ([]byte, error) {
	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return nil, errors.Wrap(err, "cannot generate nonce")
	}
	return nonce, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create new aes block cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create new gcm cipher")
	}
	return gcm, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
