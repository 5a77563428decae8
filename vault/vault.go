package vault

import (
	"bytes"
	"context"
	"crypto/cipher"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quux00/crypto-vault/backend"
)

// Vault is a password protected secret store bound to one keystore of one
// container.
type Vault interface {
	// Initialize opens or creates the backing container and makes the vault
	// ready.
	Initialize(ctx context.Context) error

	// OutputStream returns a sink whose content replaces the keystore entry
	// once the stream is closed.
	OutputStream(ctx context.Context) (Sink, error)

	// InputStream returns the decrypted keystore entry.
	InputStream(ctx context.Context) (io.ReadCloser, error)

	// EncryptToVault replaces the keystore entry with message.
	EncryptToVault(ctx context.Context, message string) error

	// DecryptFromVault returns the keystore entry as text.
	DecryptFromVault(ctx context.Context) (string, error)

	Password() string
	Filename() string
	KeystoreName() string
}

var _ Vault = (*PasswordVault)(nil)

// A PasswordVault stores its keystore entry inside an AES-256-GCM encrypted
// container whose key is derived from a password. Several keystores may
// share a container. The vault is safe for concurrent use.
type PasswordVault struct {
	backend   backend.Backend
	filename  string
	keystore  string
	kdf       KDF
	mustExist bool
	verify    bool
	log       logrus.FieldLogger

	mu       sync.RWMutex
	password string
	ready    bool
	head     header
	gcm      cipher.AEAD
	key      []byte
	writing  bool
}

// New returns an unconfigured vault. Initialize must succeed before any
// stream, encrypt or decrypt operation.
func New(b backend.Backend, password, filename, keystoreName string, opts ...Option) *PasswordVault {
	v := &PasswordVault{
		backend:  b,
		password: password,
		filename: filename,
		keystore: keystoreName,
		kdf:      PBKDF2,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.WithFields(logrus.Fields{
		"filename": filename,
		"keystore": keystoreName,
	})
	return v
}

// Open initializes a vault stored in the file at path. If the file does not
// exist, a new container is created unless MustExist is given.
func Open(ctx context.Context, path, password, keystoreName string, opts ...Option) (*PasswordVault, error) {
	v := New(backend.NewFile(""), password, path, keystoreName, opts...)
	if err := v.Initialize(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// Password returns the password currently protecting the vault.
func (v *PasswordVault) Password() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.password
}

// Filename returns the name of the backing container.
func (v *PasswordVault) Filename() string { return v.filename }

// KeystoreName returns the name of the keystore entry inside the container.
func (v *PasswordVault) KeystoreName() string { return v.keystore }

// Ready reports whether Initialize succeeded and the vault was not locked
// since.
func (v *PasswordVault) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ready
}

// ID returns the identifier of the container, or uuid.Nil before
// initialization.
func (v *PasswordVault) ID() uuid.UUID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.head.id
}

// Revision returns the format revision of the container.
func (v *PasswordVault) Revision() uint16 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.head.rev
}

// Initialize loads the container header and derives the key. Calling it on a
// ready vault reloads the header; if that fails the vault is left
// unconfigured.
func (v *PasswordVault) Initialize(ctx context.Context) error {
	const op = "initialize"

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.password == "" {
		return newError(op, ErrInitialization, errors.New("password is not set"))
	}
	if v.filename == "" {
		return newError(op, ErrInitialization, errors.New("filename is not set"))
	}
	if err := validKeystoreName(v.keystore); err != nil {
		return newError(op, ErrInitialization, err)
	}

	if err := v.load(ctx); err != nil {
		v.reset()
		return err
	}
	return nil
}

// load reads or creates the container and sets the vault ready. v.mu must be
// held for writing.
func (v *PasswordVault) load(ctx context.Context) error {
	const op = "initialize"

	data, err := v.backend.Load(ctx, v.filename)
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			if v.mustExist {
				return newError(op, ErrInitialization, err)
			}
			return v.create(ctx)
		}
		return newError(op, ErrInitialization, newError(op, ErrStorage, err))
	}

	c, err := decodeContainer(data)
	if err != nil {
		return newError(op, ErrInitialization, errors.Wrap(err, "corrupt container"))
	}
	gcm, key, err := v.derive(c.head)
	if err != nil {
		return newError(op, ErrInitialization, err)
	}
	if v.verify {
		plaintext, err := open(gcm, c)
		if err != nil {
			wipe(key)
			return newError(op, ErrInitialization, newError(op, ErrDecryption, err))
		}
		wipe(plaintext)
	}

	v.setReady(c.head, gcm, key)
	v.log.WithField("revision", c.head.rev).Debug("vault opened")
	return nil
}

func (v *PasswordVault) create(ctx context.Context) error {
	const op = "initialize"

	salt, err := generateSalt()
	if err != nil {
		return newError(op, ErrInitialization, err)
	}
	head := header{rev: CurrentRevision, kdf: v.kdf, id: uuid.New(), salt: salt}
	gcm, key, err := v.derive(head)
	if err != nil {
		return newError(op, ErrInitialization, err)
	}
	data, err := seal(gcm, head, newKeyring())
	if err != nil {
		wipe(key)
		return newError(op, ErrInitialization, newError(op, ErrEncryption, err))
	}
	c := &container{head: head, data: data}
	if err := v.backend.Save(ctx, v.filename, c.encode()); err != nil {
		wipe(key)
		return newError(op, ErrInitialization, newError(op, ErrStorage, err))
	}

	v.setReady(head, gcm, key)
	v.log.WithFields(logrus.Fields{
		"id":  head.id.String(),
		"kdf": head.kdf.String(),
	}).Info("vault created")
	return nil
}

func (v *PasswordVault) derive(head header) (cipher.AEAD, []byte, error) {
	key, err := head.kdf.deriveKey([]byte(v.password), head.salt)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		wipe(key)
		return nil, nil, err
	}
	return gcm, key, nil
}

func (v *PasswordVault) setReady(head header, gcm cipher.AEAD, key []byte) {
	if v.key != nil {
		wipe(v.key)
	}
	v.head = head
	v.gcm = gcm
	v.key = key
	v.ready = true
}

// Lock wipes the derived key and returns the vault to the unconfigured
// state. Initialize makes it ready again.
func (v *PasswordVault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reset()
	v.log.Debug("vault locked")
}

func (v *PasswordVault) reset() {
	if v.key != nil {
		wipe(v.key)
	}
	v.key = nil
	v.gcm = nil
	v.ready = false
}

// OutputStream returns a writer buffering the new keystore content. The
// content is encrypted and stored only by Close or Commit; Abort discards it.
// Close uses ctx to reach the backend. A vault has at most one open output
// stream.
func (v *PasswordVault) OutputStream(ctx context.Context) (Sink, error) {
	const op = "output stream"

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ready {
		return nil, newError(op, ErrNotReady, nil)
	}
	if v.writing {
		return nil, newError(op, ErrStreamBusy, nil)
	}
	v.writing = true
	return &OutputStream{v: v, ctx: ctx}, nil
}

// InputStream returns a reader over the decrypted keystore content. The
// plaintext is wiped from memory by Close.
func (v *PasswordVault) InputStream(ctx context.Context) (io.ReadCloser, error) {
	const op = "input stream"

	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.ready {
		return nil, newError(op, ErrNotReady, nil)
	}
	kr, _, err := v.loadKeyring(ctx, op)
	if err != nil {
		return nil, err
	}
	defer kr.wipe()
	value, ok := kr.load(v.keystore)
	if !ok {
		return nil, newError(op, ErrNoContent, nil)
	}
	return newInputStream(append([]byte(nil), value...)), nil
}

// EncryptToVault encrypts message and stores it as the keystore content,
// replacing any previous content.
// It does the same commit as closing an output stream but does not take the
// output stream slot, so it never fails with ErrStreamBusy.
func (v *PasswordVault) EncryptToVault(ctx context.Context, message string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commit(ctx, "encrypt", func(kr *keyring) error {
		return kr.store(v.keystore, []byte(message))
	})
}

// DecryptFromVault returns the keystore content. A wrong password or altered
// content fails with ErrDecryption; backend failures with ErrStorage.
func (v *PasswordVault) DecryptFromVault(ctx context.Context) (string, error) {
	r, err := v.InputStream(ctx)
	if err != nil {
		return "", err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", newError("decrypt", ErrStorage, err)
	}
	return string(b), nil
}

// Keystores lists the keystore names stored in the container.
func (v *PasswordVault) Keystores(ctx context.Context) ([]string, error) {
	const op = "keystores"

	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.ready {
		return nil, newError(op, ErrNotReady, nil)
	}
	kr, _, err := v.loadKeyring(ctx, op)
	if err != nil {
		return nil, err
	}
	defer kr.wipe()
	return kr.names(), nil
}

// Remove deletes the keystore entry from the container. Removing an absent
// entry is not an error.
func (v *PasswordVault) Remove(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commit(ctx, "remove", func(kr *keyring) error {
		kr.delete(v.keystore)
		return nil
	})
}

// ChangePassword re-encrypts the whole container under a key derived from
// newPassword with a fresh salt.
func (v *PasswordVault) ChangePassword(ctx context.Context, newPassword string) error {
	const op = "change password"

	if newPassword == "" {
		return newError(op, ErrEncryption, errors.New("new password is empty"))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ready {
		return newError(op, ErrNotReady, nil)
	}
	kr, c, err := v.loadKeyring(ctx, op)
	if err != nil {
		return err
	}
	defer kr.wipe()

	salt, err := generateSalt()
	if err != nil {
		return newError(op, ErrEncryption, err)
	}
	head := header{rev: CurrentRevision, kdf: v.kdf, id: c.head.id, salt: salt}
	old := v.password
	v.password = newPassword
	gcm, key, err := v.derive(head)
	if err != nil {
		v.password = old
		return newError(op, ErrEncryption, err)
	}
	data, err := seal(gcm, head, kr)
	if err != nil {
		v.password = old
		wipe(key)
		return newError(op, ErrEncryption, err)
	}
	next := &container{head: head, data: data}
	if err := v.backend.Save(ctx, v.filename, next.encode()); err != nil {
		v.password = old
		wipe(key)
		return newError(op, ErrStorage, err)
	}

	v.setReady(head, gcm, key)
	v.log.Info("vault password changed")
	return nil
}

// commit runs a read-modify-write cycle on the keyring. v.mu must be held
// for writing.
func (v *PasswordVault) commit(ctx context.Context, op string, mutate func(*keyring) error) error {
	if !v.ready {
		return newError(op, ErrNotReady, nil)
	}
	kr, c, err := v.loadKeyring(ctx, op)
	if err != nil {
		return err
	}
	defer kr.wipe()

	if err := mutate(kr); err != nil {
		return newError(op, ErrEncryption, err)
	}
	gcm, err := v.gcmFor(c.head)
	if err != nil {
		return newError(op, ErrEncryption, err)
	}
	data, err := seal(gcm, c.head, kr)
	if err != nil {
		return newError(op, ErrEncryption, err)
	}
	c.data = data
	if err := v.backend.Save(ctx, v.filename, c.encode()); err != nil {
		return newError(op, ErrStorage, err)
	}
	v.log.Debug("vault committed")
	return nil
}

// loadKeyring reads and decrypts the current container. v.mu must be held.
func (v *PasswordVault) loadKeyring(ctx context.Context, op string) (*keyring, *container, error) {
	data, err := v.backend.Load(ctx, v.filename)
	if err != nil {
		return nil, nil, newError(op, ErrStorage, err)
	}
	c, err := decodeContainer(data)
	if err != nil {
		return nil, nil, newError(op, ErrDecryption, errors.Wrap(err, "corrupt container"))
	}
	gcm, err := v.gcmFor(c.head)
	if err != nil {
		return nil, nil, newError(op, ErrDecryption, err)
	}
	plaintext, err := open(gcm, c)
	if err != nil {
		return nil, nil, newError(op, ErrDecryption, err)
	}
	defer wipe(plaintext)
	kr, err := decodeKeyring(plaintext)
	if err != nil {
		return nil, nil, newError(op, ErrDecryption, err)
	}
	return kr, c, nil
}

// gcmFor returns the cipher for head, deriving a new key when the container
// was re-keyed by someone else since initialization.
func (v *PasswordVault) gcmFor(head header) (cipher.AEAD, error) {
	if head.kdf == v.head.kdf && bytes.Equal(head.salt, v.head.salt) {
		return v.gcm, nil
	}
	gcm, key, err := v.derive(head)
	if err != nil {
		return nil, err
	}
	wipe(key)
	return gcm, nil
}

func seal(gcm cipher.AEAD, head header, kr *keyring) (sealed, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, errors.Wrap(err, "cannot encrypt keyring")
	}
	plaintext := kr.encode()
	defer wipe(plaintext)
	ciphertext := gcm.Seal(nil, nonce, plaintext, head.bytes())
	return newSealed(nonce, ciphertext), nil
}

func open(gcm cipher.AEAD, c *container) ([]byte, error) {
	plaintext, err := gcm.Open(nil, c.data.nonce(), c.data.ciphertext(), c.head.bytes())
	if err != nil {
		return nil, errors.Wrap(err, "cannot decrypt ciphertext")
	}
	return plaintext, nil
}
