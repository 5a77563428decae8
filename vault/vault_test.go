package vault

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quux00/crypto-vault/backend"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestVault(t *testing.T, b backend.Backend, password, keystore string, opts ...Option) *PasswordVault {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(b, password, "secrets.vault", keystore, opts...)
}

func readyVault(t *testing.T, b backend.Backend, password, keystore string, opts ...Option) *PasswordVault {
	t.Helper()
	v := newTestVault(t, b, password, keystore, opts...)
	require.NoError(t, v.Initialize(context.Background()))
	return v
}

// flakyBackend fails every Load once armed.
type flakyBackend struct {
	backend.Backend
	fail bool
}

func (f *flakyBackend) Load(ctx context.Context, name string) ([]byte, error) {
	if f.fail {
		return nil, errors.New("connection reset")
	}
	return f.Backend.Load(ctx, name)
}

func TestAccessors(t *testing.T) {
	v := readyVault(t, backend.NewMemory(), "hunter2", "mail")

	assert.Equal(t, "hunter2", v.Password())
	assert.Equal(t, "secrets.vault", v.Filename())
	assert.Equal(t, "mail", v.KeystoreName())
	assert.True(t, v.Ready())
	assert.Equal(t, CurrentRevision, v.Revision())
	assert.NotEqual(t, uuid.Nil, v.ID())
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()

	v := readyVault(t, mem, "hunter2", "default")
	require.NoError(t, v.EncryptToVault(ctx, "top secret"))

	msg, err := v.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top secret", msg)

	reopened := readyVault(t, mem, "wrong", "default")
	msg, err = reopened.DecryptFromVault(ctx)
	assert.True(t, errors.Is(err, ErrDecryption), "got %v", err)
	assert.False(t, errors.Is(err, ErrStorage))
	assert.Empty(t, msg)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	tests := map[string]string{
		"empty":     "",
		"ascii":     "top secret",
		"multiline": "line one\nline two\n",
		"unicode":   "mot de passe: été ☃",
		"braces":    "{not:a:record}",
		"large":     strings.Repeat("0123456789abcdef", 4096),
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			v := readyVault(t, backend.NewMemory(), "hunter2", "default")
			require.NoError(t, v.EncryptToVault(ctx, msg))
			got, err := v.DecryptFromVault(ctx)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestEncryptOverwrites(t *testing.T) {
	ctx := context.Background()
	v := readyVault(t, backend.NewMemory(), "hunter2", "default")

	require.NoError(t, v.EncryptToVault(ctx, "first"))
	require.NoError(t, v.EncryptToVault(ctx, "second"))

	got, err := v.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestNotReady(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, backend.NewMemory(), "hunter2", "default")

	_, err := v.OutputStream(ctx)
	assert.True(t, errors.Is(err, ErrNotReady))
	_, err = v.InputStream(ctx)
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.True(t, errors.Is(v.EncryptToVault(ctx, "x"), ErrNotReady))
	_, err = v.DecryptFromVault(ctx)
	assert.True(t, errors.Is(err, ErrNotReady))
	_, err = v.Keystores(ctx)
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.True(t, errors.Is(v.Remove(ctx), ErrNotReady))
	assert.True(t, errors.Is(v.ChangePassword(ctx, "new"), ErrNotReady))

	// accessors never fail
	assert.Equal(t, "hunter2", v.Password())
	assert.False(t, v.Ready())
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name     string
		password string
		filename string
		keystore string
	}{
		{"no password", "", "secrets.vault", "default"},
		{"no filename", "hunter2", "", "default"},
		{"no keystore", "hunter2", "secrets.vault", ""},
		{"bad keystore", "hunter2", "secrets.vault", "a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := backend.NewMemory()
			v := New(mem, tt.password, tt.filename, tt.keystore, WithLogger(quietLogger()))
			err := v.Initialize(context.Background())
			assert.True(t, errors.Is(err, ErrInitialization), "got %v", err)
			assert.False(t, v.Ready())

			_, err = mem.Load(context.Background(), tt.filename)
			assert.True(t, errors.Is(err, backend.ErrNotExist), "nothing must be created")
		})
	}
}

func TestMustExist(t *testing.T) {
	v := newTestVault(t, backend.NewMemory(), "hunter2", "default", MustExist())
	err := v.Initialize(context.Background())
	assert.True(t, errors.Is(err, ErrInitialization))
	assert.True(t, errors.Is(err, backend.ErrNotExist))
}

func TestVerifyPassword(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	readyVault(t, mem, "hunter2", "default")

	v := newTestVault(t, mem, "wrong", "default", VerifyPassword())
	err := v.Initialize(ctx)
	assert.True(t, errors.Is(err, ErrInitialization))
	assert.True(t, errors.Is(err, ErrDecryption))
	assert.False(t, v.Ready())

	v = newTestVault(t, mem, "hunter2", "default", VerifyPassword(), MustExist())
	assert.NoError(t, v.Initialize(ctx))
}

func TestInitializeCorruptContainer(t *testing.T) {
	ctx := context.Background()
	tests := map[string][]byte{
		"empty":          {},
		"truncated":      {2, 0, 1},
		"wrong revision": append([]byte{1, 0}, make([]byte, 80)...),
		"unknown kdf":    append([]byte{2, 0, 9}, make([]byte, 80)...),
		"no ciphertext":  append([]byte{2, 0, 1}, make([]byte, idSize+saltSize)...),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			mem := backend.NewMemory()
			require.NoError(t, mem.Save(ctx, "secrets.vault", data))
			v := newTestVault(t, mem, "hunter2", "default")
			assert.True(t, errors.Is(v.Initialize(ctx), ErrInitialization))
		})
	}
}

func TestTamperedContainer(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	v := readyVault(t, mem, "hunter2", "default")
	require.NoError(t, v.EncryptToVault(ctx, "top secret"))

	data, err := mem.Load(ctx, "secrets.vault")
	require.NoError(t, err)

	for _, offset := range []int{revSize + kdfSize, headSize + nonceSize + 1, len(data) - 1} {
		tampered := append([]byte(nil), data...)
		tampered[offset] ^= 0xff
		require.NoError(t, mem.Save(ctx, "secrets.vault", tampered))

		_, err := v.DecryptFromVault(ctx)
		assert.True(t, errors.Is(err, ErrDecryption), "offset %d: got %v", offset, err)
	}
}

func TestStorageFailureIsNotDecryptionFailure(t *testing.T) {
	ctx := context.Background()
	fb := &flakyBackend{Backend: backend.NewMemory()}
	v := readyVault(t, fb, "hunter2", "default")
	require.NoError(t, v.EncryptToVault(ctx, "top secret"))

	fb.fail = true
	_, err := v.DecryptFromVault(ctx)
	assert.True(t, errors.Is(err, ErrStorage), "got %v", err)
	assert.False(t, errors.Is(err, ErrDecryption))

	fb.fail = false
	msg, err := v.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top secret", msg)
}

func TestInitializeStorageFailure(t *testing.T) {
	fb := &flakyBackend{Backend: backend.NewMemory(), fail: true}
	v := newTestVault(t, fb, "hunter2", "default")
	err := v.Initialize(context.Background())
	assert.True(t, errors.Is(err, ErrInitialization))
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestReinitializeFailureResetsState(t *testing.T) {
	ctx := context.Background()

	t.Run("corrupt container", func(t *testing.T) {
		mem := backend.NewMemory()
		v := readyVault(t, mem, "hunter2", "default")
		require.NoError(t, v.EncryptToVault(ctx, "top secret"))

		require.NoError(t, mem.Save(ctx, "secrets.vault", []byte{9, 9, 9}))
		assert.True(t, errors.Is(v.Initialize(ctx), ErrInitialization))
		assert.False(t, v.Ready())
		assert.True(t, errors.Is(v.EncryptToVault(ctx, "again"), ErrNotReady))
		_, err := v.DecryptFromVault(ctx)
		assert.True(t, errors.Is(err, ErrNotReady))
	})

	t.Run("storage failure", func(t *testing.T) {
		fb := &flakyBackend{Backend: backend.NewMemory()}
		v := readyVault(t, fb, "hunter2", "default")

		fb.fail = true
		err := v.Initialize(ctx)
		assert.True(t, errors.Is(err, ErrStorage))
		assert.False(t, v.Ready())

		fb.fail = false
		assert.True(t, errors.Is(v.EncryptToVault(ctx, "again"), ErrNotReady))
		require.NoError(t, v.Initialize(ctx))
		assert.True(t, v.Ready())
	})

	t.Run("password mismatch", func(t *testing.T) {
		mem := backend.NewMemory()
		owner := readyVault(t, mem, "hunter2", "default")
		v := newTestVault(t, mem, "hunter2", "default", VerifyPassword())
		require.NoError(t, v.Initialize(ctx))

		require.NoError(t, owner.ChangePassword(ctx, "rotated"))
		assert.True(t, errors.Is(v.Initialize(ctx), ErrDecryption))
		assert.False(t, v.Ready())
		_, err := v.OutputStream(ctx)
		assert.True(t, errors.Is(err, ErrNotReady))
	})
}

func TestDecryptEmptyKeystore(t *testing.T) {
	v := readyVault(t, backend.NewMemory(), "hunter2", "default")
	_, err := v.DecryptFromVault(context.Background())
	assert.True(t, errors.Is(err, ErrNoContent))
}

func TestSharedContainer(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	mail := readyVault(t, mem, "hunter2", "mail")
	bank := readyVault(t, mem, "hunter2", "bank")
	assert.Equal(t, mail.ID(), bank.ID())

	require.NoError(t, mail.EncryptToVault(ctx, "mail-password"))
	require.NoError(t, bank.EncryptToVault(ctx, "bank-pin"))

	got, err := mail.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mail-password", got)

	names, err := bank.Keystores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bank", "mail"}, names)

	require.NoError(t, bank.Remove(ctx))
	require.NoError(t, bank.Remove(ctx))
	names, err = mail.Keystores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mail"}, names)
}

func TestWrongPasswordCannotOverwrite(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	v := readyVault(t, mem, "hunter2", "default")
	require.NoError(t, v.EncryptToVault(ctx, "top secret"))

	intruder := readyVault(t, mem, "wrong", "default")
	assert.True(t, errors.Is(intruder.EncryptToVault(ctx, "owned"), ErrDecryption))

	got, err := v.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top secret", got)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	v := readyVault(t, mem, "hunter2", "default")
	stale := readyVault(t, mem, "hunter2", "default")
	require.NoError(t, v.EncryptToVault(ctx, "top secret"))
	id := v.ID()

	require.NoError(t, v.ChangePassword(ctx, "correct horse"))
	assert.Equal(t, "correct horse", v.Password())
	assert.Equal(t, id, v.ID())

	got, err := v.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top secret", got)

	_, err = stale.DecryptFromVault(ctx)
	assert.True(t, errors.Is(err, ErrDecryption))

	fresh := readyVault(t, mem, "correct horse", "default", VerifyPassword())
	got, err = fresh.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top secret", got)

	assert.Error(t, v.ChangePassword(ctx, ""))
}

func TestArgon2id(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	v := readyVault(t, mem, "hunter2", "default", WithKDF(Argon2id))
	require.NoError(t, v.EncryptToVault(ctx, "top secret"))

	data, err := mem.Load(ctx, "secrets.vault")
	require.NoError(t, err)
	assert.Equal(t, byte(Argon2id), data[revSize])

	// The KDF option does not apply to an existing container.
	reopened := readyVault(t, mem, "hunter2", "default", WithKDF(PBKDF2))
	got, err := reopened.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top secret", got)
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	v := readyVault(t, backend.NewMemory(), "hunter2", "default")
	require.NoError(t, v.EncryptToVault(ctx, "top secret"))

	v.Lock()
	assert.False(t, v.Ready())
	_, err := v.DecryptFromVault(ctx)
	assert.True(t, errors.Is(err, ErrNotReady))

	require.NoError(t, v.Initialize(ctx))
	got, err := v.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top secret", got)
}

func TestConcurrentUse(t *testing.T) {
	ctx := context.Background()
	v := readyVault(t, backend.NewMemory(), "hunter2", "default")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.EncryptToVault(ctx, "top secret"))
		}()
		go func() {
			defer wg.Done()
			_ = v.Password()
			_, err := v.DecryptFromVault(ctx)
			if err != nil {
				assert.True(t, errors.Is(err, ErrNoContent), "got %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := v.DecryptFromVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "top secret", got)
}

func TestErrorMessage(t *testing.T) {
	err := newError("decrypt", ErrDecryption, errors.New("cipher: message authentication failed"))
	assert.Equal(t, "decrypt: decryption failed: cipher: message authentication failed", err.Error())
	assert.Equal(t, "read: stream closed", newError("read", ErrStreamClosed, nil).Error())

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "decrypt", verr.Op)
}
