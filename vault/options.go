package vault

import (
	"github.com/sirupsen/logrus"
)

// Option configures a PasswordVault.
type Option func(*PasswordVault)

// WithKDF selects the key derivation used when a container is created or its
// password is changed. Existing containers keep the KDF recorded in their
// header.
func WithKDF(kdf KDF) Option {
	return func(v *PasswordVault) {
		if kdf.valid() {
			v.kdf = kdf
		}
	}
}

// WithLogger sets the logger receiving lifecycle events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(v *PasswordVault) {
		if log != nil {
			v.log = log
		}
	}
}

// MustExist makes Initialize fail instead of creating a missing container.
func MustExist() Option {
	return func(v *PasswordVault) {
		v.mustExist = true
	}
}

// VerifyPassword makes Initialize authenticate the password against the
// stored container. Without it a wrong password is only detected by the
// first read.
func VerifyPassword() Option {
	return func(v *PasswordVault) {
		v.verify = true
	}
}
