// Package backend defines where a vault container lives. A backend only moves
// opaque, already encrypted bytes; it never sees a password or plaintext.
package backend

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotExist is returned by Load when no resource is stored under the name.
var ErrNotExist = errors.New("resource does not exist")

// Backend persists whole vault containers by name.
type Backend interface {
	// Load returns the stored bytes for name, or an error matching
	// ErrNotExist.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save replaces the resource stored under name. Implementations replace
	// the resource atomically when the medium allows it.
	Save(ctx context.Context, name string, data []byte) error
}
