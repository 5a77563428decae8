// Package hcvault stores vault containers in a HashiCorp Vault KV v2 secrets
// engine.
package hcvault

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quux00/crypto-vault/backend"
)

const (
	defaultMount   = "secret"
	defaultTimeout = 30 * time.Second

	valueField = "value"
)

// Config holds the connection settings of the KV engine.
type Config struct {
	Address string
	Token   string
	Mount   string
	Timeout time.Duration
}

// kvClient is the part of *api.KVv2 used by the backend.
type kvClient interface {
	Get(ctx context.Context, secretPath string) (*api.KVSecret, error)
	Put(ctx context.Context, secretPath string, data map[string]interface{}, opts ...api.KVOption) (*api.KVSecret, error)
}

// Backend keeps each container base64 encoded in the "value" field of the
// KV secret named after the container.
type Backend struct {
	kv      kvClient
	timeout time.Duration
}

var _ backend.Backend = (*Backend)(nil)

func newBackend(kv kvClient, timeout time.Duration) *Backend {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Backend{kv: kv, timeout: timeout}
}

// NewFromConfig creates a client for cfg. When cfg.Token is empty the client
// falls back to VAULT_TOKEN or the token helper file.
func NewFromConfig(cfg Config) (*Backend, error) {
	if cfg.Address == "" {
		return nil, errors.New("vault address is not set")
	}
	mount := cfg.Mount
	if mount == "" {
		mount = defaultMount
	}

	apiConfig := api.DefaultConfig()
	apiConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}

	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create vault client")
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	} else if client.Token() == "" {
		return nil, errors.New("vault token not found in config, environment (VAULT_TOKEN) or token file")
	}

	logrus.WithFields(logrus.Fields{
		"address": cfg.Address,
		"mount":   mount,
	}).Debug("using hashicorp vault backend")

	return newBackend(client.KVv2(mount), cfg.Timeout), nil
}

// Load reads the container stored at name.
func (b *Backend) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	secret, err := b.kv.Get(ctx, name)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return nil, errors.Wrapf(backend.ErrNotExist, "kv secret %q", name)
		}
		return nil, errors.Wrapf(err, "cannot read kv secret %q", name)
	}
	if secret == nil || secret.Data == nil {
		return nil, errors.Wrapf(backend.ErrNotExist, "kv secret %q", name)
	}

	value, ok := secret.Data[valueField].(string)
	if !ok {
		return nil, errors.Errorf("kv secret %q does not contain a string %q field", name, valueField)
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.Wrapf(err, "kv secret %q is not base64", name)
	}
	return data, nil
}

// Save writes a new version of the secret at name.
func (b *Backend) Save(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.kv.Put(ctx, name, map[string]interface{}{
		valueField: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return errors.Wrapf(err, "cannot write kv secret %q", name)
	}
	return nil
}
