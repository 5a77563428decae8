// Package config loads the settings of a vault from a YAML file, a .env file
// and CRYPTOVAULT_* environment variables, in that order of precedence.
package config

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/quux00/crypto-vault/backend"
	"github.com/quux00/crypto-vault/backend/awssm"
	"github.com/quux00/crypto-vault/backend/hcvault"
	"github.com/quux00/crypto-vault/vault"
)

// Backend types.
const (
	BackendFile      = "file"
	BackendMemory    = "memory"
	BackendHashiCorp = "hashicorp"
	BackendAWS       = "aws"
)

// Config describes one vault. The password is never read from the YAML
// file, only from the environment.
type Config struct {
	Filename       string `yaml:"filename" validate:"required"`
	Keystore       string `yaml:"keystore" validate:"required,keystore"`
	Password       string `yaml:"-"`
	KDF            string `yaml:"kdf" validate:"oneof=pbkdf2 argon2id"`
	MustExist      bool   `yaml:"must_exist"`
	VerifyPassword bool   `yaml:"verify_password"`

	Backend struct {
		Type string `yaml:"type" validate:"oneof=file memory hashicorp aws"`
		Dir  string `yaml:"dir"`

		HashiCorp struct {
			Address string        `yaml:"address" validate:"omitempty,url"`
			Token   string        `yaml:"-"`
			Mount   string        `yaml:"mount"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"hashicorp"`

		AWS struct {
			Region          string        `yaml:"region"`
			Profile         string        `yaml:"profile"`
			AccessKeyID     string        `yaml:"-"`
			SecretAccessKey string        `yaml:"-"`
			Endpoint        string        `yaml:"endpoint" validate:"omitempty,url"`
			Timeout         time.Duration `yaml:"timeout"`
		} `yaml:"aws"`
	} `yaml:"backend"`

	Logging struct {
		Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
		Format string `yaml:"format" validate:"oneof=text json"`
	} `yaml:"logging"`
}

func defaultConfig() *Config {
	c := &Config{}
	c.Filename = "secrets.vault"
	c.Keystore = "default"
	c.KDF = "pbkdf2"
	c.Backend.Type = BackendFile
	c.Backend.HashiCorp.Mount = "secret"
	c.Backend.AWS.Region = "us-east-1"
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	return c
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file in the working directory is ignored.
func Load(path string) (*Config, error) {
	c := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read config file %q", path)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "cannot parse config file %q", path)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "cannot load .env file")
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if value, ok := os.LookupEnv(key); ok {
			*dst = value
		}
	}
	setBool := func(key string, dst *bool) error {
		if value, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return errors.Wrapf(err, "invalid boolean in %s", key)
			}
			*dst = b
		}
		return nil
	}

	setString("CRYPTOVAULT_FILENAME", &c.Filename)
	setString("CRYPTOVAULT_KEYSTORE", &c.Keystore)
	setString("CRYPTOVAULT_PASSWORD", &c.Password)
	setString("CRYPTOVAULT_KDF", &c.KDF)
	setString("CRYPTOVAULT_BACKEND", &c.Backend.Type)
	setString("CRYPTOVAULT_BACKEND_DIR", &c.Backend.Dir)
	setString("CRYPTOVAULT_LOG_LEVEL", &c.Logging.Level)
	setString("CRYPTOVAULT_LOG_FORMAT", &c.Logging.Format)
	setString("VAULT_ADDR", &c.Backend.HashiCorp.Address)
	setString("VAULT_TOKEN", &c.Backend.HashiCorp.Token)
	setString("AWS_REGION", &c.Backend.AWS.Region)
	setString("AWS_PROFILE", &c.Backend.AWS.Profile)
	setString("AWS_ACCESS_KEY_ID", &c.Backend.AWS.AccessKeyID)
	setString("AWS_SECRET_ACCESS_KEY", &c.Backend.AWS.SecretAccessKey)

	if err := setBool("CRYPTOVAULT_MUST_EXIST", &c.MustExist); err != nil {
		return err
	}
	return setBool("CRYPTOVAULT_VERIFY_PASSWORD", &c.VerifyPassword)
}

var reKeystore = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("keystore", func(fl validator.FieldLevel) bool {
		return reKeystore.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks field values and the settings required by the selected
// backend.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if c.Backend.Type == BackendHashiCorp && c.Backend.HashiCorp.Address == "" {
		return errors.New("invalid configuration: backend.hashicorp.address is required")
	}
	return nil
}

// NewBackend creates the configured backend.
func (c *Config) NewBackend(ctx context.Context) (backend.Backend, error) {
	switch c.Backend.Type {
	case BackendMemory:
		return backend.NewMemory(), nil
	case BackendHashiCorp:
		hc := c.Backend.HashiCorp
		return hcvault.NewFromConfig(hcvault.Config{
			Address: hc.Address,
			Token:   hc.Token,
			Mount:   hc.Mount,
			Timeout: hc.Timeout,
		})
	case BackendAWS:
		a := c.Backend.AWS
		return awssm.NewFromConfig(ctx, awssm.Config{
			Region:          a.Region,
			Profile:         a.Profile,
			AccessKeyID:     a.AccessKeyID,
			SecretAccessKey: a.SecretAccessKey,
			Endpoint:        a.Endpoint,
			Timeout:         a.Timeout,
		})
	case BackendFile, "":
		return backend.NewFile(c.Backend.Dir), nil
	}
	return nil, errors.Errorf("unknown backend type %q", c.Backend.Type)
}

// Options maps the configuration to vault options.
func (c *Config) Options(log logrus.FieldLogger) ([]vault.Option, error) {
	kdf, err := vault.ParseKDF(c.KDF)
	if err != nil {
		return nil, err
	}
	opts := []vault.Option{vault.WithKDF(kdf), vault.WithLogger(log)}
	if c.MustExist {
		opts = append(opts, vault.MustExist())
	}
	if c.VerifyPassword {
		opts = append(opts, vault.VerifyPassword())
	}
	return opts, nil
}

// ConfigureLogger applies the logging section to log.
func (c *Config) ConfigureLogger(log *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	log.SetLevel(level)
	if c.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
