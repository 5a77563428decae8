// Package awssm stores vault containers as binary secrets in AWS Secrets
// Manager.
package awssm

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quux00/crypto-vault/backend"
)

const (
	defaultRegion  = "us-east-1"
	defaultTimeout = 30 * time.Second
)

// Config selects the account and region. Static credentials are used when
// both AccessKeyID and SecretAccessKey are set, then Profile, then the
// default credential chain.
type Config struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Timeout         time.Duration
}

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// Backend maps container names to secret ids.
type Backend struct {
	sm      secretsAPI
	timeout time.Duration
}

var _ backend.Backend = (*Backend)(nil)

func newBackend(sm secretsAPI, timeout time.Duration) *Backend {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Backend{sm: sm, timeout: timeout}
}

// NewFromConfig loads the AWS SDK configuration and creates a Secrets
// Manager client.
func NewFromConfig(ctx context.Context, cfg Config) (*Backend, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		logrus.Debug("using static AWS credentials")
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case cfg.Profile != "":
		logrus.Debug("using shared AWS config profile")
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	default:
		logrus.Debug("no AWS credentials configured, using the default chain")
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load AWS config")
	}

	client := secretsmanager.NewFromConfig(sdkConfig, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newBackend(client, cfg.Timeout), nil
}

// Load returns the SecretBinary of the current version of the secret.
func (b *Backend) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, err := b.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, errors.Wrapf(backend.ErrNotExist, "secret %q", name)
		}
		return nil, errors.Wrapf(err, "cannot get secret %q", name)
	}
	if out.SecretBinary == nil {
		return nil, errors.Errorf("secret %q has no binary value", name)
	}
	return out.SecretBinary, nil
}

// Save puts a new secret version, creating the secret on first use.
func (b *Backend) Save(ctx context.Context, name string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.sm.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretBinary: data,
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return errors.Wrapf(err, "cannot put secret %q", name)
	}
	_, err = b.sm.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretBinary: data,
		Description:  aws.String("Encrypted container managed by crypto-vault"),
	})
	if err != nil {
		return errors.Wrapf(err, "cannot create secret %q", name)
	}
	return nil
}
