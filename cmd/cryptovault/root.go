package main

import (
	"fmt"
	"os"

	"github.com/howeyc/gopass"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quux00/crypto-vault/config"
	"github.com/quux00/crypto-vault/vault"
)

// version
const (
	major = "2"
	minor = "0"
	patch = "0"
)

type app struct {
	cfgFile  string
	filename string
	keystore string
	backend  string

	cfg *config.Config
	log *logrus.Logger

	// readPassword is replaced in tests.
	readPassword func(prompt string) (string, error)
}

func newApp() *app {
	return &app{
		log:          logrus.New(),
		readPassword: promptPassword,
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := gopass.GetPasswd()
	if err != nil {
		return "", errors.Wrap(err, "cannot read password")
	}
	return string(b), nil
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cryptovault",
		Short: "Manage password protected vaults",
		Long: `Cryptovault stores secrets in an AES-256-GCM encrypted container protected
by a password. The password is read from CRYPTOVAULT_PASSWORD or prompted.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "path of the YAML configuration file")
	flags.StringVarP(&a.filename, "file", "f", "", "vault container name (overrides config)")
	flags.StringVarP(&a.keystore, "keystore", "k", "", "keystore name inside the container (overrides config)")
	flags.StringVar(&a.backend, "backend", "", "backend type: file, memory, hashicorp or aws (overrides config)")

	root.AddCommand(
		a.initCmd(),
		a.encryptCmd(),
		a.decryptCmd(),
		a.listCmd(),
		a.removeCmd(),
		a.passwdCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.filename != "" {
		cfg.Filename = a.filename
	}
	if a.keystore != "" {
		cfg.Keystore = a.keystore
	}
	if a.backend != "" {
		cfg.Backend.Type = a.backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ConfigureLogger(a.log); err != nil {
		return err
	}
	a.log.SetOutput(cmd.ErrOrStderr())
	a.cfg = cfg
	return nil
}

// openVault builds and initializes the configured vault.
func (a *app) openVault(cmd *cobra.Command) (*vault.PasswordVault, error) {
	ctx := cmd.Context()

	password := a.cfg.Password
	if password == "" {
		var err error
		if password, err = a.readPassword("Password: "); err != nil {
			return nil, err
		}
	}

	b, err := a.cfg.NewBackend(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := a.cfg.Options(a.log)
	if err != nil {
		return nil, err
	}

	v := vault.New(b, password, a.cfg.Filename, a.cfg.Keystore, opts...)
	if err := v.Initialize(ctx); err != nil {
		return nil, err
	}
	return v, nil
}
