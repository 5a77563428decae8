package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quux00/crypto-vault/vault"
)

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the vault container or check that it opens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vault %s ready (revision %d)\n", v.ID(), v.Revision())
			return nil
		},
	}
}

func (a *app) encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [MESSAGE...]",
		Short: "Store a message in the keystore, replacing its content",
		Long: `Store a message in the keystore, replacing its content. Without argument
the message is read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				if err := v.EncryptToVault(cmd.Context(), strings.Join(args, " ")); err != nil {
					return err
				}
			} else if err := copyToVault(cmd, v); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "data successfully stored")
			return nil
		},
	}
}

func copyToVault(cmd *cobra.Command, v *vault.PasswordVault) error {
	w, err := v.OutputStream(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, cmd.InOrStdin()); err != nil {
		w.Abort()
		return errors.Wrap(err, "cannot read standard input")
	}
	return w.Close()
}

func (a *app) decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt",
		Short: "Print the keystore content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault(cmd)
			if err != nil {
				return err
			}
			r, err := v.InputStream(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = io.Copy(cmd.OutOrStdout(), r)
			return err
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the keystores stored in the container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault(cmd)
			if err != nil {
				return err
			}
			names, err := v.Keystores(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Delete the keystore from the container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault(cmd)
			if err != nil {
				return err
			}
			if err := v.Remove(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keystore %s removed\n", v.KeystoreName())
			return nil
		},
	}
}

func (a *app) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the password of the whole container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault(cmd)
			if err != nil {
				return err
			}
			next, err := a.readPassword("New password: ")
			if err != nil {
				return err
			}
			again, err := a.readPassword("Repeat new password: ")
			if err != nil {
				return err
			}
			if next != again {
				return errors.New("passwords do not match")
			}
			if err := v.ChangePassword(cmd.Context(), next); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password changed")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// no config needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cryptovault v%s.%s.%s\n", major, minor, patch)
		},
	}
}
