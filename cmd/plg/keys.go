package main

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cheetahbyte/plg/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate signing keys and admin key hashes",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an Ed25519 keypair for offline license tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate keypair: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "LICENSE_JWT_PRIVATE_KEY=%s\n", base64.StdEncoding.EncodeToString(priv))
		fmt.Fprintf(out, "LICENSE_JWT_PUBLIC_KEY=%s\n", base64.StdEncoding.EncodeToString(pub))
		return nil
	},
}

var keysHashAdminCmd = &cobra.Command{
	Use:   "hash-admin [key]",
	Short: "Hash an admin API key for ADMIN_API_KEY_HASH",
	Long: `Hashes an admin API key with argon2id. The key is read from the argument,
or prompted for when stdin is a terminal, or read from stdin otherwise.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			var err error
			if key, err = readSecret(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
				return err
			}
		}
		key = strings.TrimSpace(key)
		if len(key) < 16 {
			return errors.New("admin key must be at least 16 characters")
		}
		hash, err := auth.HashAdminKey(key)
		if err != nil {
			return fmt.Errorf("hash admin key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ADMIN_API_KEY_HASH=%s\n", hash)
		return nil
	},
}

var readPassword = term.ReadPassword

func readSecret(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Admin key: ")
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read admin key: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read admin key: %w", err)
	}
	return line, nil
}

func init() {
	keysCmd.AddCommand(keysGenerateCmd, keysHashAdminCmd)
}
