package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"promptctl/internal/crypto"
	"promptctl/internal/domain"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage local keys",
	}
	cmd.AddCommand(
		keysGenerateCmd(),
		keysImportCmd(),
		keysListCmd(),
		keysShowCmd(),
		keysExportCmd(),
		keysRemoveCmd(),
		keysUseCmd(),
		keysSwitchCmd(),
	)
	return cmd
}

func keysGenerateCmd() *cobra.Command {
	var use bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := crypto.GenerateKeyRecord(time.Now())
			if err != nil {
				return err
			}
			return addKey(cmd, rec, use)
		},
	}
	cmd.Flags().BoolVar(&use, "use", false, "make the new key active")
	return cmd
}

// import: read a private key from a file or stdin.
func keysImportCmd() *cobra.Command {
	var (
		keyPass string
		use     bool
	)
	cmd := &cobra.Command{
		Use:   "import [file|-]",
		Short: "Import an OpenSSH, PKCS#8 PEM or base64 private key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				text []byte
				err  error
			)
			if len(args) == 0 || args[0] == "-" {
				text, err = io.ReadAll(cmd.InOrStdin())
			} else {
				text, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}

			var pass []byte
			if keyPass != "" {
				pass = []byte(keyPass)
			}
			rec, err := crypto.ImportKey(string(text), pass, time.Now())
			if errors.Is(err, crypto.ErrPassphraseRequired) {
				return fmt.Errorf("%w: use --key-passphrase", err)
			}
			if err != nil {
				return err
			}
			return addKey(cmd, rec, use)
		},
	}
	cmd.Flags().StringVar(&keyPass, "key-passphrase", "", "passphrase of an encrypted OpenSSH key")
	cmd.Flags().BoolVar(&use, "use", false, "make the imported key active")
	return cmd
}

func addKey(cmd *cobra.Command, rec domain.KeyRecord, use bool) error {
	ctx := cmd.Context()
	if err := appCtx.Keys.Add(ctx, rec); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Key added: %s\nFingerprint: %s\n", rec.PublicKeyHash, crypto.Fingerprint(rec.PublicKey))
	if use {
		if _, err := appCtx.Bootstrap.Select(ctx, rec.PublicKeyHash); err != nil {
			return err
		}
		fmt.Fprintln(out, "Active key set.")
	}
	return nil
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, _ := appCtx.Keys.Load(cmd.Context())
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No keys. Create one with `promptctl keys generate`.")
				return nil
			}
			active := activeHash()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tHASH\tFINGERPRINT\tCREATED\tSOURCE")
			for _, rec := range keys {
				mark := ""
				if rec.PublicKeyHash == active {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					mark, rec.PublicKeyHash.Short(), crypto.Fingerprint(rec.PublicKey), created(rec), source(rec))
			}
			return tw.Flush()
		},
	}
}

func keysShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <hash>",
		Short: "Print a key's public details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := findKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Hash:        %s\n", rec.PublicKeyHash)
			fmt.Fprintf(out, "Public key:  %s\n", rec.PublicKey)
			fmt.Fprintf(out, "Fingerprint: %s\n", crypto.Fingerprint(rec.PublicKey))
			if line, err := crypto.AuthorizedKey(rec); err == nil {
				fmt.Fprintf(out, "OpenSSH:     %s\n", line)
			}
			fmt.Fprintf(out, "Created:     %s\n", created(rec))
			fmt.Fprintf(out, "Source:      %s\n", source(rec))
			fmt.Fprintf(out, "Active:      %t\n", rec.PublicKeyHash == activeHash())
			return nil
		},
	}
}

func keysExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <hash>",
		Short: "Write a key as an unencrypted OpenSSH private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := findKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			pem, err := crypto.ExportOpenSSH(rec, "promptctl "+rec.PublicKeyHash.Short())
			if err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(pem)
				return err
			}
			if err := os.WriteFile(outPath, pem, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}

func keysRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <hash>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rec, err := findKey(ctx, args[0])
			if err != nil {
				return err
			}
			if err := appCtx.Keys.Remove(ctx, rec.PublicKeyHash); err != nil {
				return err
			}
			if rec.PublicKeyHash == activeHash() {
				if err := appCtx.Bootstrap.SignOut(nil); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key removed: %s\n", rec.PublicKeyHash)
			return nil
		},
	}
}

func keysUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <hash>",
		Short: "Make a key the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rec, err := findKey(ctx, args[0])
			if err != nil {
				return err
			}
			if !rec.HasPrivateKey() {
				return fmt.Errorf("key %s: %w", rec.PublicKeyHash.Short(), domain.ErrNoPrivateKey)
			}
			if _, err := appCtx.Bootstrap.Select(ctx, rec.PublicKeyHash); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active key: %s\n", rec.PublicKeyHash)
			return nil
		},
	}
}

func keysSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch",
		Short: "Clear the active key so another can be chosen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Bootstrap.SignOut(nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Active key cleared. Choose one with `promptctl keys use <hash>`.")
			return nil
		},
	}
}

// findKey resolves a full hash or a unique hash prefix.
func findKey(ctx context.Context, arg string) (domain.KeyRecord, error) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	keys, _ := appCtx.Keys.Load(ctx)
	if rec, ok := keys.Find(domain.KeyHash(arg)); ok {
		return rec, nil
	}

	var match []domain.KeyRecord
	for _, rec := range keys {
		if arg != "" && strings.HasPrefix(string(rec.PublicKeyHash), arg) {
			match = append(match, rec)
		}
	}
	switch len(match) {
	case 0:
		return domain.KeyRecord{}, fmt.Errorf("%s: %w", arg, domain.ErrKeyNotFound)
	case 1:
		return match[0], nil
	}
	return domain.KeyRecord{}, fmt.Errorf("prefix %q matches %d keys", arg, len(match))
}

// activeHash returns the hash named by the publicKey cookie, or "".
func activeHash() domain.KeyHash {
	pub, ok, err := appCtx.Cookies.GetCookie(domain.CookiePublicKey)
	if err != nil || !ok || pub == "" {
		return ""
	}
	return crypto.HashPublicKey(pub)
}

func created(rec domain.KeyRecord) string {
	if rec.Timestamp <= 0 {
		return "-"
	}
	return time.UnixMilli(rec.Timestamp).Format(time.DateTime)
}

func source(rec domain.KeyRecord) string {
	if rec.Source == domain.KeySourceCookie {
		return "cookie"
	}
	return "local"
}
