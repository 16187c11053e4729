package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"promptctl/internal/crypto"
	"promptctl/internal/domain"
)

// ask: the asker side. Blocks until the key holder answers.
func askCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ask <publicKey|hash> <message>...",
		Short: "Ask the holder of a key a question and wait for the answer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := recipient(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Waiting for %s to answer...\n", crypto.HashPublicKey(pub).Short())
			resp, err := appCtx.API.CreatePrompt(ctx, pub, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")
	return cmd
}

// recipient accepts a base64 public key, or the hash of a locally known key.
func recipient(ctx context.Context, arg string) (string, error) {
	if _, err := crypto.DecodePublicKey(arg); err == nil {
		return arg, nil
	}
	rec, err := findKey(ctx, arg)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return "", &domain.ValidationError{Field: "publicKey", Reason: "neither a base64 Ed25519 public key nor a known hash"}
	}
	if err != nil {
		return "", err
	}
	return rec.PublicKey, nil
}
