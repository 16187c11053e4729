package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"promptctl/internal/app"
	"promptctl/internal/domain"
)

var (
	home       string
	serverURL  string
	storage    string
	passphrase string
	logLevel   string
	logFormat  string

	appCtx *app.Wire
)

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd, err := newRoot().ExecuteContextC(ctx)
	if err != nil {
		report(cmd, err)
	}
	return err
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "promptctl",
		Short:         "Answer prompts addressed to your Ed25519 keys",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := app.LoadConfig(home)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg)

			log, err := app.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			w, err := app.NewWire(cfg, log)
			if err != nil {
				return err
			}
			appCtx = w
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.promptctl)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "prompt service base URL")
	root.PersistentFlags().StringVar(&storage, "storage", "", "key storage backend: file or sqlite")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase sealing file storage")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json")

	root.AddCommand(keysCmd(), inboxCmd(), promptsCmd(), respondCmd(), askCmd(), versionCmd())
	return root
}

// applyFlags layers explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, cfg *app.Config) {
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.ServerURL = serverURL
	}
	if flags.Changed("storage") {
		cfg.Storage = storage
	}
	if flags.Changed("passphrase") {
		cfg.Passphrase = passphrase
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
}

// report prints err for the user. A redirect decision gets guidance on
// choosing a key.
func report(cmd *cobra.Command, err error) {
	var redirect *domain.RedirectError
	if errors.As(err, &redirect) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%v\nSelect a key with `promptctl keys use <hash>`, or create one with `promptctl keys generate`.\n", redirect)
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}
