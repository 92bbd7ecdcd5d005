// mdl-issuing-server is an issuing authority server for mobile driving
// licences per ISO/IEC 18013-5. It serves the Identity Credential
// provisioning protocol on /mdlServer and an admin plane under /admin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/internal/config"
	"github.com/openwallet-foundation-labs/identity-credential/internal/flows"
	"github.com/openwallet-foundation-labs/identity-credential/internal/server"
	"github.com/openwallet-foundation-labs/identity-credential/internal/session"
	"github.com/openwallet-foundation-labs/identity-credential/internal/storage"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/pki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCommand(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mdl-issuing-server",
		Short:         "ISO 18013-5 mDL issuing server",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	cmd.Flags().StringVar(&cfg.Database, "database", cfg.Database, "path of the SQLite catalog")
	cmd.Flags().BoolVar(&cfg.ResetWithTestdata, "reset-with-testdata", cfg.ResetWithTestdata,
		"drop the database and re-seed the demo subjects")
	cmd.Flags().StringVar(&cfg.IssuerKey, "issuer-key", cfg.IssuerKey,
		"path of the PEM issuer signing key (empty: ephemeral)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.ResetWithTestdata {
		if err := os.Remove(cfg.Database); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	store, err := storage.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.ResetWithTestdata {
		if err := store.SeedTestData(ctx); err != nil {
			return err
		}
		log.Info("seeded test data", zap.String("database", cfg.Database))
	}

	issuerKey, err := server.LoadOrGenerateIssuerKey(cfg.IssuerKey)
	if err != nil {
		return err
	}
	issuerCert, err := pki.IssuerCertificate(issuerKey)
	if err != nil {
		return err
	}

	sessions := session.NewRegistry(session.DefaultTTL, log)
	defer sessions.Stop()

	deps := flows.Deps{
		Store:      store,
		IssuerKey:  issuerKey,
		IssuerCert: issuerCert,
		Log:        log,
	}
	return server.New(store, sessions, deps, log).Run(cfg.Port)
}
