package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Veraticus/bankcleanr/internal/certs"
	"github.com/Veraticus/bankcleanr/internal/cli"
	"github.com/Veraticus/bankcleanr/internal/mockserver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func mockServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run an in-memory job service for local testing",
		Long: `Run a fake job service that accepts uploads, classifies them against its
rule set and serves signed download links. Point the client at it with
--server http://localhost:8000.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Mock.SigningSecret == "" {
				slog.Warn("mock.signing_secret is empty; signed links are forgeable")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := mockserver.New(mockserver.Options{
				SigningSecret:   cfg.Mock.SigningSecret,
				LinkTTL:         cfg.Mock.LinkTTL,
				ProcessingPolls: cfg.Mock.ProcessingPolls,
			})

			if cfg.Mock.TLSDir == "" {
				err = srv.ListenAndServe(ctx, cfg.Mock.Addr)
			} else {
				store := certs.NewStore(cfg.Mock.TLSDir)
				cert, certErr := store.Load()
				if certErr != nil {
					return fmt.Errorf("failed to load certificate: %w", certErr)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatInfo( //nolint:errcheck // User-facing output
					"Serving HTTPS. Trust it with: --server https://localhost"+cfg.Mock.Addr+" and server.ca_file="+store.CertFile()))
				err = srv.ListenAndServeTLS(ctx, cfg.Mock.Addr, cert)
			}
			if err != nil {
				return fmt.Errorf("mock server stopped: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default: :8000)")
	cmd.Flags().Int("processing-polls", 0, "Status polls before a job completes (default: 2)")
	cmd.Flags().String("tls-dir", "", "Serve HTTPS with a self-signed certificate kept in this directory")
	_ = viper.BindPFlag("mock.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("mock.processing_polls", cmd.Flags().Lookup("processing-polls"))
	_ = viper.BindPFlag("mock.tls_dir", cmd.Flags().Lookup("tls-dir"))

	return cmd
}
