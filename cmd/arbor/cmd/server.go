package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jmcleod/arbor/api"
	"github.com/jmcleod/arbor/files"
	"github.com/jmcleod/arbor/internal/config"
	"github.com/jmcleod/arbor/internal/logging"
	"github.com/jmcleod/arbor/internal/util"
	"github.com/jmcleod/arbor/secret"
	"github.com/jmcleod/arbor/session"
	"github.com/jmcleod/arbor/users"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the credential and attachment server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		logger, err := logging.New(os.Stderr, cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		handler, cleanup, err := buildHandler(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		tlsConfig, err := loadTLSConfig(cfg)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       5 * time.Minute,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info("server started",
			slog.Int("port", cfg.Port),
			slog.String("data_dir", cfg.DataDir),
			slog.String("storage", cfg.Storage),
		)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// buildHandler wires storage, keys and the API into the root router.
func buildHandler(ctx context.Context, cfg config.Config, logger *slog.Logger) (http.Handler, func(), error) {
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	fail := func(err error) (http.Handler, func(), error) {
		closeRepo()
		return nil, nil, err
	}

	userStore, err := users.NewStore(repo)
	if err != nil {
		return fail(fmt.Errorf("failed to open user store: %w", err))
	}
	cipher, err := secret.New([]byte(cfg.EncryptionSecret))
	if err != nil {
		return fail(fmt.Errorf("failed to load encryption secret: %w", err))
	}
	sessions, err := session.New([]byte(cfg.SessionSecret), session.WithTTL(cfg.SessionTTL))
	if err != nil {
		return fail(fmt.Errorf("failed to load session secret: %w", err))
	}
	fileStore, err := files.NewStore(cfg.DataDir)
	if err != nil {
		return fail(fmt.Errorf("failed to open attachment store: %w", err))
	}
	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fail(fmt.Errorf("invalid trusted proxy: %w", err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cookies := session.NewCookies(sessions, session.CookieOptions{Secure: !cfg.InsecureCookies})
	a := api.New(userStore, cipher, cookies, fileStore,
		api.WithLogger(logger),
		api.WithCollector(api.NewCollector(reg)),
		api.WithTrustedProxies(proxies),
		api.WithSecureCookies(!cfg.InsecureCookies),
		api.WithMaxUploadSize(cfg.MaxUploadBytes),
		api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookAuth),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if p, ok := repo.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(r.Context()); err != nil {
				logger.Error("health check failed", slog.Any("error", err))
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", api.MetricsHandler(reg))
	r.Mount("/api/v1", a.Router())

	return r, func() {
		a.Close()
		closeRepo()
	}, nil
}

func loadTLSConfig(cfg config.Config) (*tls.Config, error) {
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	}
	cert, err := util.GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	slog.Warn("using self-signed runtime generated certificate for TLS")
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntP(config.KeyPort, "p", config.DefaultPort, "Port to listen on")
	serverCmd.Flags().String(config.KeySessionSecret, "", "Session signing secret (at least 32 bytes)")
	serverCmd.Flags().String(config.KeyEncryptionSecret, "", "Secret field encryption secret (at least 32 bytes)")
	serverCmd.Flags().String(config.KeyTLSCert, "", "Path to TLS certificate file")
	serverCmd.Flags().String(config.KeyTLSKey, "", "Path to TLS key file")
	serverCmd.Flags().Bool(config.KeyInsecureCookies, false, "Omit the Secure attribute on cookies (local development only)")
	serverCmd.Flags().Duration(config.KeySessionTTL, session.DefaultTTL, "Session lifetime")
	serverCmd.Flags().Int64(config.KeyMaxUploadBytes, config.DefaultMaxUploadBytes, "Largest accepted attachment in bytes")
	serverCmd.Flags().StringSlice(config.KeyTrustedProxies, nil, "CIDRs of reverse proxies whose forwarding headers are trusted")
	serverCmd.Flags().String(config.KeyAuditWebhookURL, "", "Forward audit events as JSON to this URL")
	serverCmd.Flags().String(config.KeyAuditWebhookAuth, "", `Header sent with audit webhook requests, as "Name: value"`)
	v.BindPFlags(serverCmd.Flags())
}
