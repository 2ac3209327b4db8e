package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ibero-data/licensor/internal/api"
	"github.com/ibero-data/licensor/internal/auth"
	"github.com/ibero-data/licensor/internal/config"
	"github.com/ibero-data/licensor/internal/licensing"
	"github.com/ibero-data/licensor/internal/logging"
	"github.com/ibero-data/licensor/internal/metrics"
	"github.com/ibero-data/licensor/internal/payment"
	"github.com/ibero-data/licensor/internal/settings"
	"github.com/ibero-data/licensor/internal/trials"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the licensor server",
	Long:  `Applies pending migrations and serves the license, trial and payment API.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	settingsSvc := settings.New(db)
	secretKey, err := settingsSvc.EnsureSecretKey(ctx, cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to load secret key: %w", err)
	}
	settingsSvc.SetMasterKey(secretKey)

	paypal, err := newPayPalClient(ctx, cfg, settingsSvc, logger)
	if err != nil {
		return err
	}
	if !paypal.IsConfigured() {
		logger.Warn().Msg("PayPal credentials are not configured, payment endpoints will fail")
	}

	limiter, err := api.NewRateLimiter(cfg.RateLimit, cfg.RedisURL)
	if err != nil {
		return err
	}

	licenses := licensing.NewStore(db, cfg.LicenseValidity.Duration, logger,
		licensing.WithExpiryEnforced(cfg.EnforceExpiry))

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		DB:       db,
		Licenses: licenses,
		Trials:   trials.NewStore(db, logger),
		Payments: paypal,
		Admins:   auth.NewStore(db),
		Auth:     auth.New(secretKey, cfg.SecureCookies),
		Settings: settingsSvc,
		Metrics:  metrics.New(db.Conn()),
		Limiter:  limiter,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("version", Version).
			Str("addr", cfg.ListenAddr).
			Str("database", string(db.Dialect())).
			Str("paypal_environment", paypal.Environment()).
			Msg("licensor starting")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newPayPalClient builds the payment client. Credentials from the config
// file or environment win over the ones stored by `licensor init`.
func newPayPalClient(ctx context.Context, cfg *config.Config, svc *settings.Service, logger zerolog.Logger) (*payment.Client, error) {
	clientID := cfg.PayPal.ClientID
	clientSecret := cfg.PayPal.ClientSecret
	environment := cfg.PayPal.Environment

	if clientID == "" || clientSecret == "" {
		var err error
		if clientID, err = svc.Get(ctx, settings.KeyPayPalClientID); err != nil {
			return nil, fmt.Errorf("failed to load PayPal client id: %w", err)
		}
		if clientSecret, err = svc.Get(ctx, settings.KeyPayPalClientSecret); err != nil {
			return nil, fmt.Errorf("failed to load PayPal client secret: %w", err)
		}
		environment = svc.GetWithDefault(ctx, settings.KeyPayPalEnvironment, environment)
	}

	return payment.NewClient(clientID, clientSecret,
		payment.WithEnvironment(environment),
		payment.WithLogger(logger),
	), nil
}
