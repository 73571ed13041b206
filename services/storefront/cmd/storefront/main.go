package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"paperwise/internal/util"
	"paperwise/pkg/mail"
	"paperwise/pkg/storage"
	"paperwise/services/storefront/internal/app"
	"paperwise/services/storefront/internal/config"
	"paperwise/services/storefront/internal/server"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	downloadExpiry, err := config.ParseDownloadExpiry(cfg.DownloadExpiry)
	if err != nil {
		log.Fatalf("failed to parse download expiry: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCore, err := app.New(ctx, app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		DatabaseMaxOpen:     cfg.DatabaseMaxOpen,
		DatabaseIPv4:        cfg.DatabaseIPv4,
		RedisAddr:           cfg.RedisAddr,
		RedisPassword:       cfg.RedisPassword,
		JWTSecret:           cfg.JWTSecret,
		JWTIssuer:           cfg.JWTIssuer,
		JWTAudience:         cfg.JWTAudience,
		SessionTTL:          sessionTTL,
		BootstrapAdminEmail: cfg.BootstrapAdminEmail,
		PublicURL:           cfg.PublicURL,
		Currency:            cfg.Currency,
		StripeSecretKey:     cfg.StripeSecretKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		MailerSendAPIKey:    cfg.MailerSendAPIKey,
		MailerLiteAPIKey:    cfg.MailerLiteAPIKey,
		MailerLiteGroupID:   cfg.MailerLiteGroupID,
		MailFrom:            mail.Address{Email: cfg.MailFromAddress, Name: cfg.MailFromName},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		},
		DownloadExpiry: downloadExpiry,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Error("shutdown cleanup failed", "err", err)
		}
	}()

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		AllowedOrigins:             cfg.AllowedOrigins,
		TrustedProxyCIDRs:          cfg.TrustedProxyCIDRs,
		CronSecret:                 cfg.CronSecret,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		SignupRateLimitPerMinute:   cfg.SignupRateLimitPerMinute,
		CheckoutRateLimitPerMinute: cfg.CheckoutRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
