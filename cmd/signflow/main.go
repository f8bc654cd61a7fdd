package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"signflow/internal/app"
	"signflow/internal/config"
	"signflow/internal/notify"
	"signflow/internal/otp"
	"signflow/internal/pdf"
	"signflow/internal/ratelimit"
	"signflow/internal/server"
	"signflow/internal/storage"
	"signflow/internal/store"
	"signflow/internal/token"
	"signflow/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	magicTTL, err := config.ParseTTL("magicLinkTTL", cfg.MagicLinkTTL)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	sessionTTL, err := config.ParseTTL("sessionTTL", cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	otpTTL, err := config.ParseTTL("otpTTL", cfg.OTPTTL)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	otpResendAfter, err := config.ParseTTL("otpResendAfter", cfg.OTPResendAfter)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	downloadTTL, err := config.ParseTTL("downloadLinkTTL", cfg.DownloadLinkTTL)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}
	tokens, err := token.NewService(cfg.TokenSecret, token.Options{
		Issuer:     cfg.TokenIssuer,
		MagicTTL:   magicTTL,
		SessionTTL: sessionTTL,
	})
	if err != nil {
		log.Fatalf("failed to init token service: %v", err)
	}
	cooldown := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	challenge := otp.New(db, otp.Options{
		TTL:         otpTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		ResendAfter: otpResendAfter,
		Cooldown:    cooldown,
	})
	notifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPQueue)
	if err != nil {
		log.Fatalf("failed to init notifier: %v", err)
	}
	defer notifier.Close()

	appCore, err := app.New(app.Config{
		Store:       db,
		Objects:     objects,
		Tokens:      tokens,
		OTP:         challenge,
		Burner:      pdf.NewStampBurner(),
		Notifier:    notifier,
		SignBaseURL: cfg.SignBaseURL,
		DownloadTTL: downloadTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		Tokens:         tokens,
		Limits:         buildLimiters(cfg),
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
	})

	handler := util.WithRequestLog("signflow",
		util.WithSecurityHeaders(
			util.WithCORS(httpServer.Router())))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("signflow server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildLimiters(cfg config.FileConfig) server.Limiters {
	limits := server.Limiters{}
	limits.Upload = newLimiter(cfg, "upload", cfg.UploadRateLimitPerMin)
	limits.Sign = newLimiter(cfg, "sign", cfg.OTPRateLimitPerMin)
	limits.Verify = newLimiter(cfg, "verify", cfg.VerifyRateLimitPerMin)
	limits.General = newLimiter(cfg, "general", cfg.GeneralRateLimitPerMin)
	return limits
}

func newLimiter(cfg config.FileConfig, name string, perMinute int) *ratelimit.FixedWindowLimiter {
	if perMinute <= 0 {
		return nil
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(
		cfg.RedisAddr, cfg.RedisPassword, "signflow:ratelimit:"+name, perMinute, time.Minute)
	if err != nil {
		log.Fatalf("failed to init %s rate limiter: %v", name, err)
	}
	return limiter
}
