package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"

	"ecowise/internal/admingate"
	"ecowise/internal/util"
	"ecowise/pkg/auth"
	"ecowise/pkg/session"
	"ecowise/pkg/storage"
	"ecowise/pkg/store"
	"ecowise/services/ecowise/internal/analysisclient"
	"ecowise/services/ecowise/internal/app"
	"ecowise/services/ecowise/internal/config"
	"ecowise/services/ecowise/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	analysisTimeout, err := config.ParseAnalysisTimeout(cfg.AnalysisTimeout)
	if err != nil {
		log.Fatalf("failed to parse analysis timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	for _, warning := range cfg.Warnings() {
		logger.Warn("insecure configuration", "detail", warning)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	objects, err := newObjectStore(cfg)
	if err != nil {
		log.Fatalf("failed to init upload storage: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	} else {
		logger.Warn("redisAddr not set; rate limiting and security alerts are disabled")
	}

	issuer, err := session.NewIssuer(cfg.JWTSecret, session.Options{TTL: sessionTTL})
	if err != nil {
		log.Fatalf("failed to init session issuer: %v", err)
	}

	hasher := auth.NewHasher(cfg.BcryptCost)
	logger.Info("credentials configured", "bcrypt_cost", hasher.Cost(), "session_ttl", issuer.TTL().String())

	appCore, err := app.New(app.Config{
		Store:             dataStore,
		Sessions:          issuer,
		Hasher:            hasher,
		Objects:           objects,
		Analysis:          analysisclient.NewClient(cfg.AnalysisURL, analysisTimeout),
		AllowedExtensions: cfg.AllowedExtensions,
		MaxUploadBytes:    cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	serverCfg := server.Config{
		App:                        appCore,
		Gate:                       admingate.New(admingate.Options{Secret: cfg.AdminSecret, AllowQuerySecret: cfg.AllowQuerySecret()}),
		TrustedProxies:             trusted,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		AdminRateLimitPerMinute:    cfg.AdminRateLimitPerMinute,
		DetectRateLimitPerMinute:   cfg.DetectRateLimitPerMinute,
	}
	if redisClient != nil {
		serverCfg.Redis = redisClient
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			// Backends close after in-flight requests drain.
			"ecowise": func(ctx context.Context) error {
				shutdownErr := srv.Shutdown(ctx)
				var closeErr error
				if redisClient != nil {
					closeErr = redisClient.Close()
				}
				return errors.Join(shutdownErr, closeErr, dataStore.Close())
			},
		},
	)
	exitCode := <-wait
	slog.Info("server stopped", "exit_code", exitCode)
	os.Exit(exitCode)
}

// newObjectStore keeps uploads in MinIO when configured, else on local disk.
func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint != "" {
		return storage.NewMinioStore(context.Background(), storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return storage.NewFileStore(cfg.UploadDir)
}
