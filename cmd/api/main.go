package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/config"
	delivery "github.com/FilipeAphrody/sentinel-session/internal/delivery/http"
	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/internal/logger"
	"github.com/FilipeAphrody/sentinel-session/internal/metrics"
	"github.com/FilipeAphrody/sentinel-session/internal/notification"
	"github.com/FilipeAphrody/sentinel-session/internal/oauth"
	"github.com/FilipeAphrody/sentinel-session/internal/repository"
	"github.com/FilipeAphrody/sentinel-session/internal/usecase"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"

	_ "github.com/lib/pq" // Postgres driver
)

const redisConnectAttempts = 5

// closer releases one resource during shutdown.
type closer struct {
	name  string
	close func(ctx context.Context) error
}

func main() {
	// 1. Load Configuration from Environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []closer

	// 2. Initialize Infrastructure (Session store)
	rdb := repository.NewRedisClient(cfg.Redis)
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = repository.Connect(connectCtx, rdb, redisConnectAttempts)
	cancel()
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
	}
	closers = append(closers, closer{"redis", func(context.Context) error { return rdb.Close() }})

	// 3. Initialize Repositories
	users, userStoreCloser, err := openUserStore(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open user store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	if userStoreCloser != nil {
		closers = append(closers, *userStoreCloser)
	}

	sessions := repository.NewRedisSessionStore(rdb, logger.WithComponent(log, "session_store"))
	attempts := repository.NewRedisAttemptRepo(rdb, repository.LockoutPolicy{
		MaxAttempts: cfg.Lockout.MaxFailedAttempts,
		Window:      cfg.Lockout.Window,
	}, logger.WithComponent(log, "attempt_tracker"))

	var notifier domain.Notifier
	if cfg.NotificationsEnabled() {
		kafkaNotifier := notification.NewKafkaNotifier(cfg.Notification.KafkaBrokers, cfg.Notification.KafkaTopic, logger.WithComponent(log, "notifier"))
		closers = append(closers, closer{"kafka", func(context.Context) error { return kafkaNotifier.Close() }})
		notifier = kafkaNotifier
	} else {
		notifier = notification.NewNoopNotifier(logger.WithComponent(log, "notifier"))
	}

	sealer, err := security.NewSealer(cfg.MFA.SealingKey)
	if err != nil {
		log.Fatal("Failed to initialize sealer", zap.Error(err))
	}

	var engineMetrics *metrics.Metrics
	var metricsHandler http.Handler
	if cfg.App.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		engineMetrics = metrics.New(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// 4. Initialize Business Logic (Usecases)
	authUsecase := usecase.NewAuthUsecase(usecase.Dependencies{
		Users:    users,
		Sessions: sessions,
		Attempts: attempts,
		Hasher:   security.NewArgon2Hasher(),
		Notifier: notifier,
		TOTP:     security.NewTOTP(cfg.MFA.Issuer),
		Sealer:   sealer,
		Registry: cfg.Session.Registry(),
		Logger:   log,
		Metrics:  engineMetrics,
	}, usecase.Options{
		OTPLength:     cfg.Session.OTPLength,
		VerifyPageURL: cfg.Frontend.VerifyPageURL,
		ResetPageURL:  cfg.Frontend.ResetPageURL,
	})

	// 5. Register Delivery Handlers (Routes)
	var social *delivery.SocialLogin
	if cfg.OAuth.GoogleEnabled() {
		social = &delivery.SocialLogin{
			Provider: oauth.NewGoogleProvider(cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret, cfg.OAuth.GoogleRedirectURL),
			States:   repository.NewRedisStateRepo(rdb),
		}
	}
	e := delivery.NewServer(authUsecase, social, delivery.ServerConfig{
		Handlers: delivery.HandlerConfig{
			JWTSecret:      cfg.JWT.Secret,
			AccessTokenTTL: cfg.JWT.AccessTokenTTL,
			Cookies:        delivery.CookieJar{Secure: cfg.IsProduction(), Domain: cfg.Cookie.Domain},
		},
		AllowOrigins:      cfg.App.AllowOrigins,
		ExposeErrorDetail: !cfg.IsProduction(),
		PostLoginURL:      cfg.OAuth.PostLoginRedirect,
		Version:           cfg.App.Version,
		MetricsHandler:    metricsHandler,
	}, logger.WithComponent(log, "http"))

	// 6. Session expiry audit
	if cfg.Redis.ExpiryEvents {
		listener := repository.NewExpiryListener(rdb, cfg.Redis.DB, logger.WithComponent(log, "expiry_listener"))
		go func() {
			if err := listener.Run(ctx, authUsecase.HandleExpiredKey); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Expiry listener stopped", zap.Error(err))
			}
		}()
	}

	// 7. Start Server with Graceful Shutdown
	go func() {
		log.Info("Starting Sentinel session server", zap.String("port", cfg.App.Port), zap.String("env", cfg.App.Env))
		if err := e.Start(":" + cfg.App.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Shutting down the server due to error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].close(shutdownCtx); err != nil {
			log.Warn("Failed to close resource", zap.String("resource", closers[i].name), zap.Error(err))
		}
	}

	log.Info("Server exiting")
}

// openUserStore connects the configured user store.
func openUserStore(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (domain.UserRepository, *closer, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := repository.MigrateUp(db, cfg.MigrationsPath, log); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return repository.NewPostgresUserRepo(db), &closer{"postgres", func(context.Context) error { return db.Close() }}, nil

	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		repo := repository.NewMongoUserRepo(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, err
		}
		return repo, &closer{"mongo", client.Disconnect}, nil

	default:
		log.Warn("Using in-memory user store; accounts are lost on restart")
		return repository.NewMemoryUserRepo(), nil, nil
	}
}
