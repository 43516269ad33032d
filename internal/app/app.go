package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/cleanup"
	"github.com/betzim/mediameter/internal/config"
	"github.com/betzim/mediameter/internal/db"
	"github.com/betzim/mediameter/internal/http/api/admin"
	"github.com/betzim/mediameter/internal/media"
	"github.com/betzim/mediameter/internal/notify"
	"github.com/betzim/mediameter/internal/quota"
	"github.com/betzim/mediameter/internal/ratelimit"
	"github.com/betzim/mediameter/internal/retry"
	"github.com/betzim/mediameter/internal/transform"
	"github.com/betzim/mediameter/internal/webhook"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.Config) error {
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// openDatabase falls back to the bundled SQLite file when no DSN is configured.
func openDatabase(cfg config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		dsn = db.BuildSQLiteDSN("")
		if errMkdir := os.MkdirAll("./data", 0o755); errMkdir != nil {
			return nil, fmt.Errorf("create data dir: %w", errMkdir)
		}
	}
	return db.Open(dsn)
}

// Services bundles the collaborators the HTTP routes are built from.
type Services struct {
	Pool       *db.Pool
	Ledger     *quota.Ledger
	Dispatcher *webhook.Dispatcher
	Limiter    *ratelimit.Manager
	Sweeper    *cleanup.Sweeper
}

// Build wires storage, quota, media and notification components from cfg.
func Build(cfg config.Config) (*Services, error) {
	conn, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	pool, err := db.NewPool(conn, db.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AcquireTimeout:  cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return nil, err
	}

	ledger := quota.NewLedger(pool, quota.Options{
		ResetPeriod:          cfg.Quota.ResetPeriod,
		DefaultAudioMinutes:  cfg.Quota.DefaultAudioMinutes,
		DefaultDocumentUnits: cfg.Quota.DefaultDocumentUnits,
	})

	gateway := notify.NewWhapiGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout, nil)
	sender := notify.NewSender(gateway, retry.Policy{
		MaxAttempts: cfg.Gateway.Retry.MaxAttempts,
		BaseDelay:   cfg.Gateway.Retry.BaseDelay,
		MaxDelay:    cfg.Gateway.Retry.MaxDelay,
		Jitter:      cfg.Gateway.Retry.Jitter,
	})

	openaiClient := transform.NewClient(transform.Options{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Timeout: cfg.OpenAI.Timeout,
	})
	transcriber := transform.NewTranscriber(openaiClient, cfg.OpenAI.TranscriptionModel)
	summarizer := transform.NewSummarizer(openaiClient, cfg.OpenAI.SummaryModel, cfg.OpenAI.SummaryLanguage)

	store, err := media.NewTempStore(cfg.Media.TempDir)
	if err != nil {
		pool.Close()
		return nil, err
	}
	pipeline := media.NewPipeline(
		store,
		media.NewFetcher(nil, cfg.Media.MaxFileBytes),
		transcriber,
		summarizer,
		transform.NewExtractor(),
		ledger,
		sender,
		media.Options{
			MinAudioBytes:       cfg.Media.MinAudioBytes,
			MinDocumentChars:    cfg.Media.MinDocumentChars,
			LowBalanceThreshold: cfg.Media.LowBalanceThreshold,
		},
	)

	limiter := ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsFromConfig(cfg.RateLimit)), nil, nil)
	dispatcher := webhook.NewDispatcher(ledger, pipeline, sender, limiter, webhook.Options{
		BotNumber:           cfg.Gateway.BotNumber,
		LowBalanceThreshold: cfg.Media.LowBalanceThreshold,
	})

	return &Services{
		Pool:       pool,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Limiter:    limiter,
		Sweeper:    cleanup.NewSweeper(store.Dir(), cfg.Cleanup.Schedule, cfg.Cleanup.MaxAge),
	}, nil
}

// Close releases the pool and the rate limiter backend.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if errClose := s.Limiter.Close(); errClose != nil {
		log.WithError(errClose).Warn("rate limit backend close failed")
	}
	s.Pool.Close()
}

// NewRouter mounts the webhook, admin and health routes.
func NewRouter(cfg config.Config, svc *Services) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	svc.Dispatcher.RegisterRoutes(engine)
	admin.RegisterAdminRoutes(engine, svc.Ledger, svc.Pool, cfg.JWT)
	return engine
}

// RunServer boots the webhook server and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	if cfg.Gateway.APIKey == "" {
		log.Warn("gateway api key is empty, replies will fail")
	}
	if cfg.OpenAI.APIKey == "" {
		log.Warn("openai api key is empty, media jobs will fail")
	}
	log.WithField("database", DescribeDSN(cfg.Database.DSN)).Info("opening database")

	svc, err := Build(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if errStart := svc.Sweeper.Start(ctx); errStart != nil {
		return errStart
	}
	defer svc.Sweeper.Stop()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errServe := make(chan error, 1)
	go func() {
		log.Infof("starting server on %s", addr)
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	select {
	case errListen, ok := <-errServe:
		if ok && errListen != nil {
			return fmt.Errorf("listen on %s: %w", addr, errListen)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("shutting down server")
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("server shutdown: %w", errShutdown)
	}
	return nil
}

// requestLogger logs one line per request at debug level, warn for 5xx.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
