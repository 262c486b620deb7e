package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/olympiad-registration-bot/internal/catalog"
	"github.com/noah-isme/olympiad-registration-bot/internal/handler"
	"github.com/noah-isme/olympiad-registration-bot/internal/middleware"
	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	"github.com/noah-isme/olympiad-registration-bot/internal/repository"
	"github.com/noah-isme/olympiad-registration-bot/internal/service"
	"github.com/noah-isme/olympiad-registration-bot/internal/telegram"
	"github.com/noah-isme/olympiad-registration-bot/pkg/cache"
	"github.com/noah-isme/olympiad-registration-bot/pkg/config"
	"github.com/noah-isme/olympiad-registration-bot/pkg/database"
	"github.com/noah-isme/olympiad-registration-bot/pkg/logger"
	"github.com/noah-isme/olympiad-registration-bot/pkg/storage"
	"github.com/noah-isme/olympiad-registration-bot/pkg/telemetry"
)

const sweepInterval = 10 * time.Minute

type registrationStore interface {
	Create(ctx context.Context, in models.NewRegistration) (*models.Registration, error)
	SetChargeReference(ctx context.Context, id int64, value string) error
	MarkPaid(ctx context.Context, id int64, proofRef string) error
	GetByID(ctx context.Context, id int64) (*models.Registration, error)
	GetByChargeReference(ctx context.Context, value string) (*models.Registration, error)
	GetByAttempt(ctx context.Context, attemptID string) (*models.Registration, error)
	ListByAccount(ctx context.Context, accountRef int64) ([]models.Registration, error)
	ListAll(ctx context.Context) ([]models.Registration, error)
	CountByAccount(ctx context.Context, accountRef int64) (int, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	Get(ctx context.Context, key models.SessionKey) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, key models.SessionKey) error
}

type throttleStore interface {
	Allow(ctx context.Context, accountID int64, interval time.Duration) (bool, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync(logr) //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("bot stopped with error", zap.Error(err))
	}
	logr.Info("bot stopped")
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logr.Warn("unknown timezone, using UTC", zap.String("timezone", cfg.Timezone), zap.Error(err))
		location = time.UTC
	}

	store, closeStore, err := openStore(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	cat, err := catalog.New(models.FallbackLanguage)
	if err != nil {
		return fmt.Errorf("load text catalog: %w", err)
	}

	metrics := service.NewMetricsService()
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Stats.CacheTTL, logr, redisClient != nil)

	validator := service.NewFieldValidator(nil, cfg.Olympiad.MinGrade, cfg.Olympiad.MaxGrade)
	registrations := service.NewRegistrationService(store, validator, cacheSvc, metrics, logr)
	stats := service.NewStatsService(store, cacheSvc, cfg.Stats.CacheTTL, cfg.Payment.Price, location, logr)

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return err
	}
	exports := service.NewExportService(store, exportStore,
		storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL),
		service.ExportConfig{PublicBaseURL: cfg.Exports.PublicBaseURL, ResultTTL: cfg.Exports.SignedURLTTL, Location: location},
		logr)

	sessions, memorySessions := newSessionStore(cfg, redisClient)
	throttle, memoryThrottle := newThrottleStore(cfg, redisClient)

	defaultLanguage, ok := models.ParseLanguage(cfg.Olympiad.DefaultLanguage)
	if !ok {
		defaultLanguage = models.FallbackLanguage
	}
	conversation := service.NewConversationService(sessions, registrations, validator, cat, service.ConversationConfig{
		MerchantID:      cfg.Payment.MerchantID,
		Price:           cfg.Payment.Price,
		CheckoutOrigin:  cfg.Payment.CheckoutURL,
		DefaultLanguage: defaultLanguage,
	}, metrics, logr)

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("connect to telegram: %w", err)
	}
	bot.Debug = cfg.Bot.Debug
	logr.Info("authorized on telegram", zap.String("username", bot.Self.UserName))

	client := telegram.NewClient(bot, cat, nil, metrics, logr)

	var archiver *service.ProofArchiveService
	if cfg.Proofs.ArchiveEnabled {
		proofStore, err := storage.NewLocalStorage(cfg.Proofs.StorageDir)
		if err != nil {
			return err
		}
		archiver = service.NewProofArchiveService(client, proofStore, service.ProofArchiveConfig{
			MaxDimension: cfg.Proofs.MaxDimension,
			Workers:      cfg.Proofs.Workers,
			Retries:      cfg.Proofs.Retries,
		}, logr)
		registrations.SetProofArchiver(archiver)
	}

	admin := handler.NewAdminCommands(cfg.Bot.AdminIDs, exports, stats, registrations, cat, location, logr)
	router := handler.NewBotRouter(conversation, admin, client, metrics, logr,
		handler.BotRouterConfig{Workers: cfg.Bot.DispatchWorkers},
		middleware.UpdateLogging(logr),
		middleware.Throttle(throttle, cfg.Throttle.Interval, metrics, logr),
	)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler.NewAdminRouter(logr, metrics, handler.NewMetricsHandler(metrics, store), handler.NewExportHandler(exports)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	router.Start(gctx)
	defer router.Stop()
	if archiver != nil {
		archiver.Start(gctx)
		defer archiver.Stop()
	}

	g.Go(func() error {
		return telegram.NewPoller(bot, cfg.Bot.PollTimeout, logr).Run(gctx, router.Dispatch)
	})

	g.Go(func() error {
		logr.Info("admin http server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		every(gctx, cfg.Exports.CleanupInterval, func() {
			removed, err := exports.Cleanup(0)
			if err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
				return
			}
			if len(removed) > 0 {
				logr.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		})
		return nil
	})

	g.Go(func() error {
		every(gctx, sweepInterval, func() {
			if memorySessions != nil {
				if n := memorySessions.Sweep(); n > 0 {
					logr.Info("stale sessions removed", zap.Int("count", n))
				}
			}
			if memoryThrottle != nil {
				memoryThrottle.Prune(sweepInterval)
			}
		})
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (registrationStore, func(), error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if db == nil {
		logr.Warn("using in-memory registration store; data is lost on restart")
		return repository.NewMemoryRegistrationRepository(), func() {}, nil
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logr.Info("registration store ready", zap.String("driver", cfg.Database.Driver))
	return repository.NewRegistrationRepository(db), func() { _ = db.Close() }, nil
}

func newSessionStore(cfg *config.Config, client *redis.Client) (sessionStore, *repository.MemorySessionRepository) {
	if cfg.Session.Backend == config.BackendRedis && client != nil {
		return repository.NewRedisSessionRepository(client, cfg.Session.TTL), nil
	}
	mem := repository.NewMemorySessionRepository(cfg.Session.TTL)
	return mem, mem
}

func newThrottleStore(cfg *config.Config, client *redis.Client) (throttleStore, *repository.MemoryThrottleRepository) {
	if cfg.Throttle.Backend == config.BackendRedis && client != nil {
		return repository.NewRedisThrottleRepository(client), nil
	}
	mem := repository.NewMemoryThrottleRepository()
	return mem, mem
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
