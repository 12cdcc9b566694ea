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
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wuwenbin0122/lumina/internal/api"
	"github.com/wuwenbin0122/lumina/internal/auth"
	"github.com/wuwenbin0122/lumina/internal/billing"
	"github.com/wuwenbin0122/lumina/internal/chat"
	"github.com/wuwenbin0122/lumina/internal/completion"
	"github.com/wuwenbin0122/lumina/internal/db"
	"github.com/wuwenbin0122/lumina/internal/store"
	"github.com/wuwenbin0122/lumina/internal/subscription"
	"github.com/wuwenbin0122/lumina/internal/utils"
)

func main() {
	for _, path := range []string{".env", "config/.env"} {
		if err := godotenv.Load(path); err == nil {
			log.Printf("config: loaded %s", path)
		}
	}

	root := &cobra.Command{
		Use:           "lumina",
		Short:         "Lumina chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newMigrateCommand())

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("lumina: %v", err)
	}
}

func newServeCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if port != "" {
				cfg.ServerPort = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger.Sugar())
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables, collections and indexes for the configured stores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			deps, err := openBackends(cmd.Context(), cfg, logger.Sugar())
			if err != nil {
				return err
			}
			defer deps.close()

			logger.Sugar().Infow("schema ready", "store_driver", cfg.StoreDriver)
			return nil
		},
	}
}

func bootstrap() (*utils.Config, *zap.Logger, error) {
	cfg, err := utils.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config: failed to load: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

// backends holds every connection the server opened so they can be closed together.
type backends struct {
	store         store.Store
	users         auth.UserRepository
	subscriptions subscription.Repository
	cache         subscription.Cache
	closers       []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *utils.Config, logger *zap.SugaredLogger) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		b.close()
		return nil, err
	}

	switch cfg.StoreDriver {
	case utils.StoreDriverPostgres:
		postgres, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return fail(fmt.Errorf("postgres: failed to connect: %w", err))
		}
		b.closers = append(b.closers, postgres.Close)
		if err := postgres.EnsureSchema(ctx); err != nil {
			return fail(fmt.Errorf("postgres: ensure schema: %w", err))
		}
		b.store = db.NewPostgresStore(postgres)
	case utils.StoreDriverMongo:
		mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return fail(fmt.Errorf("mongo: failed to connect: %w", err))
		}
		b.closers = append(b.closers, func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				logger.Warnf("mongo: close error: %v", err)
			}
		})
		if err := mongoStore.EnsureCollections(ctx); err != nil {
			return fail(fmt.Errorf("mongo: ensure collections: %w", err))
		}
		b.store = db.NewMongoStore(mongoStore)
	default:
		logger.Warn("using in-memory conversation store; data is lost on restart")
		b.store = store.NewMemoryStore(nil)
	}

	// Accounts and subscriptions live in Postgres whenever it is the primary
	// store; other drivers keep them in memory.
	if cfg.StoreDriver == utils.StoreDriverPostgres {
		gormDB, err := db.NewGORM(cfg.Postgres)
		if err != nil {
			return fail(fmt.Errorf("gorm: %w", err))
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			b.closers = append(b.closers, func() { _ = sqlDB.Close() })
		}
		if err := db.EnsureAccountSchema(gormDB); err != nil {
			return fail(fmt.Errorf("gorm: ensure account schema: %w", err))
		}
		b.users = db.NewUserRepository(gormDB)
		b.subscriptions = db.NewSubscriptionRepository(gormDB)
	} else {
		b.users = auth.NewMemoryUserRepository()
		b.subscriptions = subscription.NewMemoryRepository()
	}

	if cfg.Redis.Addr != "" {
		client, err := db.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warnf("redis: subscription cache disabled: %v", err)
		} else {
			b.closers = append(b.closers, func() { _ = client.Close() })
			b.cache = subscription.NewRedisCache(client, cfg.Redis.CacheTTL)
		}
	}

	return b, nil
}

func serve(ctx context.Context, cfg *utils.Config, logger *zap.SugaredLogger) error {
	deps, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTTTL, deps.users)
	if err != nil {
		return fmt.Errorf("failed to initialise auth service: %w", err)
	}

	var subOpts []subscription.Option
	if deps.cache != nil {
		subOpts = append(subOpts, subscription.WithCache(deps.cache))
	}
	subs := subscription.NewService(deps.subscriptions, cfg.Trial, logger.Named("subscription"), subOpts...)

	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is empty; generation requests will fail")
	}

	hub := api.NewEventHub(logger.Named("events"))
	registry := chat.NewRegistry(chat.Deps{
		Store:         deps.store,
		Generator:     completion.NewGateway(cfg.OpenAI, logger.Named("completion")),
		Subscriptions: subs,
		Notifier:      hub,
		Logger:        logger.Named("chat"),
	})
	registry.SetEvictionConfig(cfg.Workspace.IdleTimeout, cfg.Workspace.EvictInterval)
	registry.StartEvictionLoop(ctx)

	handler := api.NewHandler(api.Options{
		Auth:          authService,
		Registry:      registry,
		Hub:           hub,
		Billing:       billing.NewClient(cfg.Billing, logger.Named("billing")),
		Subscriptions: subs,
		WebhookSecret: cfg.Billing.WebhookSecret,
		Logger:        logger.Named("api"),
	})

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     setupRouter(handler),
		ReadTimeout: 15 * time.Second,
		// Turns wait on the provider, so writes get the provider timeout plus slack.
		WriteTimeout: cfg.OpenAI.HTTPTimeout*2 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server crashed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("graceful shutdown failed: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

func setupRouter(handler *api.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handler.RegisterRoutes(router)
	return router
}

func init() {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
}
