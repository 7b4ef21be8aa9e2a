package main

import (
	"context"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/miragespace/premium/auth"
	"github.com/miragespace/premium/broker"
	"github.com/miragespace/premium/db"
	"github.com/miragespace/premium/external"
	"github.com/miragespace/premium/premium"
	"github.com/miragespace/premium/reminder"
	"github.com/miragespace/premium/subscription"
	"github.com/miragespace/premium/webhook"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Warn("Cannot load configurations from .env, using process environment",
			zap.String("File", dotFile),
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to logger",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	// Initialize backend connections
	gormDB, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to database",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	premiumManager, err := premium.NewManager(premium.ManagerOptions{
		SubscriptionManager: subscriptionManager,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize PremiumManager",
			zap.Error(err),
		)
	}

	// Reminders triggered through the admin endpoint go to the broker when one is configured
	var notifier reminder.Notifier = &reminder.LogNotifier{Logger: logger}
	if uri := os.Getenv("AMQP_URI"); len(uri) > 0 {
		amqpBroker, err := broker.NewAMQPBroker(logger, uri)
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		defer amqpBroker.Close()
		notifier = amqpBroker
	}

	dispatcher, err := reminder.NewDispatcher(reminder.DispatcherOptions{
		SubscriptionManager: subscriptionManager,
		Notifier:            notifier,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize reminder Dispatcher",
			zap.Error(err),
		)
	}

	authManager, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	premiumRouter, err := premium.NewService(premium.ServiceOptions{
		Auth:           authManager,
		PremiumManager: premiumManager,
		Dispatcher:     dispatcher,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Premium Service Router",
			zap.Error(err),
		)
	}

	rejectStale, _ := strconv.ParseBool(os.Getenv("REJECT_STALE_EVENTS"))
	reconciler, err := webhook.NewReconciler(webhook.ReconcilerOptions{
		SubscriptionManager: subscriptionManager,
		Provider:            webhook.StripeProvider{},
		StripeClient:        external.NewStripeClient(os.Getenv("STRIPE_KEY")),
		RejectStaleEvents:   rejectStale,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize webhook Reconciler",
			zap.Error(err),
		)
	}

	webhookRouter, err := webhook.NewService(webhook.ServiceOptions{
		Reconciler: reconciler,
		Secret:     os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()
	rootRouter.Use(middleware.RequestID)
	rootRouter.Use(middleware.Recoverer)
	rootRouter.Use(middleware.Timeout(30 * time.Second))

	origins := []string{"*"}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); len(v) > 0 {
		origins = strings.Split(v, ",")
	}
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rootRouter.Mount("/premium", premiumRouter.Router())
	rootRouter.Mount("/webhooks", webhookRouter.Router())
	rootRouter.Handle("/metrics", promhttp.Handler())
	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pool, err := gormDB.DB()
		if err == nil {
			err = pool.PingContext(r.Context())
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if authEnvironment == auth.EnvDevelopment {
		rootRouter.HandleFunc("/pprof/*", pprof.Index)
		rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
		rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
		rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
		rootRouter.HandleFunc("/pprof/trace", pprof.Trace)
	}

	addr := os.Getenv("LISTEN_ADDR")
	if len(addr) == 0 {
		addr = ":42069"
	}
	srv := &http.Server{
		Handler:           rootRouter,
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server stopped",
				zap.Error(err),
			)
		}
	}()

	logger.Info("API server started",
		zap.String("Addr", addr),
	)

	<-c
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Unable to shutdown API server gracefully",
			zap.Error(err),
		)
	}
}
