package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miragespace/premium/auth"
	"github.com/miragespace/premium/broker"
	"github.com/miragespace/premium/db"
	"github.com/miragespace/premium/reminder"
	"github.com/miragespace/premium/subscription"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
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
			"component": "task",
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

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Warn("Cannot load configurations from .env, using process environment",
			zap.String("File", dotFile),
			zap.Error(err),
		)
	}

	interval := time.Hour
	if v := os.Getenv("REMINDER_INTERVAL"); len(v) > 0 {
		interval, err = time.ParseDuration(v)
		if err != nil {
			logger.Fatal("Invalid REMINDER_INTERVAL",
				zap.Error(err),
			)
		}
	}

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

	amqpBroker, err := broker.NewAMQPBroker(logger, os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     gormDB,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	dispatcher, err := reminder.NewDispatcher(reminder.DispatcherOptions{
		SubscriptionManager: subscriptionManager,
		Notifier:            amqpBroker,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize reminder Dispatcher",
			zap.Error(err),
		)
	}

	lock, err := reminder.NewRedisLock(reminder.RedisLockOptions{
		Redis: rdb,
	})
	if err != nil {
		logger.Fatal("Cannot initialize reminder lock",
			zap.Error(err),
		)
	}

	reminderTask, err := reminder.NewTask(reminder.TaskOptions{
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   interval,
		Lock:       lock,
	})
	if err != nil {
		logger.Fatal("Cannot get reminder task",
			zap.Error(err),
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reminderTask.Run(ctx)
	}()

	logger.Info("Reminder task started",
		zap.Duration("Interval", interval),
	)

	<-c
	cancel()
	<-done
}
