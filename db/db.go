package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

type patchedLogger struct {
	zapgorm2.Logger
}

// ErrRecordNotFound will be handled in application logic, let's not forward this to zap/sentry
func (l *patchedLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// Options configures the database connection
type Options struct {
	// URI is a PostgreSQL connection string, or a SQLite file path for local runs
	URI          string
	Logger       *zap.Logger
	MaxOpenConns int
}

// IsPostgres reports whether uri should be opened with the PostgreSQL driver
func IsPostgres(uri string) bool {
	return strings.HasPrefix(uri, "postgres://") ||
		strings.HasPrefix(uri, "postgresql://") ||
		strings.Contains(uri, "host=")
}

// New returns an instance for interacting with the database
func New(option Options) (*gorm.DB, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.URI) == 0 {
		return nil, fmt.Errorf("empty database URI is invalid")
	}
	if option.MaxOpenConns <= 0 {
		option.MaxOpenConns = 20
	}

	gLogger := zapgorm2.Logger{
		ZapLogger:        option.Logger,
		LogLevel:         gormlogger.Warn,
		SlowThreshold:    time.Second,
		SkipCallerLookup: false,
	}

	var dialector gorm.Dialector
	maxOpen := option.MaxOpenConns
	if IsPostgres(option.URI) {
		dialector = postgres.Open(option.URI)
	} else {
		dialector = sqlite.Open(option.URI)
		// sqlite serializes writers anyway
		maxOpen = 1
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: &patchedLogger{
			Logger: gLogger,
		},
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(1)
	pool.SetMaxOpenConns(maxOpen)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}
