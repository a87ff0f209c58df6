package mysql

import (
	"context"
	"fmt"
	"time"

	applog "npuprof/pkg/logger"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Datastore wraps GORM DB and provides transaction support
type Datastore struct {
	db *gorm.DB
}

// gormWriter routes GORM's own log lines into the application logger
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	applog.Warnf(format, args...)
}

// NewDatastore creates a new MySQL datastore
func NewDatastore(dsn string) (*Datastore, error) {
	return openDatastore(mysql.Open(dsn))
}

func openDatastore(dialector gorm.Dialector) (*Datastore, error) {
	// Configure GORM logger
	gormLogger := logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             200 * time.Millisecond, // Slow SQL threshold
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false, // zap adds its own formatting
	})

	// Open database connection
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
		// Batch inserts manage their own transactions
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying *sql.DB and configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxOpenConns(20)                  // Maximum open connections
	sqlDB.SetMaxIdleConns(5)                   // Maximum idle connections
	sqlDB.SetConnMaxLifetime(time.Hour)        // Connection max lifetime
	sqlDB.SetConnMaxIdleTime(10 * time.Minute) // Connection max idle time

	return &Datastore{db: db}, nil
}

// Close closes the database connection
func (ds *Datastore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction support using context
type contextTxKey struct{}

// ExecTx runs fn in a transaction, rolled back if fn returns an error.
// Repositories called with the ctx passed to fn join the transaction.
func (ds *Datastore) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, contextTxKey{}, tx))
	})
}

// DB returns the transaction bound to ctx, or the main DB
func (ds *Datastore) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return ds.db.WithContext(ctx)
}
