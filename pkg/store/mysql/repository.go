package mysql

import (
	"context"
	"fmt"

	"npuprof/pkg/config"
	mysqlmodel "npuprof/pkg/store/mysql/model"
)

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	OpRecord *OpRecordRepository
}

// NewRepository creates a new MySQL repository with all sub-repositories
func NewRepository(dsn string) (*Repository, error) {
	ds, err := NewDatastore(dsn)
	if err != nil {
		return nil, err
	}

	return &Repository{
		ds:       ds,
		OpRecord: NewOpRecordRepository(ds),
	}, nil
}

// DSN builds a go-sql-driver DSN from the config section
func DSN(cfg config.MySQLConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
}

// Migrate creates or updates the tables owned by this package
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.ds.DB(ctx).AutoMigrate(&mysqlmodel.OpRecord{}); err != nil {
		return fmt.Errorf("failed to migrate op_records: %w", err)
	}
	return nil
}

// GetDatastore returns the underlying datastore for transaction support
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
