package postgres

import (
	"fmt"
	"io"
	stdlog "log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/odpf/datajobs/config"
)

const slowQueryThreshold = time.Second

// Connect opens the gorm connection pool, slow queries and errors are written to writer
func Connect(dbConf config.DBConfig, writer io.Writer) (*gorm.DB, error) {
	dbLogger := logger.New(
		stdlog.New(writer, "\r\n", stdlog.LstdFlags),
		logger.Config{
			SlowThreshold: slowQueryThreshold,
			LogLevel:      logger.Warn,
		},
	)

	db, err := gorm.Open(postgres.Open(dbConf.DSN), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unable to get database handle: %w", err)
	}
	if dbConf.MaxIdleConnection > 0 {
		sqlDB.SetMaxIdleConns(dbConf.MaxIdleConnection)
	}
	if dbConf.MaxOpenConnection > 0 {
		sqlDB.SetMaxOpenConns(dbConf.MaxOpenConnection)
	}
	return db, nil
}
