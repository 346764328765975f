package setup

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/odpf/salt/log"
	"gorm.io/gorm"

	"github.com/odpf/datajobs/config"
	"github.com/odpf/datajobs/internal/store/postgres"
)

var (
	datajobsDB *gorm.DB
	initDBOnce sync.Once
)

func TestDB() *gorm.DB {
	initDBOnce.Do(migrateDB)

	return datajobsDB
}

func mustReadDBConfig() string {
	dbURL, ok := os.LookupEnv("TEST_DATAJOBS_DB_URL")
	if ok {
		return dbURL
	}

	// Did not find a suitable way to read db config
	panic("unable to find config for datajobs test db")
}

func migrateDB() {
	dbURL := mustReadDBConfig()

	dbConf := config.DBConfig{
		DSN:               dbURL,
		MaxIdleConnection: 1,
		MaxOpenConnection: 2,
	}
	dbConn, err := postgres.Connect(dbConf, os.Stdout)
	if err != nil {
		panic(err)
	}
	if err := dropTables(dbConn); err != nil {
		panic(err)
	}

	logger := log.NewLogrus(log.LogrusWithWriter(os.Stdout))
	m, err := postgres.NewMigration(logger, dbURL)
	if err != nil {
		panic(err)
	}
	if err := m.Up(); err != nil {
		panic(err)
	}

	datajobsDB = dbConn
}

func dropTables(db *gorm.DB) error {
	tablesToDelete := []string{
		"data_job_execution",
		"data_job_deployment",
		"data_job",
		"schema_migrations",
	}
	var errMsgs []string
	for _, table := range tablesToDelete {
		if err := db.Exec(fmt.Sprintf("drop table if exists %s", table)).Error; err != nil {
			toleratedErrMsg := fmt.Sprintf("table \"%s\" does not exist", table)
			if !strings.Contains(err.Error(), toleratedErrMsg) {
				errMsgs = append(errMsgs, err.Error())
			}
		}
	}
	if len(errMsgs) > 0 {
		return fmt.Errorf("error encountered when dropping tables: %s", strings.Join(errMsgs, ","))
	}
	return nil
}

func TruncateTables(db *gorm.DB) {
	db.Exec("TRUNCATE TABLE data_job_execution CASCADE")
	db.Exec("TRUNCATE TABLE data_job_deployment CASCADE")
	db.Exec("TRUNCATE TABLE data_job CASCADE")
}
