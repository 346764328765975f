package server

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/hashicorp/go-multierror"
	"github.com/odpf/salt/log"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/odpf/datajobs/config"
	"github.com/odpf/datajobs/core/execution/service"
	"github.com/odpf/datajobs/ext/cluster/kubernetes"
	"github.com/odpf/datajobs/internal/lock"
	"github.com/odpf/datajobs/internal/store/postgres"
	store "github.com/odpf/datajobs/internal/store/postgres/execution"
	"github.com/odpf/datajobs/internal/telemetry"
)

const shutdownWait = 30 * time.Second

type setupFn func() error

type DataJobsServer struct {
	conf   config.ServerConfig
	logger log.Logger

	dbConn      *gorm.DB
	redisClient *redis.Client
	cluster     *kubernetes.Cluster
	locker      service.Locker
	schedule    *cron.Cron

	executionService  *service.ExecutionService
	deploymentService *service.DeploymentService

	cleanupFn []func() error
}

func New(conf config.ServerConfig) (*DataJobsServer, error) {
	server := &DataJobsServer{
		conf:   conf,
		logger: createLogger(conf),
	}

	if err := checkRequiredConfigs(conf.Serve); err != nil {
		return server, err
	}

	setupFns := []setupFn{
		server.setupTelemetry,
		server.setupDB,
		server.setupCluster,
		server.setupLocker,
		server.setupServices,
	}

	for _, fn := range setupFns {
		if err := fn(); err != nil {
			return server, err
		}
	}

	server.logger.Info("started data jobs control service", "version", config.BuildVersion)
	return server, nil
}

func createLogger(conf config.ServerConfig) *log.Logrus {
	return log.NewLogrus(
		log.LogrusWithLevel(conf.Log.Level),
		log.LogrusWithWriter(os.Stderr),
	)
}

func checkRequiredConfigs(conf config.Serve) error {
	errRequiredMissing := errors.New("required config missing")
	if conf.DB.DSN == "" {
		return fmt.Errorf("serve.db.dsn: %w", errRequiredMissing)
	}
	if parsed, err := url.Parse(conf.DB.DSN); err != nil {
		return fmt.Errorf("failed to parse serve.db.dsn: %w", err)
	} else if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return errors.New("unsupported database scheme, use 'postgres'")
	}
	return nil
}

func (s *DataJobsServer) setupTelemetry() error {
	addr := fmt.Sprintf("%s:%d", s.conf.Serve.Host, s.conf.Serve.Port)
	shutdown := config.InitTelemetry(s.logger, addr)
	s.cleanupFn = append(s.cleanupFn, func() error {
		shutdown()
		return nil
	})
	return nil
}

func (s *DataJobsServer) setupDB() error {
	migration, err := postgres.NewMigration(s.logger, s.conf.Serve.DB.DSN)
	if err != nil {
		return fmt.Errorf("error initializing migration: %w", err)
	}
	if err := migration.Up(); err != nil {
		return fmt.Errorf("error executing migration up: %w", err)
	}

	s.dbConn, err = postgres.Connect(s.conf.Serve.DB, s.logger.Writer())
	if err != nil {
		return fmt.Errorf("postgres.Connect: %w", err)
	}
	s.cleanupFn = append(s.cleanupFn, func() error {
		sqlConn, err := s.dbConn.DB()
		if err != nil {
			return fmt.Errorf("error getting sql connection: %w", err)
		}
		return sqlConn.Close()
	})
	return nil
}

func (s *DataJobsServer) setupCluster() error {
	clientset, err := kubernetes.NewClientset(s.conf.Cluster.KubeConfig)
	if err != nil {
		return err
	}
	template, err := kubernetes.LoadTemplate(afero.NewOsFs(), s.conf.Cluster.TemplatePath)
	if err != nil {
		return err
	}
	s.cluster = kubernetes.NewCluster(s.logger, clientset, template, s.conf.Cluster)
	return nil
}

// setupLocker falls back to a process local lock when no redis is configured,
// which is only safe with a single replica
func (s *DataJobsServer) setupLocker() error {
	if s.conf.Redis.Addr == "" {
		s.logger.Warn("redis is not configured, retention lock is local to this replica")
		s.locker = lock.NewLocalLocker(currentTime)
		return nil
	}

	s.redisClient = redis.NewClient(&redis.Options{
		Addr:     s.conf.Redis.Addr,
		Password: s.conf.Redis.Password,
		DB:       s.conf.Redis.DB,
	})
	if err := s.redisClient.Ping().Err(); err != nil {
		return fmt.Errorf("unable to reach redis at %s: %w", s.conf.Redis.Addr, err)
	}
	s.locker = lock.NewRedisLocker(s.redisClient)
	s.cleanupFn = append(s.cleanupFn, s.redisClient.Close)
	return nil
}

func (s *DataJobsServer) setupServices() error {
	jobRepo := store.NewJobRepository(s.dbConn)
	deploymentRepo := store.NewDeploymentRepository(s.dbConn)
	executionRepo := store.NewExecutionRepository(s.dbConn)
	metrics := telemetry.NewSink()

	s.executionService = service.NewExecutionService(s.logger, jobRepo, deploymentRepo, executionRepo, s.cluster,
		metrics, currentTime, s.conf.Reconcile, s.conf.Lookup)
	s.deploymentService = service.NewDeploymentService(s.logger, jobRepo, deploymentRepo, s.cluster, currentTime)

	s.schedule = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	s.cleanupFn = append(s.cleanupFn, func() error {
		stopped := s.schedule.Stop()
		select {
		case <-stopped.Done():
			return nil
		case <-time.After(shutdownWait):
			return errors.New("timed out waiting for running tasks to finish")
		}
	})

	syncManager := service.NewStatusSyncManager(s.logger, s.cluster, jobRepo, s.executionService, s.schedule, s.conf.Reconcile)
	if err := syncManager.Initialize(); err != nil {
		return err
	}

	retentionManager := service.NewRetentionManager(s.logger, jobRepo, executionRepo, s.locker, metrics, s.schedule,
		currentTime, s.conf.Retention)
	return retentionManager.Initialize()
}

func (s *DataJobsServer) ExecutionService() *service.ExecutionService {
	return s.executionService
}

func (s *DataJobsServer) DeploymentService() *service.DeploymentService {
	return s.deploymentService
}

// Shutdown runs the cleanups in reverse order of setup
func (s *DataJobsServer) Shutdown() {
	s.logger.Warn("shutting down server")

	var errs error
	for i := len(s.cleanupFn) - 1; i >= 0; i-- {
		if err := s.cleanupFn[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		s.logger.Error("errors during shutdown", "error", errs)
	}

	s.logger.Info("server shutdown complete")
}

func currentTime() time.Time {
	return time.Now().UTC()
}
