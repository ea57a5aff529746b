package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"judger/internal/common/cache"
	"judger/internal/common/db"
	"judger/internal/common/mq"
	"judger/internal/common/storage"
	"judger/internal/judger/controller"
	"judger/internal/judger/filestore"
	"judger/internal/judger/repository"
	"judger/internal/judger/supervisor"
	"judger/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runSupervisor owns every backend connection, forks the workers and serves
// the status API until SIGINT or SIGTERM.
func runSupervisor(appCfg *AppConfig, args []string) int {
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	mysqlDB, err := db.OpenMySQL(ctx, appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return 1
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCache(ctx, appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return 1
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(ctx, "init minio failed", zap.Error(err))
		return 1
	}
	if ok, err := objStorage.BucketExists(ctx, appCfg.Files.Bucket); err != nil || !ok {
		logger.Error(ctx, "file bucket unavailable", zap.String("bucket", appCfg.Files.Bucket), zap.Error(err))
		return 1
	}

	var publisher repository.VerdictPublisher
	if appCfg.Kafka.enabled() {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.toMQConfig())
		if err != nil {
			logger.Error(ctx, "init kafka failed", zap.Error(err))
			return 1
		}
		defer func() {
			_ = producer.Close()
		}()
		publisher = repository.NewMQVerdictPublisher(producer, appCfg.Solution.FinalTopic)
	} else {
		logger.Warn(ctx, "kafka brokers not configured, final verdict events disabled")
	}

	files := filestore.New(appCfg.Files, mysqlDB, objStorage, redisCache)
	solutions := repository.NewSolutionRepository(redisCache, mysqlDB, publisher, appCfg.Solution.TTL)

	launcher, err := supervisor.NewExecLauncher(args, appCfg.Judge.Chroot)
	if err != nil {
		logger.Error(ctx, "resolve worker executable failed", zap.Error(err))
		return 1
	}
	log := logger.GetLogger()
	sup := supervisor.New(appCfg.Supervisor, launcher, supervisor.NewHandler(files, solutions, log), log)

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return 1
	}
	httpServer := buildHTTPServer(appCfg, solutions, sup)

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(shutdownCtx)
	g.Go(func() error {
		if err := sup.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.New("every worker exhausted its respawn budget")
		}
		return nil
	})
	g.Go(func() error {
		logger.Info(ctx, "judger http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "judger stopped", zap.Error(err))
		return 1
	}
	return 0
}

func buildHTTPServer(appCfg *AppConfig, solutions controller.SolutionReader, workers controller.WorkerLister) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      controller.NewRouter(appCfg.Auth, solutions, workers),
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
