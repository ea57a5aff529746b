package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"judger/internal/common/cache"
	"judger/internal/judger/compiler"
	"judger/internal/judger/language"
	"judger/internal/judger/model"
	"judger/internal/judger/plugin"
	"judger/internal/judger/queue"
	"judger/internal/judger/rpc"
	"judger/internal/judger/sandbox/engine"
	"judger/internal/judger/sandbox/security"
	"judger/internal/judger/supervisor"
	"judger/internal/judger/traditional"
	"judger/internal/judger/worker"
	"judger/pkg/utils/contextkey"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// runWorker judges jobs for one worker slot. Everything it logs travels to
// the supervisor over the RPC pipe.
func runWorker(appCfg *AppConfig) int {
	workerID, err := strconv.Atoi(os.Getenv(supervisor.EnvWorkerID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", supervisor.EnvWorkerID, err)
		return 1
	}
	tmpDir := os.Getenv(supervisor.EnvTmpDir)
	chroot := os.Getenv(supervisor.EnvChroot)

	// Sandboxed programs must not inherit the RPC pipes.
	unix.CloseOnExec(supervisor.WorkerReadFD)
	unix.CloseOnExec(supervisor.WorkerWriteFD)
	client := rpc.NewClient(
		os.NewFile(uintptr(supervisor.WorkerReadFD), "rpc-in"),
		os.NewFile(uintptr(supervisor.WorkerWriteFD), "rpc-out"),
	)

	log, err := logger.NewLoggerWithWriter(appCfg.Logger, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 1
	}
	logger.SetGlobal(log)
	ctx := context.WithValue(context.Background(), contextkey.WorkerID, workerID)

	redisCache, err := cache.NewRedisCache(ctx, appCfg.Redis)
	if err != nil {
		log.Error(ctx, "init redis failed", zap.Error(err))
		return 1
	}
	defer func() {
		_ = redisCache.Close()
	}()

	langs, err := language.NewTable(appCfg.Language.Languages)
	if err != nil {
		log.Error(ctx, "init language table failed", zap.Error(err))
		return 1
	}
	eng, err := engine.NewEngine(appCfg.Sandbox.toEngineConfig(), security.NewStaticResolver(appCfg.Sandbox.Profiles))
	if err != nil {
		log.Error(ctx, "init sandbox engine failed", zap.Error(err))
		return 1
	}

	judgerCfg := model.NewJudgerConfig(workerID, chroot, tmpDir)
	// A previous incarnation may have left sandboxed processes behind.
	if err := eng.KillGroup(ctx, judgerCfg.Cgroup); err != nil {
		log.Warn(ctx, "kill leftover sandbox processes failed", zap.Error(err))
	}

	registry := plugin.NewRegistry()
	comp := compiler.New(eng, langs, judgerCfg, appCfg.Judge.Compile)
	if err := registry.Register(traditional.New(eng, comp, appCfg.Judge.Run)); err != nil {
		log.Error(ctx, "register judge plugin failed", zap.Error(err))
		return 1
	}
	if err := registry.Initialize(judgerCfg); err != nil {
		log.Error(ctx, "initialize judge plugins failed", zap.Error(err))
		return 1
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		// A worker idling in a blocking pop notices a dead supervisor here.
		select {
		case <-client.Done():
			stop()
		case <-runCtx.Done():
		}
	}()

	w := worker.New(worker.Config{
		WorkerID:   workerID,
		PopTimeout: appCfg.Queue.PopTimeout,
		ErrBackoff: appCfg.Queue.ErrBackoff,
	}, queue.NewSource(redisCache, appCfg.Queue.toSourceConfig(workerID)), client, registry, log)

	if err := w.Run(runCtx); err != nil {
		if errors.Is(err, rpc.ErrConnectionLost) {
			fmt.Fprintf(os.Stderr, "worker %d lost its supervisor\n", workerID)
		} else {
			fmt.Fprintf(os.Stderr, "worker %d stopped: %v\n", workerID, err)
		}
		return 1
	}
	return 0
}
