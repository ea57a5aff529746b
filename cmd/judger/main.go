package main

import (
	"flag"
	"fmt"
	"os"

	"judger/internal/judger/supervisor"
)

const defaultConfigPath = "configs/judger.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	// Workers are this binary re-executed by the supervisor.
	if os.Getenv(supervisor.EnvWorkerID) != "" {
		os.Exit(runWorker(appCfg))
	}
	os.Exit(runSupervisor(appCfg, os.Args[1:]))
}
