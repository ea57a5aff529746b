package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"judger/internal/common/cache"
	"judger/internal/common/db"
	commonmw "judger/internal/common/http/middleware"
	"judger/internal/common/mq"
	"judger/internal/common/storage"
	"judger/internal/judger/compiler"
	"judger/internal/judger/filestore"
	"judger/internal/judger/language"
	"judger/internal/judger/queue"
	"judger/internal/judger/repository"
	"judger/internal/judger/sandbox/engine"
	"judger/internal/judger/sandbox/security"
	"judger/internal/judger/sandbox/spec"
	"judger/internal/judger/supervisor"
	"judger/internal/judger/traditional"
	"judger/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultPopTimeout      = 30 * time.Second
	defaultTmpRoot         = "tmp"
	defaultFilesRoot       = "cache/files"
	defaultSolutionTTL     = 24 * time.Hour
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka producer settings. No brokers disables verdict events.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
}

// QueueConfig holds job queue settings.
type QueueConfig struct {
	PopTimeout    time.Duration `yaml:"popTimeout"`
	ErrBackoff    time.Duration `yaml:"errBackoff"`
	MaxRequeue    int           `yaml:"maxRequeue"`
	DeadLetterKey string        `yaml:"deadLetterKey"`
	InflightTTL   time.Duration `yaml:"inflightTTL"`
}

// SolutionConfig holds verdict persistence settings.
type SolutionConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	FinalTopic string        `yaml:"finalTopic"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	CgroupRoot           string             `yaml:"cgroupRoot"`
	SeccompDir           string             `yaml:"seccompDir"`
	HelperPath           string             `yaml:"helperPath"`
	StdoutStderrMaxBytes int64              `yaml:"stdoutStderrMaxBytes"`
	EnableSeccomp        bool               `yaml:"enableSeccomp"`
	EnableCgroup         bool               `yaml:"enableCgroup"`
	EnableNamespaces     bool               `yaml:"enableNamespaces"`
	Profiles             []security.Profile `yaml:"profiles"`
}

// LanguageConfig holds language definitions. Empty means the built-in table.
type LanguageConfig struct {
	Languages []language.Spec `yaml:"languages"`
}

// JudgeConfig holds judging settings.
type JudgeConfig struct {
	Chroot  string             `yaml:"chroot"`
	Compile compiler.Config    `yaml:"compile"`
	Run     traditional.Config `yaml:"run"`
}

// AppConfig holds judger config.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	Logger     logger.Config       `yaml:"logger"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	Database   db.MySQLConfig      `yaml:"database"`
	MinIO      storage.MinIOConfig `yaml:"minio"`
	Kafka      KafkaConfig         `yaml:"kafka"`
	Supervisor supervisor.Config   `yaml:"supervisor"`
	Queue      QueueConfig         `yaml:"queue"`
	Files      filestore.Config    `yaml:"files"`
	Solution   SolutionConfig      `yaml:"solution"`
	Auth       commonmw.AuthConfig `yaml:"auth"`
	Sandbox    SandboxConfig       `yaml:"sandbox"`
	Language   LanguageConfig      `yaml:"language"`
	Judge      JudgeConfig         `yaml:"judge"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	cfg.Redis.ApplyDefaults()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Supervisor.TmpRoot == "" {
		cfg.Supervisor.TmpRoot = defaultTmpRoot
	}
	if cfg.Queue.PopTimeout == 0 {
		cfg.Queue.PopTimeout = defaultPopTimeout
	}
	if cfg.Files.Root == "" {
		cfg.Files.Root = defaultFilesRoot
	}
	if cfg.Files.Bucket == "" {
		cfg.Files.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Solution.TTL == 0 {
		cfg.Solution.TTL = defaultSolutionTTL
	}
	if cfg.Solution.FinalTopic == "" {
		cfg.Solution.FinalTopic = repository.DefaultVerdictTopic
	}
	if len(cfg.Language.Languages) == 0 {
		cfg.Language.Languages = language.Defaults()
	}
	if cfg.Judge.Compile.Profile == "" {
		cfg.Judge.Compile.Profile = "compile"
	}
	cfg.Judge.Compile.Limits = defaultCompileLimits().Merge(cfg.Judge.Compile.Limits)
	return &cfg, nil
}

func defaultCompileLimits() spec.ResourceLimit {
	return spec.ResourceLimit{
		CPUTimeMs:  10000,
		WallTimeMs: 20000,
		MemoryMB:   512,
		OutputMB:   64,
		PIDs:       64,
	}
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		Compression:  parseCompression(k.Compression),
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (s SandboxConfig) toEngineConfig() engine.Config {
	return engine.Config{
		CgroupRoot:           s.CgroupRoot,
		SeccompDir:           s.SeccompDir,
		HelperPath:           s.HelperPath,
		StdoutStderrMaxBytes: s.StdoutStderrMaxBytes,
		EnableSeccomp:        s.EnableSeccomp,
		EnableCgroup:         s.EnableCgroup,
		EnableNamespaces:     s.EnableNamespaces,
	}
}

func (q QueueConfig) toSourceConfig(workerID int) queue.Config {
	return queue.Config{
		WorkerID:      workerID,
		MaxRequeue:    q.MaxRequeue,
		DeadLetterKey: q.DeadLetterKey,
		InflightTTL:   q.InflightTTL,
	}
}
