package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Auditor    AuditorConfig    `yaml:"auditor" mapstructure:"auditor"`
	Royalty    RoyaltyConfig    `yaml:"royalty" mapstructure:"royalty"`
	DualProof  DualProofConfig  `yaml:"dual_proof" mapstructure:"dual_proof"`
	Payout     PayoutConfig     `yaml:"payout" mapstructure:"payout"`
	Chain      ChainConfig      `yaml:"chain" mapstructure:"chain"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AuditorConfig configures the royalty-event promoter job.
type AuditorConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	TimeWindowHours     int     `yaml:"time_window_hours" mapstructure:"time_window_hours"`
	// PollingInterval is in seconds.
	PollingInterval     int  `yaml:"polling_interval" mapstructure:"polling_interval"`
	BatchSize           int  `yaml:"batch_size" mapstructure:"batch_size"`
	SDKLogWindowMinutes int  `yaml:"sdk_log_window_minutes" mapstructure:"sdk_log_window_minutes"`
	DryRun              bool `yaml:"dry_run" mapstructure:"dry_run"`
	// Embedded runs the promoter inside the serve process.
	Embedded bool `yaml:"embedded" mapstructure:"embedded"`
}

// RoyaltyConfig configures payout amounts.
type RoyaltyConfig struct {
	BaseRate float64 `yaml:"base_rate" mapstructure:"base_rate"`
}

// DualProofConfig configures the read-side correlator.
type DualProofConfig struct {
	WindowMinutes int     `yaml:"window_minutes" mapstructure:"window_minutes"`
	Threshold     float64 `yaml:"threshold" mapstructure:"threshold"`
}

// PayoutConfig configures settlement.
type PayoutConfig struct {
	// Demo forces the demo chain regardless of chain.mode.
	Demo             bool `yaml:"demo" mapstructure:"demo"`
	ChainTimeoutSecs int  `yaml:"chain_timeout_secs" mapstructure:"chain_timeout_secs"`
}

// ChainConfig selects and configures the transfer backend.
type ChainConfig struct {
	Mode       string  `yaml:"mode" mapstructure:"mode"`
	GatewayURL string  `yaml:"gateway_url" mapstructure:"gateway_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background payout health checker.
type MonitoringConfig struct {
	Enabled             bool `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs   int  `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int  `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	// StuckPayoutMinutes is how long a payout may stay pending before it is
	// reported as stuck.
	StuckPayoutMinutes int    `yaml:"stuck_payout_minutes" mapstructure:"stuck_payout_minutes"`
	BacklogThreshold   int    `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	WebhookURL         string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// File enables a rotating log file in addition to stderr.
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment: auditor.batch_size <- AUDITOR_BATCH_SIZE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("auditor.similarity_threshold", 0.85)
	v.SetDefault("auditor.time_window_hours", 24)
	v.SetDefault("auditor.polling_interval", 300)
	v.SetDefault("auditor.batch_size", 100)
	v.SetDefault("auditor.sdk_log_window_minutes", 60)
	v.SetDefault("auditor.dry_run", false)
	v.SetDefault("auditor.embedded", false)
	v.SetDefault("royalty.base_rate", 10.0)
	v.SetDefault("dual_proof.window_minutes", 10)
	v.SetDefault("dual_proof.threshold", 0.85)
	v.SetDefault("payout.demo", true)
	v.SetDefault("payout.chain_timeout_secs", 30)
	v.SetDefault("chain.mode", "demo")
	v.SetDefault("chain.gateway_url", "")
	v.SetDefault("chain.rate_per_sec", 5.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.stuck_payout_minutes", 15)
	v.SetDefault("monitoring.backlog_threshold", 1000)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// EffectiveChain returns the chain configuration after applying payout.demo.
func (c *Config) EffectiveChain() ChainConfig {
	ch := c.Chain
	if c.Payout.Demo {
		ch.Mode = "demo"
	}
	return ch
}

// Validate checks the settings a command needs before it starts. Mode is the
// command name: serve, audit, migrate, seed or dualproof.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Payout.ChainTimeoutSecs <= 0 {
			errs = append(errs, "payout.chain_timeout_secs must be > 0")
		}
		ch := c.EffectiveChain()
		switch ch.Mode {
		case "demo":
		case "gateway":
			if ch.GatewayURL == "" {
				errs = append(errs, "chain.gateway_url is required when chain.mode is gateway")
			}
		default:
			errs = append(errs, fmt.Sprintf("chain.mode %q must be demo or gateway", ch.Mode))
		}
		if c.Auditor.Embedded {
			errs = append(errs, c.Auditor.validate()...)
		}
		if c.Monitoring.Enabled {
			if c.Monitoring.CheckIntervalSecs <= 0 {
				errs = append(errs, "monitoring.check_interval_secs must be > 0")
			}
			if c.Monitoring.StuckPayoutMinutes <= 0 {
				errs = append(errs, "monitoring.stuck_payout_minutes must be > 0")
			}
		}
	case "audit":
		errs = append(errs, c.Auditor.validate()...)
		if c.Royalty.BaseRate <= 0 {
			errs = append(errs, "royalty.base_rate must be > 0")
		}
	case "dualproof":
		if c.DualProof.WindowMinutes <= 0 {
			errs = append(errs, "dual_proof.window_minutes must be > 0")
		}
		if c.DualProof.Threshold < 0 || c.DualProof.Threshold > 1 {
			errs = append(errs, "dual_proof.threshold must be between 0 and 1")
		}
	case "migrate", "seed":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (a AuditorConfig) validate() []string {
	var errs []string
	if a.SimilarityThreshold < 0 || a.SimilarityThreshold > 1 {
		errs = append(errs, "auditor.similarity_threshold must be between 0 and 1")
	}
	if a.TimeWindowHours <= 0 {
		errs = append(errs, "auditor.time_window_hours must be > 0")
	}
	if a.PollingInterval <= 0 {
		errs = append(errs, "auditor.polling_interval must be > 0")
	}
	if a.BatchSize <= 0 {
		errs = append(errs, "auditor.batch_size must be > 0")
	}
	if a.SDKLogWindowMinutes <= 0 {
		errs = append(errs, "auditor.sdk_log_window_minutes must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger. When cfg.File is set, log
// entries are also written to a size-rotated JSON file.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zapCfg.Level,
		)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)

	return nil
}
