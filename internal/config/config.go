package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Warehouse  WarehouseConfig  `yaml:"warehouse" mapstructure:"warehouse"`
	Queries    QueriesConfig    `yaml:"queries" mapstructure:"queries"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Upload     UploadConfig     `yaml:"upload" mapstructure:"upload"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// WarehouseConfig configures the data warehouse session.
type WarehouseConfig struct {
	DatabaseURL        string `yaml:"database_url" mapstructure:"database_url"`
	ConnectTimeoutSecs int    `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	ConnectAttempts    int    `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// QueriesConfig locates the SQL templates.
type QueriesConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	OrderLevel string `yaml:"order_level" mapstructure:"order_level"`
	ItemLevel  string `yaml:"item_level" mapstructure:"item_level"`
}

// ExportConfig configures the per-provider CSV output.
type ExportConfig struct {
	RootDir          string            `yaml:"root_dir" mapstructure:"root_dir"`
	SharedRoot       string            `yaml:"shared_root" mapstructure:"shared_root"`
	FileNameTemplate string            `yaml:"filename_template" mapstructure:"filename_template"`
	BatchSize        int               `yaml:"batch_size" mapstructure:"batch_size"`
	CutoffDay        int               `yaml:"cutoff_day" mapstructure:"cutoff_day"`
	Providers        map[string]string `yaml:"providers" mapstructure:"providers"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// UploadConfig configures the optional cloud storage copy of exports.
type UploadConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket  string `yaml:"bucket" mapstructure:"bucket"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`
}

// MonitoringConfig configures failure alerts.
type MonitoringConfig struct {
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	ConsecutiveFailures int    `yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	StaleAfterDays      int    `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ServerConfig configures the HTTP trigger API.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TriggerPerMinute int      `yaml:"trigger_per_minute" mapstructure:"trigger_per_minute"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file: an explicit path must exist, ./config.yaml is optional.
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("O2C")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("warehouse.database_url", "")
	v.SetDefault("warehouse.connect_timeout_secs", 30)
	v.SetDefault("warehouse.connect_attempts", 3)
	v.SetDefault("queries.dir", "sql")
	v.SetDefault("queries.order_level", "S01_order_level.sql")
	v.SetDefault("queries.item_level", "S02_item_level.sql")
	v.SetDefault("export.root_dir", "")
	v.SetDefault("export.shared_root", "Shared drives/Automation Projects/Accounting/Orders to Cash")
	v.SetDefault("export.filename_template", "{period}.{provider} DWH data.csv")
	v.SetDefault("export.batch_size", 25000)
	v.SetDefault("export.cutoff_day", 9)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "o2c-export.db")
	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.bucket", "")
	v.SetDefault("upload.prefix", "o2c")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.consecutive_failures", 2)
	v.SetDefault("monitoring.stale_after_days", 35)
	v.SetDefault("monitoring.check_interval_secs", 3600)
	v.SetDefault("monitoring.lookback_window_hours", 24*40)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.trigger_per_minute", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode needs: "export", "serve" or "runs".
// Problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string
	req := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "export", "serve":
		req(c.Warehouse.DatabaseURL != "", "warehouse.database_url is required")
		req(c.Export.RootDir != "", "export.root_dir is required")
		if c.Export.RootDir != "" {
			info, err := os.Stat(c.Export.RootDir)
			req(err == nil && info.IsDir(), "export.root_dir must be an existing directory: "+c.Export.RootDir)
		}
		req(c.Export.BatchSize > 0, "export.batch_size must be > 0")
		req(c.Export.CutoffDay >= 1 && c.Export.CutoffDay <= 28, "export.cutoff_day must be between 1 and 28")
		req(!c.Upload.Enabled || c.Upload.Bucket != "", "upload.bucket is required when upload.enabled is set")
		if c.Store.Driver == "postgres" {
			req(c.Store.DatabaseURL != "", "store.database_url is required")
		}
		if mode == "serve" {
			req(c.Server.Port > 0, "server.port must be > 0")
		}
	case "runs":
		if c.Store.Driver == "postgres" {
			req(c.Store.DatabaseURL != "", "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
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
	zap.ReplaceGlobals(logger)

	return nil
}
