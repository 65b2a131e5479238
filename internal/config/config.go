package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/crm-insights/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Goals      GoalsConfig      `yaml:"goals" mapstructure:"goals"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// CRM drivers.
const (
	DriverEndpoint   = "endpoint"
	DriverBitrix     = "bitrix"
	DriverSalesforce = "salesforce"
)

// CRMConfig selects and configures the record source.
type CRMConfig struct {
	Driver        string  `yaml:"driver" mapstructure:"driver"`
	EndpointURL   string  `yaml:"endpoint_url" mapstructure:"endpoint_url"`
	BitrixWebhook string  `yaml:"bitrix_webhook" mapstructure:"bitrix_webhook"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries    int     `yaml:"max_retries" mapstructure:"max_retries"`
	MaxPages      int     `yaml:"max_pages" mapstructure:"max_pages"`

	// Location is the IANA zone used to interpret calendar dates.
	Location string `yaml:"location" mapstructure:"location"`
}

// Timeout returns the per-request timeout.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// LoadLocation resolves Location, defaulting to the local zone.
func (c CRMConfig) LoadLocation() (*time.Location, error) {
	if c.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load location %q", c.Location)
	}
	return loc, nil
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// StoreConfig configures the cache and audit database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ReconcileConfig tunes the deep scan.
type ReconcileConfig struct {
	BatchSize          int  `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelayMs       int  `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	ValidateReferences bool `yaml:"validate_references" mapstructure:"validate_references"`
	AutoScan           bool `yaml:"auto_scan" mapstructure:"auto_scan"`

	// CircuitThreshold consecutive remote failures open the breaker. Zero
	// disables it.
	CircuitThreshold int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// BatchDelay returns the pause between scan batches.
func (c ReconcileConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

// CircuitReset returns the breaker cool-down.
func (c ReconcileConfig) CircuitReset() time.Duration {
	return time.Duration(c.CircuitResetSecs) * time.Second
}

// GoalsConfig holds the goals applied when none were saved.
type GoalsConfig struct {
	Channels       map[string]model.ChannelGoal `yaml:"channels" mapstructure:"channels"`
	ConversionRate float64                      `yaml:"conversion_rate" mapstructure:"conversion_rate"`
}

// Defaults converts the configured goals to model form.
func (g GoalsConfig) Defaults() model.DemandGoals {
	out := model.DemandGoals{
		Channels:       make(map[string]model.ChannelGoal, len(g.Channels)),
		ConversionRate: g.ConversionRate,
	}
	for name, cg := range g.Channels {
		out.Channels[name] = cg
	}
	return out
}

// CatalogConfig points at an optional lookup table override.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MonitoringConfig configures scan health alerting.
type MonitoringConfig struct {
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	RemoteErrorRateThreshold float64 `yaml:"remote_error_rate_threshold" mapstructure:"remote_error_rate_threshold"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIGHTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("crm.driver", DriverEndpoint)
	v.SetDefault("crm.rate_limit", 2.0)
	v.SetDefault("crm.timeout_secs", 60)
	v.SetDefault("crm.max_retries", 3)
	v.SetDefault("crm.max_pages", 400)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "crm-insights.db")
	v.SetDefault("reconcile.batch_size", 10)
	v.SetDefault("reconcile.batch_delay_ms", 250)
	v.SetDefault("reconcile.validate_references", true)
	v.SetDefault("reconcile.circuit_threshold", 5)
	v.SetDefault("reconcile.circuit_reset_secs", 30)
	v.SetDefault("reconcile.auto_scan", true)
	v.SetDefault("goals.conversion_rate", model.DefaultConversionRate)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.remote_error_rate_threshold", 0.25)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
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

// Validate checks that the settings a command mode depends on are present.
// Modes: "serve", "report", "scan" need a record source; "goals" and "runs"
// only need the store.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}

	switch mode {
	case "serve", "report", "scan":
		switch c.CRM.Driver {
		case DriverEndpoint:
			if c.CRM.EndpointURL == "" {
				missing = append(missing, "crm.endpoint_url")
			}
		case DriverBitrix:
			if c.CRM.BitrixWebhook == "" {
				missing = append(missing, "crm.bitrix_webhook")
			}
		case DriverSalesforce:
			if c.Salesforce.ClientID == "" {
				missing = append(missing, "salesforce.client_id")
			}
			if c.Salesforce.Username == "" {
				missing = append(missing, "salesforce.username")
			}
			if c.Salesforce.KeyPath == "" {
				missing = append(missing, "salesforce.key_path")
			}
		default:
			return eris.Errorf("config: unsupported crm driver %q", c.CRM.Driver)
		}
		if _, err := c.CRM.LoadLocation(); err != nil {
			return err
		}
		if mode == "serve" && c.Server.Port <= 0 {
			return eris.New("config: server.port must be > 0")
		}
	case "goals", "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
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
