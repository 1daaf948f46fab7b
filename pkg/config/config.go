package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port              int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout       time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout      time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" default:"10s"`
		TriggersPerMinute float64       `yaml:"triggers_per_minute" default:"4" validate:"gt=0"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Storage struct {
		Backend     string `yaml:"backend" default:"sqlite" validate:"oneof=memory sqlite postgres redis"`
		SQLitePath  string `yaml:"sqlite_path" default:"data/tradescout.db"`
		PostgresDSN string `yaml:"postgres_dsn"`
		Redis       struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379" validate:"gte=1,lte=65535"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db" validate:"gte=0"`
			PoolSize int    `yaml:"pool_size" default:"10" validate:"gte=1"`
			Prefix   string `yaml:"prefix" default:"tradescout"`
		} `yaml:"redis"`
	} `yaml:"storage"`
	Market struct {
		BaseURL     string        `yaml:"base_url" default:"https://api.binance.com" validate:"url"`
		QuoteAsset  string        `yaml:"quote_asset" default:"USDT" validate:"required"`
		Blacklist   []string      `yaml:"blacklist"`
		Timeout     time.Duration `yaml:"timeout" default:"10s"`
		MaxRetries  int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
		PacingDelay time.Duration `yaml:"pacing_delay" default:"150ms"`
		Stream      struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url" default:"wss://stream.binance.com:9443/ws/!miniTicker@arr"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			StaleAfter     time.Duration `yaml:"stale_after" default:"30s"`
		} `yaml:"stream"`
	} `yaml:"market"`
	Scanner struct {
		MinVolumeUSD    float64       `yaml:"min_volume_usd" default:"20000000" validate:"gte=0"`
		MinChange24hPct float64       `yaml:"min_change_24h_pct" default:"3" validate:"gte=0"`
		MinChange4hPct  float64       `yaml:"min_change_4h_pct" default:"1.5" validate:"gte=0"`
		MinRVOL         float64       `yaml:"min_rvol" default:"1.5" validate:"gte=0"`
		MaxCandidates   int           `yaml:"max_candidates" default:"50" validate:"gte=1"`
		Limit           int           `yaml:"limit" default:"20" validate:"gte=1"`
		Interval        time.Duration `yaml:"interval" default:"10m"`
		Autostart       bool          `yaml:"autostart" default:"true"`
	} `yaml:"scanner"`
	Filter struct {
		ExpireAfter      time.Duration `yaml:"expire_after" default:"4h"`
		PriceDeltaPct    float64       `yaml:"price_delta_pct" default:"2" validate:"gte=0"`
		ObservationLimit int           `yaml:"observation_limit" default:"50" validate:"gte=1"`
	} `yaml:"filter"`
	Decision struct {
		ConfidenceThreshold int           `yaml:"confidence_threshold" default:"75" validate:"gte=0,lte=100"`
		MuteDuration        time.Duration `yaml:"mute_duration" default:"4h"`
		MaxLeverage         float64       `yaml:"max_leverage" default:"20" validate:"gt=0"`
		RiskPerTrade        float64       `yaml:"risk_per_trade" default:"0.01" validate:"gt=0,lte=1"`
		PortfolioValue      float64       `yaml:"portfolio_value" default:"1000" validate:"gt=0"`
		MinRewardRisk       float64       `yaml:"min_reward_risk" default:"2" validate:"gte=0"`
	} `yaml:"decision"`
	Monitor struct {
		Interval      time.Duration `yaml:"interval" default:"5m"`
		Autostart     bool          `yaml:"autostart" default:"true"`
		NotifyOnClose bool          `yaml:"notify_on_close"`
		ExpireDaily   bool          `yaml:"expire_daily"`
	} `yaml:"monitor"`
	Oracle struct {
		URL        string        `yaml:"url" validate:"omitempty,url"`
		Path       string        `yaml:"path" default:"/analyze"`
		Timeout    time.Duration `yaml:"timeout" default:"60s"`
		MaxRetries int           `yaml:"max_retries" default:"2" validate:"gte=0,lte=10"`
	} `yaml:"oracle"`
	Notify struct {
		Mode       string        `yaml:"mode" default:"none" validate:"oneof=none direct queue"`
		WebhookURL string        `yaml:"webhook_url" validate:"omitempty,url"`
		Timeout    time.Duration `yaml:"timeout" default:"10s"`
		Queue      struct {
			Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
			RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
		} `yaml:"queue"`
	} `yaml:"notify"`
	Events struct {
		Backend string `yaml:"backend" default:"none" validate:"oneof=none kafka clickhouse"`
	} `yaml:"events"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"tradescout.signal-events"`
		RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"gte=-1,lte=1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
			Linger       time.Duration `yaml:"linger" default:"500ms"`
			BatchSize    int           `yaml:"batch_size" default:"100" validate:"gte=1"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000" validate:"gte=1,lte=65535"`
		Database         string        `yaml:"database" default:"tradescout"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Lock struct {
		TTL time.Duration `yaml:"ttl" default:"2m"`
	} `yaml:"lock"`
}

// DefaultBlacklist holds base assets that never make sense as momentum candidates:
// stable-value tokens, wrapped assets and fiat currencies.
var DefaultBlacklist = []string{
	"USDC", "BUSD", "TUSD", "FDUSD", "DAI", "USDP", "USDD", "PYUSD", "UST", "USDE",
	"WBTC", "WETH", "WBETH", "BETH",
	"EUR", "GBP", "TRY", "BRL", "AUD", "RUB", "UAH", "JPY",
}

var validate = validator.New()

// Default returns a configuration populated with defaults only.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	c.Market.Blacklist = append([]string(nil), DefaultBlacklist...)
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML, a local .env file if present, and
// overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"TRADESCOUT_ENV":             &c.Environment,
		"TRADESCOUT_LOG_LEVEL":       &c.Log.Level,
		"TRADESCOUT_STORAGE_BACKEND": &c.Storage.Backend,
		"TRADESCOUT_SQLITE_PATH":     &c.Storage.SQLitePath,
		"TRADESCOUT_POSTGRES_DSN":    &c.Storage.PostgresDSN,
		"TRADESCOUT_REDIS_HOST":      &c.Storage.Redis.Host,
		"TRADESCOUT_REDIS_PASSWORD":  &c.Storage.Redis.Password,
		"TRADESCOUT_MARKET_BASE_URL": &c.Market.BaseURL,
		"TRADESCOUT_ORACLE_URL":      &c.Oracle.URL,
		"TRADESCOUT_WEBHOOK_URL":     &c.Notify.WebhookURL,
		"TRADESCOUT_NOTIFY_MODE":     &c.Notify.Mode,
		"TRADESCOUT_EVENTS_BACKEND":  &c.Events.Backend,
		"KAFKA_TOPIC":                &c.Kafka.Topic,
		"CLICKHOUSE_HOST":            &c.ClickHouse.Host,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TRADESCOUT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRADESCOUT_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	durations := map[string]time.Duration{
		"server.read_timeout":           c.Server.ReadTimeout,
		"server.write_timeout":          c.Server.WriteTimeout,
		"server.shutdown_timeout":       c.Server.ShutdownTimeout,
		"market.pacing_delay":           c.Market.PacingDelay,
		"market.stream.stale_after":     c.Market.Stream.StaleAfter,
		"filter.expire_after":           c.Filter.ExpireAfter,
		"notify.queue.retry_delay":      c.Notify.Queue.RetryDelay,
		"kafka.producer.linger":         c.Kafka.Producer.Linger,
		"clickhouse.max_execution_time": c.ClickHouse.MaxExecutionTime,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}

	positive := map[string]time.Duration{
		"market.timeout":         c.Market.Timeout,
		"scanner.interval":       c.Scanner.Interval,
		"monitor.interval":       c.Monitor.Interval,
		"decision.mute_duration": c.Decision.MuteDuration,
		"oracle.timeout":         c.Oracle.Timeout,
		"notify.timeout":         c.Notify.Timeout,
		"lock.ttl":               c.Lock.TTL,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.Scanner.Limit > c.Scanner.MaxCandidates {
		return fmt.Errorf("scanner.limit (%d) cannot exceed scanner.max_candidates (%d)", c.Scanner.Limit, c.Scanner.MaxCandidates)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
	}
	if c.Notify.Mode != "none" && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when notify.mode is %q", c.Notify.Mode)
	}
	if c.Events.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when events.backend is kafka")
	}
	if c.Events.Backend == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when events.backend is clickhouse")
	}
	if c.Market.Stream.Enabled && c.Market.Stream.URL == "" {
		return fmt.Errorf("market.stream.url is required when the stream is enabled")
	}
	return nil
}
