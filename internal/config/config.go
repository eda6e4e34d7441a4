package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "price-stream-service"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	Port                    map[string]string         `mapstructure:"port"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Kafka                   KafkaConfig               `mapstructure:"kafka"`
	PriceCache              PriceCacheConfig          `mapstructure:"price_cache"`
	Broadcaster             BroadcasterConfig         `mapstructure:"broadcaster"`
	Ingestion               IngestionConfig           `mapstructure:"ingestion"`
	Auth                    AuthConfig                `mapstructure:"auth"`
	PriceFeed               PriceFeedConfig           `mapstructure:"price_feed"`
}

type NatsJetstreamConfig struct {
	URL             string                   `mapstructure:"url"`
	MaxRetries      int                      `mapstructure:"max_retries"`
	ReconnectFactor float64                  `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration            `mapstructure:"min_jitter"`
	MaxJitter       time.Duration            `mapstructure:"max_jitter"`
	TimeoutHandler  map[string]time.Duration `mapstructure:"timeout_handler"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	MinBytes     int           `mapstructure:"min_bytes"`
	MaxBytes     int           `mapstructure:"max_bytes"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

type PriceCacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	Capacity      int           `mapstructure:"capacity"`
	Shards        int           `mapstructure:"shards"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RedisMirror   bool          `mapstructure:"redis_mirror"`
}

type BroadcasterConfig struct {
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type IngestionConfig struct {
	Source          string        `mapstructure:"source"`
	Topic           string        `mapstructure:"topic"`
	Group           string        `mapstructure:"group"`
	LaneBuffer      int           `mapstructure:"lane_buffer"`
	NakDelay        time.Duration `mapstructure:"nak_delay"`
	RetryMinBackoff time.Duration `mapstructure:"retry_min_backoff"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff"`
}

type AuthConfig struct {
	JWKSURL             string        `mapstructure:"jwks_url"`
	HMACSecret          string        `mapstructure:"hmac_secret"`
	Issuer              string        `mapstructure:"issuer"`
	JWKSRefreshInterval time.Duration `mapstructure:"jwks_refresh_interval"`
}

type PriceFeedConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Token    string        `mapstructure:"token"`
	Symbols  []string      `mapstructure:"symbols"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Sink     string        `mapstructure:"sink"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	setDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 10*time.Second)

	viper.SetDefault("price_cache.ttl", 300*time.Second)
	viper.SetDefault("price_cache.capacity", 10_000)
	viper.SetDefault("price_cache.shards", 32)
	viper.SetDefault("price_cache.sweep_interval", 30*time.Second)

	viper.SetDefault("broadcaster.write_timeout", 2*time.Second)
	viper.SetDefault("broadcaster.max_workers", 64)
	viper.SetDefault("broadcaster.ping_interval", 25*time.Second)
	viper.SetDefault("broadcaster.pong_wait", 60*time.Second)

	viper.SetDefault("ingestion.source", "jetstream")
	viper.SetDefault("ingestion.topic", "finstream.stock.prices")
	viper.SetDefault("ingestion.group", "finstream-broadcaster")
	viper.SetDefault("ingestion.lane_buffer", 256)
	viper.SetDefault("ingestion.nak_delay", 1*time.Second)
	viper.SetDefault("ingestion.retry_min_backoff", 100*time.Millisecond)
	viper.SetDefault("ingestion.retry_max_backoff", 5*time.Second)

	viper.SetDefault("auth.jwks_refresh_interval", 5*time.Minute)

	viper.SetDefault("price_feed.interval", 30*time.Second)
	viper.SetDefault("price_feed.base_url", "https://finnhub.io/api/v1")
	viper.SetDefault("price_feed.symbols", []string{"AAPL", "GOOGL", "MSFT"})
	viper.SetDefault("price_feed.timeout", 10*time.Second)
	viper.SetDefault("price_feed.sink", "jetstream")
}
