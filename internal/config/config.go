package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Exchange Exchange `mapstructure:"exchange"`
	Discord  Discord  `mapstructure:"discord"`
	Broker   Broker   `mapstructure:"broker"`
	Trading  Trading  `mapstructure:"trading"`
	Alerts   Alerts   `mapstructure:"alerts"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Mode     string   `mapstructure:"mode"`
}

// Exchange holds the configuration for the CoinDCX API.
type Exchange struct {
	BaseURL        string  `mapstructure:"base_url"`
	ApiKey         string  `mapstructure:"api_key"`
	SecretKey      string  `mapstructure:"secret_key"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RetryDelay     int     `mapstructure:"retry_delay"` // seconds
	Timeout        int     `mapstructure:"timeout"`     // seconds
}

// Discord holds the webhook configuration.
type Discord struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Thumbnail  string `mapstructure:"thumbnail"`
}

// Broker holds the optional RabbitMQ event sink configuration.
// An empty URL disables it.
type Broker struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// Server holds the configuration for the status server.
// Port 0 disables it.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the order journal.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Trading holds the configuration for the trading logic.
type Trading struct {
	Pair          string  `mapstructure:"pair"`
	BaseCurrency  string  `mapstructure:"base_currency"`
	QuoteCurrency string  `mapstructure:"quote_currency"`
	BuyPrice      float64 `mapstructure:"buy_price"`
	SellPrice     float64 `mapstructure:"sell_price"`
	DryRun        bool    `mapstructure:"dry_run"`
	TickInterval  int     `mapstructure:"tick_interval"` // seconds
}

// Alerts holds the price alert thresholds keyed by name ("high", "low", ...).
type Alerts struct {
	Thresholds   map[string]float64 `mapstructure:"thresholds"`
	TickInterval int                `mapstructure:"tick_interval"` // seconds
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

// Flags registers the command line overrides on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "./configs", "directory containing config.yml")
	fs.String("mode", "all", "operation mode: all|trader|alerts|info")
	fs.Float64("buy-price", 0, "buy price threshold")
	fs.Float64("sell-price", 0, "sell price threshold")
	fs.Float64("high-alert", 0, "high price alert threshold")
	fs.Float64("low-alert", 0, "low price alert threshold")
	fs.Bool("dry-run", false, "simulate orders without sending them")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "all")
	v.SetDefault("exchange.base_url", "https://api.coindcx.com")
	v.SetDefault("exchange.rate_limit", 10) // requests per second
	v.SetDefault("exchange.rate_limit_burst", 5)
	v.SetDefault("exchange.max_retries", 3)
	v.SetDefault("exchange.retry_delay", 5)
	v.SetDefault("exchange.timeout", 15)
	v.SetDefault("broker.exchange", "crypto_manager")
	v.SetDefault("trading.pair", "ELYINR")
	v.SetDefault("trading.buy_price", 0.65)
	v.SetDefault("trading.sell_price", 0.70)
	v.SetDefault("trading.tick_interval", 60)
	v.SetDefault("alerts.tick_interval", 60)
	v.SetDefault("alerts.thresholds", map[string]float64{"low": 0.64, "high": 0.71})
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("database.dsn", "crypto_manager.db")
}

// LoadConfig reads configuration from the config directory, a .env file,
// environment variables and, when fs is not nil, command line flags.
// A missing config.yml is not an error; defaults and env still apply.
func LoadConfig(path string, fs *pflag.FlagSet) (config Config, err error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	// Credentials keep the names the exchange docs use.
	_ = v.BindEnv("exchange.api_key", "COINDCX_API_KEY")
	_ = v.BindEnv("exchange.secret_key", "COINDCX_API_SECRET")
	_ = v.BindEnv("discord.webhook_url", "DISCORD_WEBHOOK_URL")

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
		err = nil
	}

	if fs != nil {
		bindFlags(v, fs)
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("unmarshal config: %w", err)
	}
	if fs != nil {
		applyAlertFlags(&config, fs)
	}

	err = config.Validate()
	return
}

// bindFlags wires only the flags the user actually set, so zero-valued
// defaults never shadow the config file.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	keys := map[string]string{
		"mode":       "mode",
		"buy-price":  "trading.buy_price",
		"sell-price": "trading.sell_price",
		"dry-run":    "trading.dry_run",
	}
	for flag, key := range keys {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			_ = v.BindPFlag(key, f)
		}
	}
}

func applyAlertFlags(cfg *Config, fs *pflag.FlagSet) {
	thresholds := make(map[string]float64, len(cfg.Alerts.Thresholds)+2)
	for name, price := range cfg.Alerts.Thresholds {
		thresholds[name] = price
	}
	for flag, name := range map[string]string{"high-alert": "high", "low-alert": "low"} {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			if price, err := fs.GetFloat64(flag); err == nil {
				thresholds[name] = price
			}
		}
	}
	cfg.Alerts.Thresholds = thresholds
}

// Validate checks the values the engines depend on.
func (c *Config) Validate() error {
	switch c.Mode {
	case "all", "trader", "alerts", "info":
	default:
		return fmt.Errorf("invalid mode %q: must be one of all|trader|alerts|info", c.Mode)
	}
	if len(c.Trading.Pair) < 5 {
		return fmt.Errorf("invalid trading pair %q", c.Trading.Pair)
	}
	if c.Trading.BuyPrice <= 0 || c.Trading.SellPrice <= 0 {
		return errors.New("buy_price and sell_price must be positive")
	}
	if c.Trading.TickInterval <= 0 || c.Alerts.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}
	if (c.Trading.BaseCurrency == "") != (c.Trading.QuoteCurrency == "") {
		return errors.New("base_currency and quote_currency must be set together")
	}
	return nil
}
