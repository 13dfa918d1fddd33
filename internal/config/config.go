package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"roadbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Stripe     StripeConfig     `yaml:"stripe"`
	Mail       MailConfig       `yaml:"mail"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Booking    BookingConfig    `yaml:"booking"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Worker     WorkerConfig     `yaml:"worker"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type StripeConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SecretKey     string        `yaml:"secret_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Currency      string        `yaml:"currency"`
	SuccessURL    string        `yaml:"success_url"` // {slug} и {CHECKOUT_SESSION_ID} подставляются
	CancelURL     string        `yaml:"cancel_url"`
	Timeout       time.Duration `yaml:"timeout"`
	BaseURL       string        `yaml:"base_url"` // переопределение API для тестов
}

type MailConfig struct {
	Provider string `yaml:"provider"` // log, smtp
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled"`
	BotToken     string  `yaml:"bot_token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
	Debug        bool    `yaml:"debug"`
}

type BookingConfig struct {
	BaseURL            string               `yaml:"base_url"`
	RevealDaysBefore   int                  `yaml:"reveal_days_before"`
	JoinCodePrefix     string               `yaml:"join_code_prefix"`
	CacheTTL           time.Duration        `yaml:"cache_ttl"`
	DefaultPaymentMode string               `yaml:"default_payment_mode"`
	DefaultDeposit     models.DepositPolicy `yaml:"default_deposit"`
	AccessRateLimit    int                  `yaml:"access_rate_limit"`
	AccessRateWindow   time.Duration        `yaml:"access_rate_window"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	JWTSecret    string         `yaml:"jwt_secret"`
	JWTTTL       time.Duration  `yaml:"jwt_ttl"`
	JWTIssuer    string         `yaml:"jwt_issuer"`
}

// APIClientKey is an admin credential bound to one tenant.
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	TenantID    string   `yaml:"tenant_id"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Stripe.Enabled {
		if c.Stripe.SecretKey == "" {
			return errors.New("stripe secret key is required")
		}
		if c.Stripe.WebhookSecret == "" {
			return errors.New("stripe webhook secret is required")
		}
	}

	if c.API.Enabled && c.API.Auth.JWTSecret == "" {
		return errors.New("api jwt secret is required")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required")
	}

	switch c.Booking.DefaultPaymentMode {
	case models.PaymentModeSelf, models.PaymentModeAll:
	default:
		return fmt.Errorf("unknown default payment mode %q", c.Booking.DefaultPaymentMode)
	}

	switch c.Mail.Provider {
	case "log":
	case "smtp":
		if c.Mail.Host == "" || c.Mail.From == "" {
			return errors.New("smtp host and from address are required")
		}
	default:
		return fmt.Errorf("unknown mail provider %q", c.Mail.Provider)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.JWTTTL == 0 {
		c.API.Auth.JWTTTL = 30 * 24 * time.Hour
	}
	if c.API.Auth.JWTIssuer == "" {
		c.API.Auth.JWTIssuer = "roadbook"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "eur"
	}
	if c.Stripe.Timeout == 0 {
		c.Stripe.Timeout = 15 * time.Second
	}

	if c.Mail.Provider == "" {
		c.Mail.Provider = "log"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}

	// Booking defaults
	if c.Booking.RevealDaysBefore == 0 {
		c.Booking.RevealDaysBefore = models.DefaultRevealDaysBefore
	}
	if c.Booking.JoinCodePrefix == "" {
		c.Booking.JoinCodePrefix = models.DefaultJoinCodePrefix
	}
	if c.Booking.CacheTTL == 0 {
		c.Booking.CacheTTL = models.DefaultItineraryCacheTTL * time.Second
	}
	if c.Booking.DefaultPaymentMode == "" {
		c.Booking.DefaultPaymentMode = models.PaymentModeAll
	}
	if c.Booking.DefaultDeposit.Type == "" {
		c.Booking.DefaultDeposit = models.DefaultDepositPolicy()
	}
	if c.Booking.AccessRateLimit == 0 {
		c.Booking.AccessRateLimit = 60
	}
	if c.Booking.AccessRateWindow == 0 {
		c.Booking.AccessRateWindow = time.Minute
	}

	// Worker defaults
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 20
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.BaseDelay == 0 {
		c.Worker.BaseDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
}
