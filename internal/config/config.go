package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DB_"`
	Telegram  TelegramConfig  `yaml:"telegram" envPrefix:"TELEGRAM_"`
	S3        S3Config        `yaml:"s3" envPrefix:"S3_"`
	Gemini    GeminiConfig    `yaml:"gemini" envPrefix:"GEMINI_"`
	Challenge ChallengeConfig `yaml:"challenge" envPrefix:"CHALLENGE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	NATS      NATSConfig      `yaml:"nats" envPrefix:"NATS_"`
	JWT       JWTConfig       `yaml:"jwt" envPrefix:"JWT_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Host string `yaml:"host" env:"HOST"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	DBName   string `yaml:"dbname" env:"NAME"`
	SSLMode  string `yaml:"sslmode" env:"SSLMODE"`
}

// TelegramConfig holds bot credentials
type TelegramConfig struct {
	BotToken      string `yaml:"bot_token" env:"BOT_TOKEN"`
	AdminChatID   int64  `yaml:"admin_chat_id" env:"ADMIN_CHAT_ID"`
	WebhookSecret string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
}

// S3Config holds photo storage configuration.
// Empty keys fall back to the default AWS credential chain.
type S3Config struct {
	Region        string `yaml:"region" env:"REGION"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	Prefix        string `yaml:"prefix" env:"PREFIX"`
	AccessKey     string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey     string `yaml:"secret_key" env:"SECRET_KEY"`
	Endpoint      string `yaml:"endpoint" env:"ENDPOINT"`
	PathStyle     bool   `yaml:"path_style" env:"PATH_STYLE"`
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
}

// GeminiConfig holds classifier configuration
type GeminiConfig struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ChallengeConfig holds the reminder cadence
type ChallengeConfig struct {
	DeadlineMinutes  int           `yaml:"deadline_minutes" env:"DEADLINE_MINUTES"`
	ReminderInterval time.Duration `yaml:"reminder_interval" env:"REMINDER_INTERVAL"`
	IssueInterval    time.Duration `yaml:"issue_interval" env:"ISSUE_INTERVAL"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	Gestures         []string      `yaml:"gestures" env:"GESTURES" envSeparator:","`
}

// RedisConfig enables the per-user lock when URL is set
type RedisConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	Password string        `yaml:"password" env:"PASSWORD"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	LockWait time.Duration `yaml:"lock_wait" env:"LOCK_WAIT"`
}

// NATSConfig enables domain event publishing when URL is set
type NATSConfig struct {
	URL           string `yaml:"url" env:"URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret" env:"SECRET"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// DefaultGestures is the fixed gesture set challenges pick from
var DefaultGestures = []string{
	"✌️", "👍", "👆", "👌", "🤙",
	"raise the bottle with your left hand",
	"show three fingers",
	"peace sign",
}

// Default returns the configuration used for values missing from file and environment
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", DBName: "drinkcheck", SSLMode: "disable"},
		S3:       S3Config{Region: "us-east-1", Prefix: "photos/"},
		Gemini:   GeminiConfig{Model: "gemini-1.5-flash", Timeout: 20 * time.Second},
		Challenge: ChallengeConfig{
			DeadlineMinutes:  20,
			ReminderInterval: 5 * time.Minute,
			IssueInterval:    2 * time.Hour,
			SweepInterval:    time.Minute,
			Gestures:         append([]string(nil), DefaultGestures...),
		},
		Redis: RedisConfig{LockTTL: time.Minute, LockWait: 5 * time.Second},
		NATS:  NATSConfig{SubjectPrefix: "drinkcheck"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads .env, then the YAML file at path (if present), then environment overrides
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

// Validate reports the settings the bot cannot start without
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("telegram.bot_token is required"))
	}
	if c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3.bucket is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Challenge.DeadlineMinutes <= 0 {
		errs = append(errs, errors.New("challenge.deadline_minutes must be positive"))
	}
	if c.Challenge.ReminderInterval <= 0 || c.Challenge.IssueInterval <= 0 || c.Challenge.SweepInterval <= 0 {
		errs = append(errs, errors.New("challenge intervals must be positive"))
	}
	if len(c.Challenge.Gestures) == 0 {
		errs = append(errs, errors.New("challenge.gestures must not be empty"))
	}
	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
