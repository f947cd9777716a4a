package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	AWS       AWSConfig       `yaml:"aws"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Vision    VisionConfig    `yaml:"vision"`
	Storybook StorybookConfig `yaml:"storybook"`
	Usage     UsageConfig     `yaml:"usage"`
	APNs      APNsConfig      `yaml:"apns"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// PublicURL is the origin share links are built on.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// AWSConfig holds S3-compatible object storage configuration
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
	// PublicBaseURL overrides the URL objects are served from (CDN or bucket website).
	PublicBaseURL string `yaml:"public_base_url"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// OpenAIConfig holds text, image and speech model configuration
type OpenAIConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	TextModel   string        `yaml:"text_model"`
	ImageModel  string        `yaml:"image_model"`
	SpeechModel string        `yaml:"speech_model"`
	Voice       string        `yaml:"voice"`
	Timeout     time.Duration `yaml:"timeout"`
}

// VisionConfig holds face detection configuration
type VisionConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorybookConfig holds storybook generation configuration
type StorybookConfig struct {
	IllustrationInterval time.Duration `yaml:"illustration_interval"`
	PlaceholderImageURL  string        `yaml:"placeholder_image_url"`
	Narrate              bool          `yaml:"narrate"`
	// Timezone is the IANA zone whose calendar decides which month a record belongs to
	Timezone string `yaml:"timezone"`
}

// Location returns the storybook timezone, or UTC when it cannot be loaded
func (c StorybookConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UsageConfig holds AI request quotas
type UsageConfig struct {
	DailyLimit     int     `yaml:"daily_limit"`
	MonthlyLimit   int     `yaml:"monthly_limit"`
	CostPerRequest float64 `yaml:"cost_per_request"`
}

// APNsConfig holds push notification configuration. Push is disabled when KeyFile is empty.
type APNsConfig struct {
	KeyFile    string `yaml:"key_file"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// Load reads configuration from a YAML file, then applies .env and environment overrides.
// A missing file is not an error; defaults and the environment are used instead.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load()

	cfg.applyEnv()
	cfg.applyDefaults()

	if _, err := time.LoadLocation(cfg.Storybook.Timezone); err != nil {
		return nil, fmt.Errorf("invalid storybook timezone %q: %w", cfg.Storybook.Timezone, err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Vision.APIKey, "GOOGLE_VISION_API_KEY")
	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.Database.Host, "DATABASE_HOST")
	setString(&c.Database.Password, "DATABASE_PASSWORD")
	setString(&c.AWS.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&c.AWS.SecretKey, "AWS_SECRET_ACCESS_KEY")
	setString(&c.AWS.S3Bucket, "S3_BUCKET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Server.PublicURL, "PUBLIC_URL")
	if v, ok := os.LookupEnv("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Host, "0.0.0.0")
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	setDefault(&c.Server.PublicURL, "http://localhost:3000")

	setDefault(&c.Database.Host, "localhost")
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	setDefault(&c.Database.SSLMode, "disable")

	setDefault(&c.AWS.Region, "ap-northeast-1")

	setDefault(&c.Log.Level, "info")
	setDefault(&c.Log.Format, "console")

	setDefault(&c.OpenAI.TextModel, "gpt-4o-mini")
	setDefault(&c.OpenAI.ImageModel, "dall-e-3")
	setDefault(&c.OpenAI.SpeechModel, "tts-1")
	setDefault(&c.OpenAI.Voice, "nova")
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 60 * time.Second
	}

	setDefault(&c.Vision.BaseURL, "https://vision.googleapis.com/v1")
	if c.Vision.Timeout == 0 {
		c.Vision.Timeout = 30 * time.Second
	}

	if c.Storybook.IllustrationInterval == 0 {
		c.Storybook.IllustrationInterval = 2 * time.Second
	}
	setDefault(&c.Storybook.PlaceholderImageURL, "/images/storybook-placeholder.png")
	setDefault(&c.Storybook.Timezone, "Asia/Tokyo")

	if c.Usage.DailyLimit == 0 {
		c.Usage.DailyLimit = 20
	}
	if c.Usage.MonthlyLimit == 0 {
		c.Usage.MonthlyLimit = 300
	}
	if c.Usage.CostPerRequest == 0 {
		c.Usage.CostPerRequest = 0.002
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setDefault(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// MigrateURL returns the connection URL for golang-migrate's pgx/v5 driver
func (c *DatabaseConfig) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
