package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	App struct {
		BaseURL       string `yaml:"base_url"`
		JWTSigningKey string `yaml:"jwt_signing_key"`
	} `yaml:"app"`
	Pesapal struct {
		ConsumerKey    string `yaml:"consumer_key"`
		ConsumerSecret string `yaml:"consumer_secret"`
		NotificationID string `yaml:"notification_id"`
		Sandbox        bool   `yaml:"sandbox"`
		// Escape hatch for the legacy sandbox; verification stays on by default.
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		Currency           string `yaml:"currency"`
	} `yaml:"pesapal"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`
	Reminders struct {
		SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
		RepeatShortMinutes   int `yaml:"repeat_short_minutes"`
		RepeatLongHours      int `yaml:"repeat_long_hours"`
	} `yaml:"reminders"`
}

func LoadConfig() Config {
	var cfg Config

	path := getenv("CONFIG_PATH", "config/config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		log.Fatalf("Failed to unmarshal config data: %v", err)
	}
	cfg.applyEnv()
	return cfg
}

// applyEnv lets secrets and deploy-specific values override the YAML file.
func (cfg *Config) applyEnv() {
	cfg.Database.URL = getenv("DATABASE_URL", cfg.Database.URL)
	cfg.Redis.Addr = getenv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.App.BaseURL = getenv("APP_BASE_URL", cfg.App.BaseURL)
	cfg.App.JWTSigningKey = getenv("JWT_SIGNING_KEY", cfg.App.JWTSigningKey)
	cfg.Pesapal.ConsumerKey = getenv("PESAPAL_CONSUMER_KEY", cfg.Pesapal.ConsumerKey)
	cfg.Pesapal.ConsumerSecret = getenv("PESAPAL_CONSUMER_SECRET", cfg.Pesapal.ConsumerSecret)
	cfg.Pesapal.NotificationID = getenv("PESAPAL_NOTIFICATION_ID", cfg.Pesapal.NotificationID)
	if v := os.Getenv("PESAPAL_SANDBOX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pesapal.Sandbox = b
		}
	}
	cfg.SMTP.Host = getenv("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = getenv("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = getenv("SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = getenv("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = getenv("SMTP_FROM", cfg.SMTP.From)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
