package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CategoryConfig mirrors one entry of the categories/heuristics list: a
// classification outcome, the mail label it maps to, the provider-side
// categories it carries, and whether it marks a message important.
type CategoryConfig struct {
	Content            string   `yaml:"content"`
	MailLabel          string   `yaml:"mail_label"`
	ProviderCategories []string `yaml:"provider_categories"`
	Important          bool     `yaml:"important"`
}

type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Dev struct {
		Mode bool `yaml:"mode"`
	} `yaml:"dev"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Crypto struct {
		KeyBase64 string `yaml:"key_base64"`
	} `yaml:"crypto"`
	Auth struct {
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
		Secret   string `yaml:"secret"`
	} `yaml:"auth"`
	Redis struct {
		URL        string        `yaml:"url"`
		SessionTTL time.Duration `yaml:"session_ttl"`
		GCInterval time.Duration `yaml:"gc_interval"`
	} `yaml:"redis"`
	OAuth struct {
		TokenURL     string `yaml:"token_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"oauth"`
	MailProvider struct {
		BaseURL         string  `yaml:"base_url"`
		RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	} `yaml:"mail_provider"`
	Classifier struct {
		BaseURL                 string        `yaml:"base_url"`
		APIKey                  string        `yaml:"api_key"`
		ModelID                 string        `yaml:"model_id"`
		Temperature             float64       `yaml:"temperature"`
		ConfidenceThresh        float32       `yaml:"confidence_threshold"`
		RateLimitPerMin         float64       `yaml:"rate_limit_per_min"`
		RefillInterval          time.Duration `yaml:"refill_interval"`
		RefillAmount            float64       `yaml:"refill_amount"`
		EstimatedTokensPerEmail int64         `yaml:"estimated_tokens_per_email"`
	} `yaml:"classifier"`
	Quota struct {
		DailyUserQuota int64 `yaml:"daily_user_quota"`
	} `yaml:"quota"`
	Settings struct {
		TrainingMode    bool  `yaml:"training_mode"`
		EmailMaxAgeDays int64 `yaml:"email_max_age_days"`
	} `yaml:"settings"`
	Rules struct {
		DefaultPath string `yaml:"default_path"`
	} `yaml:"rules"`
	Categories []CategoryConfig `yaml:"categories"`
	Heuristics []CategoryConfig `yaml:"heuristics"`
	Log        struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8088"
	cfg.Dev.Mode = true
	cfg.Redis.SessionTTL = 10 * time.Minute
	cfg.Redis.GCInterval = time.Minute
	cfg.MailProvider.RateLimitPerSec = 5
	cfg.Classifier.Temperature = 0.2
	cfg.Classifier.ConfidenceThresh = 0.65
	cfg.Classifier.RateLimitPerMin = 60
	cfg.Classifier.RefillInterval = time.Minute
	cfg.Classifier.RefillAmount = 60
	cfg.Classifier.EstimatedTokensPerEmail = 900
	cfg.Quota.DailyUserQuota = 50000
	cfg.Settings.EmailMaxAgeDays = 14
	cfg.Rules.DefaultPath = "configs/rules/default.yaml"
	cfg.Log.Level = "info"
	return cfg
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)

	if cfg.Database.DSN == "" {
		return cfg, errors.New("missing database.dsn (or DATABASE_URL)")
	}
	if cfg.Crypto.KeyBase64 == "" {
		return cfg, errors.New("missing crypto.key_base64 (or SERVICE_ENCRYPT_KEY)")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SERVICE_ENCRYPT_KEY"); v != "" {
		cfg.Crypto.KeyBase64 = v
	}
	if v := os.Getenv("MC_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("MC_DEV_MODE"); v != "" {
		cfg.Dev.Mode = parseBool(v, cfg.Dev.Mode)
	}
	if v := os.Getenv("MC_AUTH_ISSUER"); v != "" {
		cfg.Auth.Issuer = v
	}
	if v := os.Getenv("MC_AUTH_AUDIENCE"); v != "" {
		cfg.Auth.Audience = v
	}
	if v := os.Getenv("MC_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("MC_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("MC_REDIS_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.SessionTTL = d
		}
	}
	if v := os.Getenv("MC_OAUTH_TOKEN_URL"); v != "" {
		cfg.OAuth.TokenURL = v
	}
	if v := os.Getenv("MC_OAUTH_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("MC_OAUTH_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("MC_MAIL_PROVIDER_BASE_URL"); v != "" {
		cfg.MailProvider.BaseURL = v
	}
	if v := os.Getenv("MC_MAIL_PROVIDER_RATE_LIMIT_PER_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MailProvider.RateLimitPerSec = f
		}
	}
	if v := os.Getenv("MC_CLASSIFIER_BASE_URL"); v != "" {
		cfg.Classifier.BaseURL = v
	}
	if v := os.Getenv("MC_CLASSIFIER_API_KEY"); v != "" {
		cfg.Classifier.APIKey = v
	}
	if v := os.Getenv("MC_CLASSIFIER_MODEL_ID"); v != "" {
		cfg.Classifier.ModelID = v
	}
	if v := os.Getenv("MC_CLASSIFIER_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Classifier.ConfidenceThresh = float32(f)
		}
	}
	if v := os.Getenv("MC_DAILY_USER_QUOTA"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quota.DailyUserQuota = n
		}
	}
	if v := os.Getenv("MC_TRAINING_MODE"); v != "" {
		cfg.Settings.TrainingMode = parseBool(v, cfg.Settings.TrainingMode)
	}
	if v := os.Getenv("MC_RULES_PATH"); v != "" {
		cfg.Rules.DefaultPath = v
	}
	if v := os.Getenv("MC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func parseBool(input string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
