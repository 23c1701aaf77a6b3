package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken           string
	TelegramWebhookURL string

	DatabaseDriver string
	MySQLDSN       string
	SQLitePath     string

	ImageProvider  string
	KIEAPIKey      string
	KIEBaseURL     string
	KIEModel       string
	KIEAspectRatio string
	KIEResolution  string
	KIEPollEvery   time.Duration
	KIEPollMax     int
	GeminiAPIKey   string
	GeminiModel    string
	PromptPrefix   string
	RequestTimeout time.Duration

	StorageProvider string
	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
	DriveFolderID   string
	GoogleCredsFile string

	StripeAPIKey        string
	StripeWebhookSecret string
	PaymentCurrency     string
	PaymentPrice        int
	PaymentCredits      int
	PaymentProductName  string
	PaymentSuccessURL   string
	PaymentCancelURL    string

	AffirmativeToken string
	NegativeToken    string

	RetryMaxAttempts int
	RetryDelay       time.Duration
	RetryBackoff     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	HTTPListenAddr string
	AdminUsername  string
	AdminPassword  string
	LogLevel       string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		BotToken:            os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL:  getEnv("TELEGRAM_WEBHOOK_URL", ""),
		DatabaseDriver:      strings.ToLower(getEnv("DATABASE_DRIVER", "mysql")),
		MySQLDSN:            os.Getenv("MYSQL_DSN"),
		SQLitePath:          getEnv("SQLITE_PATH", "bot.db"),
		ImageProvider:       strings.ToLower(getEnv("IMAGE_PROVIDER", "kie")),
		KIEAPIKey:           os.Getenv("KIE_API_KEY"),
		KIEBaseURL:          normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:            getEnv("KIE_MODEL", "nano-banana-pro"),
		KIEAspectRatio:      getEnv("KIE_ASPECT_RATIO", "16:9"),
		KIEResolution:       getEnv("KIE_RESOLUTION", "4K"),
		KIEPollEvery:        time.Second * time.Duration(getInt("KIE_POLL_INTERVAL_SECONDS", 2)),
		KIEPollMax:          getInt("KIE_POLL_MAX_ATTEMPTS", 90),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-3-pro-image-preview"),
		PromptPrefix:        getEnv("PROMPT_PREFIX", "高品質なYouTubeサムネイル, 8K, 鮮やかな色: "),
		RequestTimeout:      time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		StorageProvider:     strings.ToLower(getEnv("STORAGE_PROVIDER", "s3")),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "thumbnails"),
		DriveFolderID:       os.Getenv("DRIVE_FOLDER_ID"),
		GoogleCredsFile:     os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PaymentCurrency:     strings.ToLower(getEnv("PAYMENT_CURRENCY", "jpy")),
		PaymentPrice:        getInt("PAYMENT_PRICE", 980),
		PaymentCredits:      getInt("PAYMENT_CREDITS", 10),
		PaymentProductName:  getEnv("PAYMENT_PRODUCT_NAME", "サムネイル生成クレジット (10回分)"),
		PaymentSuccessURL:   getEnv("PAYMENT_SUCCESS_URL", "http://localhost:8080/success"),
		PaymentCancelURL:    getEnv("PAYMENT_CANCEL_URL", "http://localhost:8080/cancel"),
		AffirmativeToken:    getEnv("AFFIRMATIVE_TOKEN", "はい"),
		NegativeToken:       getEnv("NEGATIVE_TOKEN", "いいえ"),
		RetryMaxAttempts:    getInt("RETRY_MAX_ATTEMPTS", 3),
		RetryDelay:          time.Millisecond * time.Duration(getInt("RETRY_DELAY_MS", 1000)),
		RetryBackoff:        getBool("RETRY_BACKOFF", true),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getInt("REDIS_DB", 0),
		LockTTL:             time.Second * time.Duration(getInt("LOCK_TTL_SECONDS", 600)),
		KafkaBrokers:        getList("KAFKA_BROKERS"),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "thumbnailbot.events"),
		HTTPListenAddr:      getEnv("HTTP_LISTEN_ADDR", ":8080"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	require := func(value, key string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	require(c.BotToken, "TELEGRAM_BOT_TOKEN")
	require(c.StripeAPIKey, "STRIPE_API_KEY")
	require(c.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")

	switch c.DatabaseDriver {
	case "mysql":
		require(c.MySQLDSN, "MYSQL_DSN")
	case "sqlite":
		require(c.SQLitePath, "SQLITE_PATH")
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER: %s", c.DatabaseDriver)
	}

	switch c.ImageProvider {
	case "kie":
		require(c.KIEAPIKey, "KIE_API_KEY")
	case "gemini":
		require(c.GeminiAPIKey, "GEMINI_API_KEY")
	default:
		return fmt.Errorf("unsupported IMAGE_PROVIDER: %s", c.ImageProvider)
	}

	switch c.StorageProvider {
	case "s3":
		require(c.S3Region, "S3_REGION")
		require(c.S3AccessKey, "S3_ACCESS_KEY")
		require(c.S3SecretKey, "S3_SECRET_KEY")
		require(c.S3Bucket, "S3_BUCKET")
		require(c.S3PublicBaseURL, "S3_PUBLIC_BASE_URL")
	case "drive":
		require(c.DriveFolderID, "DRIVE_FOLDER_ID")
		require(c.GoogleCredsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	default:
		return fmt.Errorf("unsupported STORAGE_PROVIDER: %s", c.StorageProvider)
	}

	if c.AffirmativeToken == c.NegativeToken {
		return fmt.Errorf("AFFIRMATIVE_TOKEN and NEGATIVE_TOKEN must differ")
	}
	if c.PaymentCredits <= 0 || c.PaymentPrice <= 0 {
		return fmt.Errorf("PAYMENT_PRICE and PAYMENT_CREDITS must be positive")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// normalizeKIEBaseURL ensures we always hit the documented API host. The root kie.ai
// domain serves HTML instead of JSON.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadEnvFile applies the first env file found. Running without one is fine,
// the process environment is used as is.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
