package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port                             string `mapstructure:"PORT"`
	GinMode                          string `mapstructure:"GIN_MODE"`
	AppEnv                           string `mapstructure:"APP_ENV"`
	FirebaseProjectID                string `mapstructure:"FIREBASE_PROJECT_ID"`
	GoogleApplicationCredentials     string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirebaseServiceAccountJSONBase64 string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64"`
	StripeSecretKey                  string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret              string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	ClientURL                        string `mapstructure:"CLIENT_URL"`

	// Plan catalog. Price and product ids differ between Stripe test and live mode,
	// so they are always supplied per environment.
	PlanName            string `mapstructure:"PLAN_NAME"`
	StripeProductID     string `mapstructure:"STRIPE_PRODUCT_ID"`
	StripeMonthlyPrice  string `mapstructure:"STRIPE_MONTHLY_PRICE_ID"`
	StripeAnnualPrice   string `mapstructure:"STRIPE_ANNUAL_PRICE_ID"`
	DefaultTrialDays    int    `mapstructure:"DEFAULT_TRIAL_DAYS"`
	ExtendedTrialDays   int    `mapstructure:"EXTENDED_TRIAL_DAYS"`
	StorageLimitBytes   int64  `mapstructure:"STORAGE_LIMIT_BYTES"`
	MaxUploadBytes      int64  `mapstructure:"MAX_UPLOAD_BYTES"`
	WebhookEventTTLDays int    `mapstructure:"WEBHOOK_EVENT_TTL_DAYS"`

	R2Endpoint        string        `mapstructure:"R2_ENDPOINT"`
	R2AccessKeyID     string        `mapstructure:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string        `mapstructure:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string        `mapstructure:"R2_BUCKET_NAME"`
	R2PresignTTL      time.Duration `mapstructure:"R2_PRESIGN_TTL"`

	CloudinaryURL       string `mapstructure:"CLOUDINARY_URL"`
	CloudinaryCloudName string `mapstructure:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `mapstructure:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `mapstructure:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder    string `mapstructure:"CLOUDINARY_FOLDER"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	MailQueueName string `mapstructure:"MAIL_QUEUE_NAME"`
	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      string `mapstructure:"SMTP_PORT"`
	SMTPUser      string `mapstructure:"SMTP_USER"`
	SMTPPass      string `mapstructure:"SMTP_PASS"`
	MailFrom      string `mapstructure:"MAIL_FROM"`

	DueDateCronSpec string `mapstructure:"DUE_DATE_CRON"`

	// ExternalCallTimeout bounds every call to Firestore, Stripe and object storage.
	ExternalCallTimeout time.Duration `mapstructure:"EXTERNAL_CALL_TIMEOUT"`
}

var envKeys = []string{
	"PORT", "GIN_MODE", "APP_ENV",
	"FIREBASE_PROJECT_ID", "GOOGLE_APPLICATION_CREDENTIALS", "FIREBASE_SERVICE_ACCOUNT_JSON_BASE64",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "CLIENT_URL",
	"PLAN_NAME", "STRIPE_PRODUCT_ID", "STRIPE_MONTHLY_PRICE_ID", "STRIPE_ANNUAL_PRICE_ID",
	"DEFAULT_TRIAL_DAYS", "EXTENDED_TRIAL_DAYS", "STORAGE_LIMIT_BYTES", "MAX_UPLOAD_BYTES",
	"WEBHOOK_EVENT_TTL_DAYS",
	"R2_ENDPOINT", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_PRESIGN_TTL",
	"CLOUDINARY_URL", "CLOUDINARY_CLOUD_NAME", "CLOUDINARY_API_KEY", "CLOUDINARY_API_SECRET", "CLOUDINARY_FOLDER",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"RABBITMQ_URL", "MAIL_QUEUE_NAME", "SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "MAIL_FROM",
	"DUE_DATE_CRON", "EXTERNAL_CALL_TIMEOUT",
}

// LoadConfig loads configuration from environment variables using Viper.
// A .env file in the working directory is honoured outside production.
func LoadConfig() (*Config, error) {
	v := viper.New()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "production") {
		// Missing .env is normal in containers.
		_ = godotenv.Load()
	}
	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PLAN_NAME", "Adamantium")
	v.SetDefault("DEFAULT_TRIAL_DAYS", 7)
	v.SetDefault("EXTENDED_TRIAL_DAYS", 14)
	v.SetDefault("STORAGE_LIMIT_BYTES", int64(10)<<30)
	v.SetDefault("MAX_UPLOAD_BYTES", int64(10)<<20)
	v.SetDefault("WEBHOOK_EVENT_TTL_DAYS", 30)
	v.SetDefault("R2_BUCKET_NAME", "client-documents")
	v.SetDefault("R2_PRESIGN_TTL", 7*24*time.Hour)
	v.SetDefault("CLOUDINARY_FOLDER", "client_documents")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("MAIL_QUEUE_NAME", "mail.outbound")
	v.SetDefault("SMTP_PORT", "587")
	v.SetDefault("DUE_DATE_CRON", "0 8 * * *")
	v.SetDefault("EXTERNAL_CALL_TIMEOUT", 5*time.Second)

	// Bind environment variables
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	if c.FirebaseProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID is required")
	}
	if c.StripeSecretKey == "" {
		return errors.New("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.StripeMonthlyPrice == "" || c.StripeAnnualPrice == "" {
		return errors.New("STRIPE_MONTHLY_PRICE_ID and STRIPE_ANNUAL_PRICE_ID are required")
	}
	if c.ClientURL == "" {
		return errors.New("CLIENT_URL is required")
	}
	if c.R2Endpoint == "" || c.R2AccessKeyID == "" || c.R2SecretAccessKey == "" {
		return errors.New("R2_ENDPOINT, R2_ACCESS_KEY_ID and R2_SECRET_ACCESS_KEY are required")
	}
	if c.CloudinaryURL == "" && c.CloudinaryCloudName == "" {
		return errors.New("either CLOUDINARY_URL or CLOUDINARY_CLOUD_NAME is required")
	}
	if c.StorageLimitBytes <= 0 {
		return errors.New("STORAGE_LIMIT_BYTES must be positive")
	}
	if c.ExternalCallTimeout <= 0 {
		return errors.New("EXTERNAL_CALL_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}
