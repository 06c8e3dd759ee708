package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Cloudinary CloudinaryConfig
	Payment    PaymentConfig
	Daraja     DarajaConfig
	Paystack   PaystackConfig
	Kafka      KafkaConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	Issuer       string
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

type PaymentConfig struct {
	// DefaultProvider selects the gateway when the caller does not:
	// "daraja", "paystack" or "stub".
	DefaultProvider string
	BusinessName    string
}

// DarajaConfig for Safaricom STK push. Sandbox defaults; production values
// come from the environment.
type DarajaConfig struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	PassKey          string
	CallbackURL      string
	AccountReference string
}

type PaystackConfig struct {
	BaseURL    string
	SecretKey  string
	PayerEmail string
}

type KafkaConfig struct {
	Brokers []string // empty disables publishing
	Topic   string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 40 * time.Second,
			CORSOrigins:  splitEnv("CORS_ORIGINS", "https://sibolifesciences.com"),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", "sibo:sibo@tcp(localhost:3306)/sibostore?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			Issuer:       getEnv("JWT_ISSUER", "sibostore"),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    getEnv("CLOUDINARY_API_KEY", ""),
			APISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		},
		Payment: PaymentConfig{
			DefaultProvider: getEnv("PAYMENT_PROVIDER", "daraja"),
			BusinessName:    getEnv("BUSINESS_NAME", "SIBO LIFE SCIENCES"),
		},
		Daraja: DarajaConfig{
			BaseURL:          getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:      getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:   getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:        getEnv("MPESA_SHORT_CODE", "174379"),
			PassKey:          getEnv("MPESA_PASS_KEY", ""),
			CallbackURL:      getEnv("MPESA_CALLBACK_URL", "https://sibolifesciences.com/api/mpesa/callback"),
			AccountReference: getEnv("MPESA_ACCOUNT_REFERENCE", "SIBO-LIFE"),
		},
		Paystack: PaystackConfig{
			BaseURL:    getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			SecretKey:  getEnv("PAYSTACK_SECRET_KEY", ""),
			PayerEmail: getEnv("PAYSTACK_PAYER_EMAIL", "checkout@sibolifesciences.com"),
		},
		Kafka: KafkaConfig{
			Brokers: splitEnv("KAFKA_BROKERS", ""),
			Topic:   getEnv("KAFKA_PAYMENT_TOPIC", "payment-events"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitEnv(key, fallback string) []string {
	raw := getEnv(key, fallback)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
