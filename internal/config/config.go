package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"waba-gateway/pkg/logx"
)

type Config struct {
	Port string

	// Graph API
	GraphBaseURL              string
	GraphAPIVersion           string
	WhatsAppToken             string
	PhoneNumberID             string
	WhatsAppBusinessAccountID string
	HTTPTimeout               time.Duration

	// Webhook
	VerifyToken      string
	AppSecret        string
	AutoReadReceipts bool

	// Conversation window
	WindowDuration time.Duration

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Campaign queue (optional; empty URL means inline dispatch)
	RMQURL   string
	RMQQueue string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logx.L().Warn("no .env file loaded")
	}

	return &Config{
		Port: getEnv("PORT", "8080"),

		GraphBaseURL:              getEnv("GRAPH_BASE_URL", "https://graph.facebook.com"),
		GraphAPIVersion:           getEnv("GRAPH_API_VERSION", "v19.0"),
		WhatsAppToken:             getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:             getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppBusinessAccountID: getEnv("WABA_ID", ""),
		HTTPTimeout:               getDuration("HTTP_TIMEOUT", 30*time.Second),

		VerifyToken:      getEnv("VERIFY_TOKEN", ""),
		AppSecret:        getEnv("APP_SECRET", ""),
		AutoReadReceipts: getBool("AUTO_READ_RECEIPTS", false),

		WindowDuration: getDuration("WINDOW_DURATION", 24*time.Hour),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "waba_gateway"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RMQURL:   getEnv("RMQ_URL", ""),
		RMQQueue: getEnv("RMQ_QUEUE", "campaign_jobs"),
	}
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
