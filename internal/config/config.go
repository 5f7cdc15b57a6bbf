package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	DB struct {
		DSN string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	API struct {
		Port     string
		BasePath string
	}
	Telegram struct {
		BotToken      string
		RatePerSecond int
	}
	Twilio struct {
		AccountSID string
		AuthToken  string
		FromNumber string
		VoiceURL   string // TwiML prompt endpoint for interactive calls
	}
	TTS struct {
		URL string
	}
	Clinic struct {
		WebhookURL string
	}
	Queue struct {
		Backend      string // "postgres" or "memory"
		PollInterval time.Duration
		BatchSize    int
	}
	Reminder struct {
		SnoozeMinutes int
	}
	Escalation struct {
		VoiceCallEnabled bool
	}
	Logging struct {
		Dir   string
		Level string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Kafka settings
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Outbound transports
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if r, err := strconv.Atoi(os.Getenv("TELEGRAM_RATE_PER_SECOND")); err == nil {
		cfg.Telegram.RatePerSecond = r
	}
	cfg.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.Twilio.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	cfg.Twilio.VoiceURL = os.Getenv("TWILIO_VOICE_URL")
	cfg.TTS.URL = os.Getenv("TTS_URL")
	cfg.Clinic.WebhookURL = os.Getenv("CLINIC_WEBHOOK_URL")

	// Queue settings
	cfg.Queue.Backend = os.Getenv("QUEUE_BACKEND")
	if ms, err := strconv.Atoi(os.Getenv("QUEUE_POLL_INTERVAL_MS")); err == nil {
		cfg.Queue.PollInterval = time.Duration(ms) * time.Millisecond
	}
	if bs, err := strconv.Atoi(os.Getenv("QUEUE_BATCH_SIZE")); err == nil {
		cfg.Queue.BatchSize = bs
	}

	// Reminder / escalation behaviour
	if m, err := strconv.Atoi(os.Getenv("SNOOZE_MINUTES")); err == nil {
		cfg.Reminder.SnoozeMinutes = m
	}
	cfg.Escalation.VoiceCallEnabled = os.Getenv("VOICE_CALL_ENABLED") == "true"

	// Logging
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Validate required settings
	missing := []string{}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.Telegram.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	// Apply defaults
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "medication_responses"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "reminder-service"
	}
	if cfg.Telegram.RatePerSecond == 0 {
		cfg.Telegram.RatePerSecond = 20
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "postgres"
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = time.Second
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 20
	}
	if cfg.Reminder.SnoozeMinutes == 0 {
		cfg.Reminder.SnoozeMinutes = 15
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return cfg, nil
}
