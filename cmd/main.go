package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"reminder-service/internal/api"
	"reminder-service/internal/config"
	"reminder-service/internal/db"
	"reminder-service/internal/escalation"
	"reminder-service/internal/kafka"
	"reminder-service/internal/logging"
	"reminder-service/internal/providers"
	"reminder-service/internal/push"
	"reminder-service/internal/queue"
	"reminder-service/internal/scheduler"
	"reminder-service/internal/workers"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database and ensure schema
	dbConn, err := db.New(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.Migrate(ctx); err != nil {
		log.Fatalf("Database migration failed: %v", err)
	}

	// Live dashboard push
	pushMgr := push.NewManager(logger)

	// Delayed job queues, one per kind
	reminderQ := newQueue(cfg, queue.KindReminder, dbConn, pushMgr, logger)
	escalationQ := newQueue(cfg, queue.KindEscalation, dbConn, pushMgr, logger)

	// Outbound transports
	transport := &providers.Transport{
		Telegram: providers.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.RatePerSecond, logger),
		Caller:   providers.NewTwilioCaller(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber),
	}
	tts := providers.NewTTSClient(cfg.TTS.URL)
	clinic := providers.NewClinicWebhook(cfg.Clinic.WebhookURL)

	// Domain services
	chain := escalation.New(dbConn, escalationQ, transport, tts, clinic,
		cfg.Escalation.VoiceCallEnabled, cfg.Twilio.VoiceURL, logger)
	sched := scheduler.New(dbConn, reminderQ, chain, cfg.Reminder.SnoozeMinutes, logger)

	// Queue workers
	workers.NewReminderWorker(dbConn, transport, chain, logger).Register(reminderQ)
	workers.NewEscalationWorker(chain, logger).Register(escalationQ)
	go reminderQ.Run(ctx)
	go escalationQ.Run(ctx)

	// Kafka response consumer
	consumer := kafka.NewConsumer(cfg.Kafka.Broker, cfg.Kafka.Topic, cfg.Kafka.GroupID, sched, logger)
	defer consumer.Close()
	go consumer.Run(ctx)

	// API server
	router := api.NewRouter(dbConn, sched, chain, pushMgr, logger, cfg)
	logger.Infof("Starting API server on %s", cfg.API.Port)
	if err := router.Run(cfg.API.Port); err != nil {
		logger.Errorf("API server failed: %v", err)
	}
}

// newQueue builds the configured queue backend for one job kind, with
// push events wired so dashboards see job outcomes live.
func newQueue(cfg config.Config, kind queue.Kind, dbConn *db.DB, pushMgr *push.Manager, logger *logging.Logger) queue.Queue {
	events := queue.Events{
		OnCompleted: func(job queue.Job) {
			eventType := "reminder_sent"
			if job.Kind == queue.KindEscalation {
				eventType = "escalation"
			}
			pushMgr.SendToPatient(job.PatientID, push.Event{
				Type:         eventType,
				OccurrenceID: job.OccurrenceID,
				MedicationID: job.MedicationID,
				Level:        job.Level,
				At:           time.Now(),
			})
		},
		OnFailed: func(job queue.Job, err error) {
			logger.Errorf("Job %s (%s) exhausted retries: %v", job.ID, job.Kind, err)
		},
	}

	if cfg.Queue.Backend == "memory" {
		return queue.NewMemory(logger, events)
	}
	return queue.NewPostgres(dbConn.Pool, kind, cfg.Queue.PollInterval, cfg.Queue.BatchSize, logger, events)
}
