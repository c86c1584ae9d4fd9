// Command campaign-worker drains the campaign dispatch queue and sends one
// templated message per job. Run it alongside the server when RMQ_URL is
// set; the server publishes jobs instead of dispatching inline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"waba-gateway/internal/campaign"
	"waba-gateway/internal/config"
	"waba-gateway/internal/conversation"
	"waba-gateway/internal/database"
	"waba-gateway/internal/dispatch"
	"waba-gateway/internal/graph"
	"waba-gateway/pkg/logx"
	"waba-gateway/pkg/rmq"
)

func main() {
	logx.Init()
	defer logx.Sync()
	log := logx.Named("campaign-worker")

	cfg := config.LoadConfig()
	if cfg.RMQURL == "" {
		log.Fatalw("RMQ_URL is required for the worker")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalw("database connection failed", "err", err)
	}

	graphClient := graph.NewClient(graph.Config{
		BaseURL:           cfg.GraphBaseURL,
		APIVersion:        cfg.GraphAPIVersion,
		AccessToken:       cfg.WhatsAppToken,
		PhoneNumberID:     cfg.PhoneNumberID,
		BusinessAccountID: cfg.WhatsAppBusinessAccountID,
		Timeout:           cfg.HTTPTimeout,
	})
	tracker := conversation.NewTracker(db, cfg.WindowDuration)
	dispatcher := dispatch.NewDispatcher(db, graphClient, tracker)
	runner := campaign.NewRunner(db, dispatcher, nil, nil)

	consumer, err := rmq.NewConsumer(cfg.RMQURL, cfg.RMQQueue)
	if err != nil {
		log.Fatalw("rabbitmq connection failed", "err", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume()
	if err != nil {
		log.Fatalw("consume failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("worker started", "queue", cfg.RMQQueue)
	for {
		select {
		case <-ctx.Done():
			log.Infow("worker stopping")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warnw("delivery channel closed")
				return
			}

			var job campaign.DispatchJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				log.Errorw("malformed job dropped", "err", err)
				d.Nack(false, false)
				continue
			}

			err := runner.ProcessJob(ctx, job)
			switch {
			case errors.Is(err, campaign.ErrPaused):
				// Requeue so the job runs once the campaign resumes.
				d.Nack(false, true)
			case err != nil:
				log.Errorw("job failed", "job", job.JobID, "campaign", job.CampaignID, "err", err)
				d.Nack(false, false)
			default:
				d.Ack(false)
			}
		}
	}
}
