package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/simsarhq/simsar/internal/bus"
	"github.com/simsarhq/simsar/internal/channels"
	"github.com/simsarhq/simsar/internal/channels/whatsapp"
	"github.com/simsarhq/simsar/internal/config"
	"github.com/simsarhq/simsar/internal/dispatcher"
	"github.com/simsarhq/simsar/internal/escalation"
	"github.com/simsarhq/simsar/internal/intent"
	"github.com/simsarhq/simsar/internal/leads"
	"github.com/simsarhq/simsar/internal/llm"
	"github.com/simsarhq/simsar/internal/queue"
	"github.com/simsarhq/simsar/internal/rag"
	"github.com/simsarhq/simsar/internal/ratelimit"
	"github.com/simsarhq/simsar/internal/session"
	"github.com/simsarhq/simsar/internal/store/pg"
	"github.com/simsarhq/simsar/internal/sweeper"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the message-processing worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	stores, db, err := pg.NewPGStores(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	sessions := session.NewStore(rdb, cfg.SessionTimeout, cfg.MaxMessageHistory)

	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	})

	embedder, err := rag.NewEmbedder(rag.EmbedderConfig{
		APIKey:     cfg.LLMAPIKey,
		BaseURL:    cfg.LLMBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	vectors, err := rag.NewVectorStore(rag.StoreConfig{PersistPath: cfg.VectorPersistPath})
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	retriever := rag.NewRetriever(rag.RetrieverConfig{}, embedder, vectors)

	q := queue.New(rdb)
	enqueue := func(ctx context.Context, msg bus.ParsedMessage) {
		if err := q.Enqueue(ctx, msg); err != nil {
			if errors.Is(err, queue.ErrDuplicate) {
				slog.Debug("duplicate message dropped", "messageId", msg.MessageID)
				return
			}
			slog.Error("enqueue failed", "messageId", msg.MessageID, "error", err)
		}
	}

	gateway, listener, err := buildGateway(cfg, enqueue)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(rdb, cfg.MaxPerSecond, cfg.MaxPerMinute, cfg.MaxPerHour)
	sender := channels.NewSender(gateway, limiter)

	extractor := intent.NewExtractor(client, cfg.LLMModel)
	detector := escalation.NewDetector(client)
	handoff := escalation.NewHandoff(sessions, stores, client, sender, nil, escalation.LoggedSMSSender{})
	leadRoute := leads.NewRouter(stores, sender, nil)

	disp := dispatcher.New(sessions, stores, client, extractor, retriever,
		detector, handoff, leadRoute, sender)

	workers := queue.NewWorkers(q, queue.WorkerConfig{
		Concurrency:  cfg.QueueConcurrency,
		JobsPerSec:   cfg.JobRatePerSecond,
		JobTimeout:   cfg.JobTimeout,
		LockDuration: cfg.LockDuration,
	}, disp.HandleJob)

	if listener != nil {
		if err := listener.Start(ctx); err != nil {
			return fmt.Errorf("start gateway listener: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = listener.Stop(shutdownCtx)
		}()
	}

	sweep := sweeper.New(sessions, cfg.IdleCheckInterval)
	go sweep.Run(ctx)
	go logQueueStats(ctx, q)

	slog.Info("worker started",
		"concurrency", cfg.QueueConcurrency,
		"gateway", cfg.WhatsAppGateway,
		"model", cfg.LLMModel)

	workers.Run(ctx)
	slog.Info("worker stopped")
	return nil
}

func buildGateway(cfg *config.Config, inbound channels.InboundHandler) (channels.Gateway, channels.Listener, error) {
	switch cfg.WhatsAppGateway {
	case "bridge":
		bridge, err := whatsapp.NewBridgeGateway(cfg.WhatsAppBridgeURL, cfg.DefaultAgentID, inbound)
		if err != nil {
			return nil, nil, fmt.Errorf("create bridge gateway: %w", err)
		}
		return bridge, bridge, nil
	default:
		cloud, err := whatsapp.NewCloudGateway(whatsapp.CloudConfig{
			Token:   cfg.WhatsAppToken,
			PhoneID: cfg.WhatsAppPhoneID,
			APIBase: cfg.WhatsAppAPIBase,
			Timeout: cfg.OutboundHTTPTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create cloud gateway: %w", err)
		}
		return cloud, nil, nil
	}
}

func logQueueStats(ctx context.Context, q *queue.Queue) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stats, err := q.Stats(ctx)
			if err != nil {
				slog.Warn("queue stats failed", "error", err)
				continue
			}
			slog.Info("queue depth",
				"waiting", stats.Waiting,
				"delayed", stats.Delayed,
				"processing", stats.Processing,
				"dead", stats.Dead)
		}
	}
}
