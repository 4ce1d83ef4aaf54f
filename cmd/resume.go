package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/simsarhq/simsar/internal/channels"
	"github.com/simsarhq/simsar/internal/config"
	"github.com/simsarhq/simsar/internal/escalation"
	"github.com/simsarhq/simsar/internal/llm"
	"github.com/simsarhq/simsar/internal/ratelimit"
	"github.com/simsarhq/simsar/internal/session"
	"github.com/simsarhq/simsar/internal/store/pg"
)

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <conversation-id>",
		Short: "Return an escalated conversation to AI control",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), args[0])
		},
	}
}

func runResume(ctx context.Context, conversationID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	stores, db, err := pg.NewPGStores(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	sessions := session.NewStore(rdb, cfg.SessionTimeout, cfg.MaxMessageHistory)
	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
	})

	gateway, _, err := buildGateway(cfg, nil)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(rdb, cfg.MaxPerSecond, cfg.MaxPerMinute, cfg.MaxPerHour)
	sender := channels.NewSender(gateway, limiter)

	handoff := escalation.NewHandoff(sessions, stores, client, sender, nil, nil)
	if err := handoff.ResumeAIControl(ctx, conversationID); err != nil {
		return err
	}
	fmt.Printf("conversation %s returned to AI control\n", conversationID)
	return nil
}
