package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/simsarhq/simsar/internal/config"
	"github.com/simsarhq/simsar/internal/queue"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and administer the message queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q *queue.Queue) error {
				stats, err := q.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("waiting=%d delayed=%d processing=%d dead=%d\n",
					stats.Waiting, stats.Delayed, stats.Processing, stats.Dead)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dead",
		Short: "List jobs in the dead-letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q *queue.Queue) error {
				jobs, err := q.DeadJobs(ctx, 50)
				if err != nil {
					return err
				}
				for _, j := range jobs {
					fmt.Printf("%s  from=%s attempts=%d error=%s\n",
						j.ID, j.Message.From, j.Attempts, j.LastError)
				}
				if len(jobs) == 0 {
					fmt.Println("dead-letter queue is empty")
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a dead job for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q *queue.Queue) error {
				if err := q.RetryFromDLQ(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("job %s requeued\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withQueue(ctx context.Context, fn func(context.Context, *queue.Queue) error) error {
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
	return fn(ctx, queue.New(rdb))
}
