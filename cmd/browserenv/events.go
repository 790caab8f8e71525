package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/maltedev/browserenv/internal/envconfig"
	"github.com/maltedev/browserenv/internal/events"
)

func newEventsCmd(a *app) *cobra.Command {
	var group, consumer string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow relayed browser session events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := envconfig.LoadReporting(a.env)
			if err != nil {
				return err
			}

			client := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer client.Close()

			ctx := cmd.Context()
			if err := client.Ping(ctx).Err(); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			c := events.NewConsumer(client, events.ConsumerConfig{
				Stream:   cfg.Stream,
				Group:    group,
				Consumer: consumer,
			}, func(_ context.Context, p *events.SessionEventPayload) error {
				return enc.Encode(p)
			}, a.logger)

			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	hostname, _ := os.Hostname()
	cmd.Flags().StringVar(&group, "group", "browserenv-cli", "consumer group")
	cmd.Flags().StringVar(&consumer, "consumer", hostname, "consumer name within the group")
	return cmd
}
