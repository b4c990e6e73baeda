/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jjudge-oj/mediastore/config"
	"github.com/jjudge-oj/mediastore/internal/logging"
	"github.com/jjudge-oj/mediastore/internal/mq"
)

var watchTypes []string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect media events",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to the media event channel and log each event",
	Long: `Subscribe to the channel configured by MQ_CHANNEL and log every media
event until interrupted. Usage:

	mediastore events watch --type media.stored
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		events, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if events == nil {
			return errors.New("MQ_BACKEND is not set")
		}
		defer events.Close()

		log := logging.L().Named("events")
		log.Info("watching", zap.String("channel", events.Channel()), zap.Strings("types", watchTypes))

		err = events.SubscribeEvents(ctx, func(ctx context.Context, event mq.MediaEvent) error {
			if len(watchTypes) > 0 && !slices.Contains(watchTypes, event.Type) {
				return nil
			}
			log.Info("media event",
				zap.String("type", event.Type),
				zap.Int64("id", event.ID),
				zap.String("name", event.Name),
				zap.String("path", event.Path),
				zap.Int64("size", event.Size),
				zap.String("bucket", event.Bucket),
				zap.Time("at", event.At))
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("subscribe: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)

	eventsWatchCmd.Flags().StringSliceVar(&watchTypes, "type", nil, "only log events of these types")
}
