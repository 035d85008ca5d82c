package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jordanhubbard/arcfork/internal/messagebus"
	"github.com/jordanhubbard/arcfork/pkg/messages"
)

func newEventsCommand() *cobra.Command {
	var (
		eventType string
		since     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream agent events from NATS as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			bus, err := messagebus.NewNatsMessageBus(busConfig(cfg.NATS), logger)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())
			write := func(event *messages.EventMessage) {
				mu.Lock()
				defer mu.Unlock()
				if err := enc.Encode(event); err != nil {
					logger.Warn("failed to write event", zap.Error(err))
				}
			}
			if since > 0 {
				err = bus.Replay(eventType, time.Now().Add(-since), write)
			} else {
				err = bus.SubscribeEvents(eventType, write)
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&eventType, "type", "t", ">", "Event type to follow, e.g. post.published; > follows all")
	cmd.Flags().DurationVar(&since, "since", 0, "Replay stored events from this far back before following, e.g. 2h")
	return cmd
}
