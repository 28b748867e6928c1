package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/budget/messaging"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Start the outbox dispatcher",
	Long:  `Start the worker publishing committed events from the outbox to Azure Service Bus`,
	RunE:  runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := initServices()
	if err != nil {
		return err
	}

	bus, err := messaging.NewServiceBus(cfg.Azure)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := bus.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Failed to close Service Bus client")
		}
	}()

	if svc.nr != nil {
		defer svc.nr.Shutdown(10 * time.Second)
	}

	dispatcher := messaging.NewDispatcher(svc.db, bus, svc.nr, cfg.Outbox)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.EventsQueueName).Msg("Starting outbox dispatcher")
		return dispatcher.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Dispatcher error")
		return err
	}

	log.Info().Msg("Dispatcher shutting down gracefully")
	return nil
}
