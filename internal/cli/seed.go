package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veilstream/veilstream/internal/messaging"
	natsclient "github.com/veilstream/veilstream/internal/messaging/nats"
	"github.com/veilstream/veilstream/internal/seeder"
)

var (
	seedCount  int
	seedSpread time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish synthetic PII-bearing events to the live feed",
	Long: `Generate realistic events containing fake PII and publish them to
the event stream for development and load testing.

Examples:
  # 100 events timestamped now
  veilctl seed

  # 5000 events spread across the last 2 hours
  veilctl seed --count 5000 --spread 2h`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	client, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:  natsURL,
		Name: "veilctl-seed",
	})
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := client.CreateOrUpdateStream(ctx, natsclient.EventsStream); err != nil {
		return fmt.Errorf("ensure events stream: %w", err)
	}

	fmt.Printf("Publishing %s\n", seeder.Summary(seedCount, seedSpread))

	published := 0
	for i := 0; i < seedCount; i++ {
		event := seeder.GenerateEvent(i, seedCount, seedSpread)

		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}

		subject := messaging.SubjectEventsRaw + "." + event.EventID
		if _, err := client.PublishSync(ctx, subject, data); err != nil {
			return fmt.Errorf("publish event %d/%d: %w", i+1, seedCount, err)
		}
		published++

		if published%500 == 0 {
			fmt.Printf("  %d/%d published\n", published, seedCount)
		}
	}

	fmt.Printf("Done: %d events published\n", published)
	return nil
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "number of events to generate")
	seedCmd.Flags().DurationVar(&seedSpread, "spread", 0, "spread event timestamps across this window, ending now")
	rootCmd.AddCommand(seedCmd)
}
