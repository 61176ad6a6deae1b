package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veilstream/veilstream/internal/dlq"
	natsclient "github.com/veilstream/veilstream/internal/messaging/nats"
)

var (
	dlqListLimit   int
	dlqReplayLimit int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter queue commands",
	Long:  "Inspect, replay and purge dead-lettered events",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered events",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, cleanup, err := connectDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		entries, err := queue.List(ctx, dlqListLimit)
		if err != nil {
			return fmt.Errorf("list dead-letter entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("Dead-letter queue is empty")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%-36s  %-22s  %-9s  attempts=%d  first_failed=%s\n",
				e.Event.EventID, e.ErrorKind, e.ErrorClass,
				e.AttemptCount, e.FirstFailedAt.Format(time.RFC3339),
			)
		}
		fmt.Printf("\n%d entries\n", len(entries))
		return nil
	},
}

var dlqShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Dump dead-lettered events as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, cleanup, err := connectDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		entries, err := queue.List(ctx, dlqListLimit)
		if err != nil {
			return fmt.Errorf("list dead-letter entries: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay retryable dead-lettered events into the live feed",
	Long: `Republish RETRYABLE dead-letter entries to the event stream.

PERMANENT entries are never replayed; they need the underlying payload
or policy problem fixed first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, cleanup, err := connectDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		n, err := queue.Replay(ctx, dlqReplayLimit)
		if err != nil {
			return fmt.Errorf("replay dead-letter entries: %w", err)
		}
		fmt.Printf("Replayed %d events\n", n)
		return nil
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter queue stream statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, cleanup, err := connectDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stats, err := queue.Stats(ctx)
		if err != nil {
			return fmt.Errorf("get dead-letter stats: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all dead-lettered events",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print("This deletes every dead-letter entry. Type 'yes' to continue: ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "yes" {
			fmt.Println("Aborted")
			return nil
		}

		queue, cleanup, err := connectDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := queue.Purge(ctx); err != nil {
			return fmt.Errorf("purge dead-letter queue: %w", err)
		}
		fmt.Println("Dead-letter queue purged")
		return nil
	},
}

func connectDLQ() (*dlq.JetStreamQueue, func(), error) {
	client, err := natsclient.NewJetStreamClient(natsclient.Config{
		URL:  natsURL,
		Name: "veilctl",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	queue, err := dlq.NewJetStreamQueue(context.Background(), client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("open dead-letter queue: %w", err)
	}

	return queue, func() { client.Close() }, nil
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqListLimit, "limit", 100, "maximum entries to fetch")
	dlqShowCmd.Flags().IntVar(&dlqListLimit, "limit", 100, "maximum entries to fetch")
	dlqReplayCmd.Flags().IntVar(&dlqReplayLimit, "limit", 100, "maximum entries to replay")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqShowCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}
