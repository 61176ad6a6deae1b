package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pipeline processing stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printAdminJSON("/api/v1/stats")
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill commands",
}

var backfillStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backfill cursor and progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printAdminJSON("/api/v1/backfill")
	},
}

func printAdminJSON(path string) error {
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(apiURL + path)
	if err != nil {
		return fmt.Errorf("query admin API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read admin API response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin API returned status %d: %s", resp.StatusCode, body)
	}

	var pretty json.RawMessage = body
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}

func init() {
	backfillCmd.AddCommand(backfillStatusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(backfillCmd)
}
