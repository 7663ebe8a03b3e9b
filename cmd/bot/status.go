package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hat-ai-tgbot-go/internal/services/status"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		url     string
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of a running bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			snap, err := fetchStatus(ctx, url)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			_, err = fmt.Fprintln(out, status.Format(snap))
			return err
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:9090/status", "Status endpoint of the running bot")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")

	return cmd
}

func fetchStatus(ctx context.Context, url string) (status.Snapshot, error) {
	var snap status.Snapshot

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snap, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return snap, fmt.Errorf("failed to reach bot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("status endpoint responded with %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("failed to parse status: %w", err)
	}
	return snap, nil
}
