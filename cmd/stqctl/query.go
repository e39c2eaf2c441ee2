package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/stquery/pkg/client"
)

const pollInterval = 200 * time.Millisecond

type queryFlags struct {
	addr    string
	apiKey  string
	follow  bool
	timeout time.Duration
	out     string
}

func newQueryCmd() *cobra.Command {
	flags := queryFlags{
		addr:   envOr("STQ_ADDR", "http://localhost:8080"),
		apiKey: os.Getenv("STQ_API_KEY"),
	}
	cmd := &cobra.Command{
		Use:   "query <encrypted.json|->",
		Short: "Submit an encrypted query and print the matching trajectories",
		Long: `Submit an encrypted query produced by encrypt-query. By default the command
waits for the result; with --follow it prints every progress event as one JSON
line before the final status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, flags, args[0])
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", flags.addr, "stqd base URL (env STQ_ADDR)")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", flags.apiKey, "stqd API key (env STQ_API_KEY)")
	cmd.Flags().BoolVarP(&flags.follow, "follow", "f", false, "stream progress events")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Minute, "overall timeout")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func runQuery(cmd *cobra.Command, flags queryFlags, path string) error {
	var q client.Query
	if err := decodeInput(cmd, path, &q); err != nil {
		return err
	}

	c, err := client.New(flags.addr,
		client.WithAPIKey(flags.apiKey),
		client.WithTimeout(flags.timeout),
		client.WithLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))),
	)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if !flags.follow {
		st, err := c.Queries().Submit(ctx, q, client.Wait())
		if err != nil && !errors.Is(err, client.ErrQueryFailed) {
			return err
		}
		if werr := writeOutput(cmd, flags.out, st); werr != nil {
			return werr
		}
		return err
	}

	st, err := c.Queries().Submit(ctx, q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.ErrOrStderr())
	if err := c.Queries().Events(ctx, st.ID, func(e client.Event) error {
		return enc.Encode(e)
	}); err != nil {
		return fmt.Errorf("follow query %s: %w", st.ID, err)
	}
	// The stream closes when the query finishes; its final state may land a moment later.
	st, err = c.Queries().Poll(ctx, st.ID, pollInterval)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd, flags.out, st); err != nil {
		return err
	}
	if st.Status == "failed" {
		return fmt.Errorf("%w: %s", client.ErrQueryFailed, st.Error)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
