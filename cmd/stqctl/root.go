package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/stquery/internal/config"
	logpkg "github.com/kailas-cloud/stquery/internal/logger"
	"github.com/kailas-cloud/stquery/internal/version"
)

type rootFlags struct {
	env      string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:          "stqctl",
		Short:        "Manage keys, encrypted datasets and queries of a stquery deployment",
		Version:      fmt.Sprintf("%s (%s)", version.Version, version.Commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logpkg.NewLogger(flags.env, flags.logLevel)
			if err != nil {
				return err
			}
			cmd.SetContext(logpkg.ContextWithLogger(cmd.Context(), logger))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.env, "env", config.GetEnv(), "environment: local, dev, prod or test")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newKeygenCmd(),
		newEncryptQueryCmd(),
		newLoadCmd(),
		newQueryCmd(),
	)
	return root
}

// readInput reads a file argument; "-" reads stdin.
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func decodeInput(cmd *cobra.Command, path string, dst any) error {
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeOutput writes v as indented JSON to path, or to stdout for "-".
func writeOutput(cmd *cobra.Command, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o600)
}
