package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/stquery/internal/config"
	"github.com/kailas-cloud/stquery/internal/crypto"
	"github.com/kailas-cloud/stquery/internal/db/driver"
	logpkg "github.com/kailas-cloud/stquery/internal/logger"
	octreerepo "github.com/kailas-cloud/stquery/internal/repository/octree"
	pointsrepo "github.com/kailas-cloud/stquery/internal/repository/points"
	"github.com/kailas-cloud/stquery/internal/usecase/ingest"
)

type loadFlags struct {
	configPath string
	partition  string
	publicKey  string
	workers    int
}

func newLoadCmd() *cobra.Command {
	var flags loadFlags
	cmd := &cobra.Command{
		Use:   "load <dataset.json|->",
		Short: "Encrypt a plaintext dataset and store it in a partition",
		Long: `Encrypt a plaintext octree with its trajectory points and write them to the
database of one partition. Database, partition and public key default to the
node configuration of the current environment.

Point dates are Unix seconds, RFC 3339 instants, or calendar dates
("20240131" or "2024-01-31"). A calendar date is combined with the point's
time of day.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, flags, args[0])
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: config/<env>.yaml)")
	cmd.Flags().StringVar(&flags.partition, "partition", "", "target partition id (default: partitions.local_id)")
	cmd.Flags().StringVar(&flags.publicKey, "public-key", "", "BGV public key file (default: crypto.public_key_path)")
	cmd.Flags().IntVar(&flags.workers, "workers", ingest.DefaultWorkers, "leaves encrypted concurrently")
	return cmd
}

func runLoad(cmd *cobra.Command, flags loadFlags, path string) error {
	ctx := cmd.Context()
	log := logpkg.FromContext(ctx)

	var (
		cfg config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFile(flags.configPath)
	} else {
		cfg, err = config.Load(cmd.Flag("env").Value.String())
	}
	if err != nil {
		return err
	}
	partition := flags.partition
	if partition == "" {
		partition = cfg.Partitions.LocalID
	}
	if partition == "" {
		return fmt.Errorf("no partition: set --partition or partitions.local_id")
	}
	publicKey := flags.publicKey
	if publicKey == "" {
		publicKey = cfg.Crypto.PublicKeyPath
	}

	var ds ingest.Dataset
	if err := decodeInput(cmd, path, &ds); err != nil {
		return err
	}
	engine, err := loadEngine(publicKey)
	if err != nil {
		return err
	}

	store, err := driver.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer store.Close()

	codec := crypto.Codec{}
	loader := ingest.New(engine, octreerepo.New(store, partition), pointsrepo.New(store, codec, partition), flags.workers)
	stats, err := loader.Load(ctx, ds)
	if err != nil {
		return err
	}
	log.Info("dataset loaded", zap.String("partition", partition),
		zap.Int("nodes", stats.Nodes), zap.Int("leaves", stats.Leaves), zap.Int("points", stats.Points))
	fmt.Fprintf(cmd.OutOrStdout(), "partition %s: %d nodes, %d leaves, %d points\n",
		partition, stats.Nodes, stats.Leaves, stats.Points)
	return nil
}
