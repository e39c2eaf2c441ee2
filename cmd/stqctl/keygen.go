package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/stquery/internal/crypto"
)

func newKeygenCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a BGV key pair",
		Long: `Generate a BGV key pair under the default parameters.
The public key goes to every query node and to the data owner, the secret key
only to the oracle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := crypto.NewParameters()
			if err != nil {
				return err
			}
			sk, pk := crypto.GenerateKeys(params)

			pkPath := filepath.Join(dir, "bgv.pk")
			skPath := filepath.Join(dir, "bgv.sk")
			if err := crypto.SavePublicKey(pkPath, pk); err != nil {
				return err
			}
			if err := crypto.SaveSecretKey(skPath, sk); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\nsecret key: %s\n", pkPath, skPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "out", "o", "keys", "directory for bgv.pk and bgv.sk")
	return cmd
}

func loadEngine(path string) (*crypto.Engine, error) {
	params, err := crypto.NewParameters()
	if err != nil {
		return nil, err
	}
	pk, err := crypto.LoadPublicKey(path)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	return crypto.NewEngine(params, pk), nil
}
